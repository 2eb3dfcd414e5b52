package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/aggregate"
	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/pricing"
	"github.com/spigell/hh-pricer/internal/utils"
)

const defaultMaxLogLength = 200

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Estimate the salary range for one job description",
	Run: func(cmd *cobra.Command, _ []string) {
		price(cmd)
	},
}

func init() {
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().StringP("title", "t", "", "job title (required)")
	priceCmd.Flags().String("description", "", "job description text")
	priceCmd.Flags().String("description-file", "", "read the job description from a file")
	priceCmd.Flags().StringP("locale", "l", "", "locale of the position, e.g. ru-RU")
	priceCmd.Flags().Int("min-years", 0, "minimum years of experience")
	priceCmd.Flags().Int("max-years", 0, "maximum years of experience")
	priceCmd.Flags().BoolP("interactive", "i", false, "choose the matching role yourself when the match is ambiguous")

	priceCmd.MarkFlagRequired("title")
}

func price(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the hh-pricer", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	req, err := requestFromFlags(cmd)
	if err != nil {
		logger.Fatal("reading the request", zap.Error(err))
	}

	interactive, _ := cmd.Flags().GetBool("interactive")
	app, err := newApplication(ctx, config, logger, wiringOptions{Interactive: interactive})
	if err != nil {
		logger.Fatal("building the pricer", zap.Error(err))
	}
	defer app.Close()

	logger.Info("pricing",
		zap.String("title", req.Title),
		zap.String("description", utils.TruncateForLog(req.Description, maxLogLength(config))),
	)

	result, err := app.engine.Submit(ctx, req)
	if err != nil {
		if pricing.IsValidation(err) {
			logger.Fatal("invalid request", zap.Error(err))
		}
		logger.Fatal("pricing failed", zap.Error(err))
	}

	logger.Info("priced",
		zap.String("status", string(result.Status)),
		zap.Float64("target", result.Target),
		zap.Float64("confidence", result.Confidence),
		zap.String("band", aggregate.Band(result.Confidence)),
	)

	if err := writeJSON(os.Stdout, result); err != nil {
		logger.Fatal("writing the result", zap.Error(err))
	}
}

func requestFromFlags(cmd *cobra.Command) (pricing.Request, error) {
	flags := cmd.Flags()
	title, _ := flags.GetString("title")
	description, _ := flags.GetString("description")
	locale, _ := flags.GetString("locale")
	minYears, _ := flags.GetInt("min-years")
	maxYears, _ := flags.GetInt("max-years")

	if file, _ := flags.GetString("description-file"); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return pricing.Request{}, fmt.Errorf("reading description: %w", err)
		}
		description = string(raw)
	}

	req := pricing.Request{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Locale:      strings.TrimSpace(locale),
	}
	if minYears != 0 || maxYears != 0 {
		req.Experience = &pricing.ExperienceRange{MinYears: minYears, MaxYears: maxYears}
	}
	return req, req.Validate()
}

func maxLogLength(cfg *Config) int {
	if cfg.AI.Gemini != nil && cfg.AI.Gemini.MaxLogLength > 0 {
		return cfg.AI.Gemini.MaxLogLength
	}
	return defaultMaxLogLength
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
