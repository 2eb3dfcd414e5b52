package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/metrics"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect the role taxonomy",
}

var rolesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Keyword search over canonical roles",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		searchRoles(cmd, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesSearchCmd)

	rolesSearchCmd.Flags().IntP("limit", "n", 10, "maximum number of roles to show")
}

func searchRoles(cmd *cobra.Command, query string) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	app, err := openRoles(cmd.Context(), config, logger)
	if err != nil {
		logger.Fatal("loading the taxonomy", zap.Error(err))
	}
	defer app.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	hits, err := app.taxonomy.Catalog().Search(query, limit)
	if err != nil {
		app.Close()
		logger.Fatal("searching roles", zap.Error(err))
	}

	if len(hits) == 0 {
		logger.Info("no roles found", zap.String("query", query))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tFAMILY\tSCORE")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n", h.Role.ID, h.Role.Title, h.Role.Family, h.Score)
	}
	w.Flush()
}

// openRoles loads only the taxonomy, without sources or the orchestrator.
func openRoles(ctx context.Context, cfg *Config, log *zap.Logger) (*application, error) {
	if strings.TrimSpace(cfg.Taxonomy.File) == "" {
		return nil, errors.New("taxonomy.file is required")
	}

	a := &application{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.New(metrics.WithRegistry(prometheus.NewRegistry())),
	}
	if _, err := a.openTaxonomy(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
