package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/pricing"
)

const defaultConcurrency = 4

// BatchFile is the input of the batch command.
type BatchFile struct {
	Requests []pricing.Request `yaml:"requests"`
}

// BatchItem is one line of batch output.
type BatchItem struct {
	Index   int             `json:"index"`
	Request pricing.Request `json:"request"`
	Result  *pricing.Result `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Price every request from a YAML file concurrently",
	Run: func(cmd *cobra.Command, _ []string) {
		batch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("file", "f", "", "YAML file with a list of requests (required)")
	batchCmd.Flags().StringP("output", "o", "", "write results to a file instead of stdout")
	batchCmd.Flags().IntP("concurrency", "c", defaultConcurrency, "requests priced in parallel")
	batchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	batchCmd.Flags().Bool("watch", false, "reload the taxonomy when its file changes")

	batchCmd.MarkFlagRequired("file")
	viper.BindPFlag("taxonomy.watch", batchCmd.Flags().Lookup("watch"))
}

type batchOptions struct {
	File        string
	Output      string
	Concurrency int
	MetricsAddr string
}

func batch(cmd *cobra.Command) {
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

	var opts batchOptions
	opts.File, _ = cmd.Flags().GetString("file")
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")

	if err := runBatch(ctx, config, logger, opts); err != nil {
		stop()
		logger.Fatal("batch failed", zap.Error(err))
	}
}

// runBatch releases everything it opened before returning, so callers may
// exit right after it.
func runBatch(ctx context.Context, config *Config, logger *zap.Logger, opts batchOptions) error {
	requests, err := readBatch(opts.File)
	if err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	logger.Info("starting the batch", zap.String("version", version), zap.Int("requests", len(requests)))

	registry := prometheus.NewRegistry()
	app, err := newApplication(ctx, config, logger, wiringOptions{Registry: registry})
	if err != nil {
		return fmt.Errorf("building the pricer: %w", err)
	}
	defer app.Close()

	if opts.MetricsAddr != "" {
		srv := serveMetrics(opts.MetricsAddr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if config.Taxonomy.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := app.taxonomy.Watch(watchCtx); err != nil {
				logger.Error("taxonomy watcher stopped", zap.Error(err))
			}
		}()
	}

	items := submitAll(ctx, app.engine, requests, opts.Concurrency, logger)

	var out io.Writer = os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("creating the output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, items); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

func readBatch(path string) ([]pricing.Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f BatchFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if len(f.Requests) == 0 {
		return nil, fmt.Errorf("%s contains no requests", path)
	}
	return f.Requests, nil
}

type submitter interface {
	Submit(ctx context.Context, req pricing.Request) (*pricing.Result, error)
}

// submitAll never aborts on a single failed request; failures are reported
// per item.
func submitAll(ctx context.Context, engine submitter, requests []pricing.Request, concurrency int, logger *zap.Logger) []BatchItem {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	items := make([]BatchItem, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range requests {
		g.Go(func() error {
			item := BatchItem{Index: i, Request: req}
			result, err := engine.Submit(gctx, req)
			if err != nil {
				item.Error = err.Error()
				logger.Warn("request failed", zap.Int("index", i), zap.Error(err))
			} else {
				item.Result = result
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Error != "" {
			failed++
		}
	}
	logger.Info("batch finished", zap.Int("requests", len(items)), zap.Int("failed", failed))
	return items
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
