package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/aggregate"
	"github.com/spigell/hh-pricer/internal/ai"
	"github.com/spigell/hh-pricer/internal/ai/cache"
	"github.com/spigell/hh-pricer/internal/ai/gemini"
	"github.com/spigell/hh-pricer/internal/ai/hashing"
	"github.com/spigell/hh-pricer/internal/ai/manual"
	"github.com/spigell/hh-pricer/internal/engine"
	"github.com/spigell/hh-pricer/internal/headhunter"
	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/matching"
	"github.com/spigell/hh-pricer/internal/metrics"
	"github.com/spigell/hh-pricer/internal/pricing"
	"github.com/spigell/hh-pricer/internal/scenario"
	"github.com/spigell/hh-pricer/internal/secrets"
	"github.com/spigell/hh-pricer/internal/sources"
	"github.com/spigell/hh-pricer/internal/storage/filestore"
	"github.com/spigell/hh-pricer/internal/storage/postgres"
	"github.com/spigell/hh-pricer/internal/taxonomy"
)

const (
	backendFile       = "file"
	backendPostgres   = "postgres"
	backendHeadhunter = "headhunter"

	providerHashing = "hashing"
	providerGemini  = "gemini"
	providerManual  = "manual"
)

type wiringOptions struct {
	// Interactive makes the operator the verifier.
	Interactive bool
	Registry    *prometheus.Registry
}

// application holds every long-lived component built from the config.
type application struct {
	cfg      *Config
	logger   *zap.Logger
	metrics  *metrics.Recorder
	taxonomy *taxonomy.Holder
	engine   *engine.Orchestrator

	generator *gemini.Generator
	files     *filestore.Store
	postgres  *postgres.Store
	closers   []func() error
}

func newApplication(ctx context.Context, cfg *Config, log *zap.Logger, opts wiringOptions) (*application, error) {
	if strings.TrimSpace(cfg.Taxonomy.File) == "" {
		return nil, errors.New("taxonomy.file is required")
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	a := &application{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.New(metrics.WithRegistry(registry)),
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	embedder, err := a.openTaxonomy(ctx)
	if err != nil {
		return nil, err
	}

	matchCfg := cfg.Matching.Config
	if opts.Interactive {
		matchCfg.VerificationEnabled = true
	}

	var verifier ai.Verifier
	if matchCfg.VerificationEnabled {
		verifier, err = a.verifier(ctx, opts.Interactive)
		if err != nil {
			return nil, fmt.Errorf("building verifier: %w", err)
		}
		if verifier == nil {
			log.Warn("matching.verification-enabled is set but ai is disabled, ambiguous matches keep the top candidate")
		}
	}
	matcher, err := matching.NewMatcher(matchCfg, matching.Deps{
		Embedder: embedder,
		Index:    a.taxonomy,
		Verifier: verifier,
		Recorder: a.metrics,
		Logger:   log.Named("matcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("building matcher: %w", err)
	}

	srcs, err := a.sources(ctx)
	if err != nil {
		return nil, err
	}

	aggregator, err := aggregate.New(cfg.Aggregation, log.Named("aggregator"))
	if err != nil {
		return nil, fmt.Errorf("aggregation config: %w", err)
	}

	scenarios, err := scenario.New(cfg.Scenarios)
	if err != nil {
		return nil, fmt.Errorf("scenarios config: %w", err)
	}

	a.engine, err = engine.New(engine.Config{
		RequestTimeout:    cfg.RequestTimeout,
		MaxRoles:          cfg.Matching.MaxRoles,
		ReportingCurrency: cfg.ReportingCurrency,
		Fallback:          cfg.Fallback,
	}, engine.Deps{
		Matcher:    matcher,
		Sources:    srcs,
		Aggregator: aggregator,
		Scenarios:  scenarios,
		Recorder:   a.metrics,
		Logger:     log.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}

	ok = true
	return a, nil
}

// openTaxonomy builds the configured embedder and loads the role taxonomy with it.
func (a *application) openTaxonomy(ctx context.Context) (ai.Embedder, error) {
	embedder, err := a.embedder(ctx)
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	a.taxonomy, err = taxonomy.Open(ctx, a.cfg.Taxonomy.File, taxonomy.Options{
		Embedder: embedder,
		Recorder: a.metrics,
		Logger:   a.logger.Named("taxonomy"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.taxonomy.Close)
	return embedder, nil
}

// Close releases connections in reverse order of creation.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing a component", zap.Error(err))
		}
	}
	a.closers = nil
}

// gemini builds the shared Gemini client on first use.
func (a *application) gemini(ctx context.Context) (*gemini.Generator, error) {
	if a.generator != nil {
		return a.generator, nil
	}

	cfg := a.cfg.AI.Gemini
	if cfg == nil {
		cfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or HH_PRICER_GEMINI_API_KEY_FILE)", err)
	}

	g, err := gemini.NewGenerator(ctx, apiKey, cfg.Model, a.cfg.Retry,
		logger.WithProvider(a.logger, providerGemini, cfg.Model))
	if err != nil {
		return nil, err
	}
	a.generator = g
	return g, nil
}

func (a *application) embedder(ctx context.Context) (ai.Embedder, error) {
	cfg := a.cfg.Embedding

	var (
		base      ai.Embedder
		namespace string
	)
	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "", providerHashing:
		base = hashing.New(cfg.Dimensions)
		namespace = fmt.Sprintf("%s:%d", providerHashing, base.Dimensions())
	case providerGemini:
		g, err := a.gemini(ctx)
		if err != nil {
			return nil, err
		}
		model := ""
		if a.cfg.AI.Gemini != nil {
			model = a.cfg.AI.Gemini.EmbeddingModel
		}
		e, err := gemini.NewEmbedder(g, model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		base = e
		namespace = fmt.Sprintf("%s:%s:%d", providerGemini, model, e.Dimensions())
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.Cache.RedisAddr == "" {
		return base, nil
	}

	store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("embedding cache enabled", zap.String("redis", cfg.Cache.RedisAddr))

	return cache.New(base, store, namespace, cfg.Cache.TTL, a.logger.Named("embedding-cache")), nil
}

// verifier returns nil when verification is off.
func (a *application) verifier(ctx context.Context, interactive bool) (ai.Verifier, error) {
	if interactive {
		return manual.New(), nil
	}
	if !a.cfg.AI.Enabled {
		return nil, nil
	}

	switch provider := strings.ToLower(strings.TrimSpace(a.cfg.AI.Provider)); provider {
	case "", providerGemini:
		g, err := a.gemini(ctx)
		if err != nil {
			return nil, err
		}
		maxLog := 0
		if a.cfg.AI.Gemini != nil {
			maxLog = a.cfg.AI.Gemini.MaxLogLength
		}
		return gemini.NewVerifier(g, maxLog, logger.WithProvider(a.logger, providerGemini, g.Model())), nil
	case providerManual:
		return manual.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", a.cfg.AI.Provider)
	}
}

func (a *application) sources(ctx context.Context) ([]engine.Source, error) {
	if len(a.cfg.Sources) == 0 {
		a.logger.Warn("no sources configured, every estimate will use the fallback table")
	}

	out := make([]engine.Source, 0, len(a.cfg.Sources))
	for _, raw := range a.cfg.Sources {
		cfg := raw.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		log := logger.WithSource(a.logger, cfg.ID, "")
		opts := sources.OptionsFromConfig(cfg, a.cfg.ReportingCurrency, log)

		adapter, err := a.adapter(ctx, cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
		}

		log.Info("source configured", zap.String("kind", cfg.Kind), zap.String("backend", cfg.Backend))
		out = append(out, engine.Source{Adapter: adapter, Timeout: cfg.Timeout})
	}
	return out, nil
}

func (a *application) adapter(ctx context.Context, cfg sources.Config, opts sources.Options) (sources.Adapter, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = backendFile
	}

	var (
		benchmarks sources.BenchmarkStore
		postings   sources.PostingStore
	)

	switch backend {
	case backendFile:
		store, err := a.fileStore()
		if err != nil {
			return nil, err
		}
		benchmarks, postings = store, store.PostingSource(cfg.ID)
	case backendPostgres:
		store, err := a.postgresStore(ctx)
		if err != nil {
			return nil, err
		}
		benchmarks, postings = store, store.PostingSource(cfg.ID)
	case backendHeadhunter:
		if cfg.Kind != string(pricing.SourceKindPostings) {
			return nil, errors.New("the headhunter backend only serves postings")
		}
		client, err := a.headhunter()
		if err != nil {
			return nil, err
		}
		postings = headhunter.NewPostingStore(client, a.taxonomy, a.cfg.Headhunter.PostingsConfig, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.Kind == string(pricing.SourceKindSurvey) {
		return sources.NewSurvey(cfg.ID, benchmarks, opts), nil
	}
	return sources.NewPostings(cfg.ID, postings, opts), nil
}

func (a *application) fileStore() (*filestore.Store, error) {
	if a.files != nil {
		return a.files, nil
	}
	if strings.TrimSpace(a.cfg.Data.File) == "" {
		return nil, errors.New("data.file is required for the file backend")
	}
	store, err := filestore.Load(a.cfg.Data.File)
	if err != nil {
		return nil, err
	}
	a.files = store
	return store, nil
}

func (a *application) postgresStore(ctx context.Context) (*postgres.Store, error) {
	if a.postgres != nil {
		return a.postgres, nil
	}
	dsn, err := secrets.Load(secrets.Source{
		Name: "postgres dsn",
		File: a.cfg.Postgres.DSNFile,
		Env:  "HH_PRICER_POSTGRES_DSN",
	})
	if err != nil {
		return nil, err
	}
	store, err := postgres.Open(ctx, dsn, a.cfg.Postgres.Config, a.logger.Named("postgres"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.postgres = store
	return store, nil
}

func (a *application) headhunter() (*headhunter.Client, error) {
	// Vacancy search works anonymously; a token only raises rate limits.
	token, err := secrets.Load(secrets.Source{
		Name:     "headhunter token",
		File:     a.cfg.Headhunter.TokenFile,
		Optional: true,
	})
	if err != nil {
		return nil, err
	}

	client := headhunter.New(a.logger.Named("headhunter"), token)
	if a.cfg.Headhunter.UserAgent != "" {
		client.UserAgent = a.cfg.Headhunter.UserAgent
	}
	return client, nil
}
