package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hh-pricer/internal/aggregate"
	"github.com/spigell/hh-pricer/internal/headhunter"
	"github.com/spigell/hh-pricer/internal/matching"
	"github.com/spigell/hh-pricer/internal/retry"
	"github.com/spigell/hh-pricer/internal/scenario"
	"github.com/spigell/hh-pricer/internal/sources"
	"github.com/spigell/hh-pricer/internal/storage/postgres"
)

const (
	app = "hh-pricer"
)

type Config struct {
	Taxonomy          TaxonomyConfig     `mapstructure:"taxonomy"`
	Data              DataConfig         `mapstructure:"data"`
	Postgres          PostgresConfig     `mapstructure:"postgres"`
	Headhunter        HeadhunterConfig   `mapstructure:"headhunter"`
	ReportingCurrency string             `mapstructure:"reporting-currency"`
	RequestTimeout    time.Duration      `mapstructure:"request-timeout"`
	Matching          MatchingConfig     `mapstructure:"matching"`
	Embedding         EmbeddingConfig    `mapstructure:"embedding"`
	AI                AIConfig           `mapstructure:"ai"`
	Retry             retry.Policy       `mapstructure:"retry"`
	Sources           []sources.Config   `mapstructure:"sources"`
	Aggregation       aggregate.Config   `mapstructure:"aggregation"`
	Fallback          aggregate.Fallback `mapstructure:"fallback"`
	Scenarios         scenario.Config    `mapstructure:"scenarios"`
}

type TaxonomyConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type DataConfig struct {
	File string `mapstructure:"file"`
}

type PostgresConfig struct {
	DSNFile string `mapstructure:"dsn-file"`

	postgres.Config `mapstructure:",squash"`
}

type HeadhunterConfig struct {
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`

	headhunter.PostingsConfig `mapstructure:",squash"`
}

type MatchingConfig struct {
	MaxRoles int `mapstructure:"max-roles"`

	matching.Config `mapstructure:",squash"`
}

type EmbeddingConfig struct {
	// Provider is "hashing" (offline, default) or "gemini".
	Provider   string      `mapstructure:"provider"`
	Dimensions int         `mapstructure:"dimensions"`
	Cache      CacheConfig `mapstructure:"cache"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis-addr"`
	RedisPassword string        `mapstructure:"redis-password"`
	RedisDB       int           `mapstructure:"redis-db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type AIConfig struct {
	// Enabled allows the ai verifier; matching.verification-enabled decides when it runs.
	Enabled bool `mapstructure:"enabled"`
	// Provider is "gemini" or "manual".
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hh-pricer estimates a market salary range for a job description",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"headhunter.token-file":          "HH_TOKEN_FILE",
		"ai.gemini.api-key-file":         "HH_PRICER_GEMINI_API_KEY_FILE",
		"postgres.dsn-file":              "HH_PRICER_POSTGRES_DSN_FILE",
		"embedding.cache.redis-password": "HH_PRICER_REDIS_PASSWORD",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hh-pricer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// An explicit config must parse. Without one, defaults are used.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}
	if config == nil {
		config = &Config{}
	}

	return config, nil
}
