// Package config loads runtime settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Ledger modes.
const (
	LedgerLocal  = "local"
	LedgerEth    = "eth"
	LedgerMemory = "memory"
)

// Config holds runtime configuration for the codeshield services.
type Config struct {
	Addr           string        `env:"CODESHIELD_ADDR,default=:8080"`
	MaxConcurrency int           `env:"CODESHIELD_MAX_CONCURRENCY,default=3"`
	MaxSourceBytes int           `env:"CODESHIELD_MAX_SOURCE_BYTES,default=102400"`
	ToolTimeout    time.Duration `env:"CODESHIELD_TOOL_TIMEOUT,default=60s"`
	RulesTimeout   time.Duration `env:"CODESHIELD_RULES_TIMEOUT,default=10s"`
	LedgerTimeout  time.Duration `env:"CODESHIELD_LEDGER_TIMEOUT,default=60s"`
	RequestTimeout time.Duration `env:"CODESHIELD_REQUEST_TIMEOUT,default=5s"`
	TopFindings    int           `env:"CODESHIELD_TOP_FINDINGS,default=10"`
	ModelVersion   string        `env:"CODESHIELD_MODEL_VERSION,default=codeshield-v0.1.0"`
	Analyzers      []string      `env:"CODESHIELD_ANALYZERS,default=pattern,slither,mythril"`
	RulesURL       string        `env:"CODESHIELD_RULES_URL"`
	RulesFile      string        `env:"CODESHIELD_RULES_FILE"`
	LedgerMode     string        `env:"CODESHIELD_LEDGER_MODE,default=memory"`

	DatabaseURL    string `env:"DATABASE_URL"`
	NATSURL        string `env:"NATS_URL"`
	RedisURL       string `env:"REDIS_URL"`
	EthRPCURL      string `env:"ETH_RPC_URL"`
	EthPrivateKey  string `env:"ETH_PRIVATE_KEY"`
	LedgerContract string `env:"LEDGER_CONTRACT"`

	S3Endpoint       string        `env:"S3_ENDPOINT"`
	S3Bucket         string        `env:"S3_BUCKET"`
	S3AccessKey      string        `env:"S3_ACCESS_KEY"`
	S3SecretKey      string        `env:"S3_SECRET_KEY"`
	S3Region         string        `env:"S3_REGION,default=us-east-1"`
	S3ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE,default=true"`
	ReportURLTTL     time.Duration `env:"CODESHIELD_REPORT_URL_TTL,default=15m"`

	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimit      int      `env:"CODESHIELD_RATE_LIMIT,default=60"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("CODESHIELD_MAX_CONCURRENCY must be positive"))
	}
	if c.MaxSourceBytes <= 0 {
		errs = append(errs, errors.New("CODESHIELD_MAX_SOURCE_BYTES must be positive"))
	}
	if c.TopFindings <= 0 {
		errs = append(errs, errors.New("CODESHIELD_TOP_FINDINGS must be positive"))
	}
	switch strings.ToLower(c.LedgerMode) {
	case LedgerMemory:
	case LedgerLocal:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the local ledger"))
		}
	case LedgerEth:
		if c.EthRPCURL == "" || c.EthPrivateKey == "" || c.LedgerContract == "" {
			errs = append(errs, errors.New("ETH_RPC_URL, ETH_PRIVATE_KEY and LEDGER_CONTRACT are required for the eth ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CODESHIELD_LEDGER_MODE %q", c.LedgerMode))
	}
	if c.S3Bucket != "" && c.S3Endpoint == "" {
		errs = append(errs, errors.New("S3_ENDPOINT is required when S3_BUCKET is set"))
	}
	return errors.Join(errs...)
}

// ArchiveEnabled reports whether reports are uploaded to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != "" && c.S3Endpoint != ""
}
