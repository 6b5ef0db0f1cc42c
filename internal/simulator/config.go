package simulator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":8080"
	defaultPlayersDir        = "data/players"
	defaultCallbacksDir      = "data/callbacks"
	defaultHybridDir         = "data/hybrid-transactions"
	defaultAggregatorBaseURL = "https://aggregator.k8stestingpurposes.cc/api"
	defaultAggregatorTimeout = 30 * time.Second
	defaultAllowedOrigin     = "*"
	shutdownTimeout          = 5 * time.Second
)

// ErrInvalidConfig reports configuration that cannot start the simulator.
var ErrInvalidConfig = errors.New("invalid simulator config")

// Config aggregates runtime settings for the wallet simulator.
type Config struct {
	ListenAddr        string
	PlayersDir        string
	CallbacksDir      string
	HybridDir         string
	AggregatorBaseURL string
	AggregatorTimeout time.Duration
	AgentCode         string
	AgentKey          string
	AllowedOrigins    []string
	// VerifyCallbackSignature requires callback bodies to carry a valid sign field.
	VerifyCallbackSignature bool
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.PlayersDir = defaultIfEmpty(cfg.PlayersDir, defaultPlayersDir)
	cfg.CallbacksDir = defaultIfEmpty(cfg.CallbacksDir, defaultCallbacksDir)
	cfg.HybridDir = defaultIfEmpty(cfg.HybridDir, defaultHybridDir)
	cfg.AggregatorBaseURL = defaultIfEmpty(cfg.AggregatorBaseURL, defaultAggregatorBaseURL)
	if cfg.AggregatorTimeout <= 0 {
		cfg.AggregatorTimeout = defaultAggregatorTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	parsed, err := url.Parse(cfg.AggregatorBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: aggregator base url %q", ErrInvalidConfig, cfg.AggregatorBaseURL)
	}
	if cfg.PlayersDir == cfg.CallbacksDir || cfg.PlayersDir == cfg.HybridDir || cfg.CallbacksDir == cfg.HybridDir {
		return fmt.Errorf("%w: players, callbacks and hybrid directories must differ", ErrInvalidConfig)
	}
	if cfg.VerifyCallbackSignature && strings.TrimSpace(cfg.AgentKey) == "" {
		return fmt.Errorf("%w: agent key is required to verify callback signatures", ErrInvalidConfig)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
