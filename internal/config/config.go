// Package config provides configuration loading for reviewd.
//
// Configuration is read from a YAML file and overridden by REVIEWD_*
// environment variables. See LoadWithFile for precedence and path rules.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete reviewd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Store         StoreConfig         `koanf:"store"`
	GitHub        GitHubConfig        `koanf:"github"`
	NATS          NATSConfig          `koanf:"nats"`
	Redis         RedisConfig         `koanf:"redis"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// OrchestratorConfig controls the review control loop.
type OrchestratorConfig struct {
	// Scope prefixes every published check name ("<scope>:gate:<gate>").
	Scope          string        `koanf:"scope"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	MaxParallel    int           `koanf:"max_parallel"`
	FailFast       bool          `koanf:"fail_fast"`
	DefaultTier    string        `koanf:"default_tier"`
	// PolicyFile points at a gate policy YAML. Empty uses the built-in catalog.
	PolicyFile string `koanf:"policy_file"`
	// SkipEvidenceScrub turns off secret redaction of worker evidence.
	SkipEvidenceScrub bool `koanf:"skip_evidence_scrub"`
	// SecretsAllowlist is a TOML allowlist of patterns the scrubber keeps.
	SecretsAllowlist string `koanf:"secrets_allowlist"`
	// WorkspaceRoot holds per change set git checkouts. Empty runs
	// workers without a checkout.
	WorkspaceRoot string `koanf:"workspace_root"`
}

// StoreConfig selects the ledger persistence backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite, postgres
	DSN    Secret `koanf:"dsn"`
}

// GitHubConfig holds hosting platform credentials.
type GitHubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Token         Secret `koanf:"token"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	BaseURL       string `koanf:"base_url"`
	DraftLabel    string `koanf:"draft_label"`
	ReadyLabel    string `koanf:"ready_label"`
}

// NATSConfig holds event publishing configuration.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedisConfig holds the dispatch lock and check de-duplication backend.
type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	Password Secret        `koanf:"password"`
	DB       int           `koanf:"db"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

// TemporalConfig holds durable execution settings.
type TemporalConfig struct {
	Host      string `koanf:"host"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// ObservabilityConfig holds OpenTelemetry and logging configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

var validStoreDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validTiers = map[string]bool{
	"pr_fast":    true,
	"merge_gate": true,
	"nightly":    true,
	"all":        true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server shutdown timeout cannot be negative"))
	}

	if strings.TrimSpace(c.Orchestrator.Scope) == "" {
		errs = append(errs, errors.New("orchestrator scope is required"))
	}
	if strings.Contains(c.Orchestrator.Scope, ":") {
		errs = append(errs, fmt.Errorf("orchestrator scope %q must not contain ':'", c.Orchestrator.Scope))
	}
	if c.Orchestrator.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("orchestrator max_parallel must be >= 1, got %d", c.Orchestrator.MaxParallel))
	}
	if c.Orchestrator.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator default_timeout must be positive"))
	}
	if !validTiers[c.Orchestrator.DefaultTier] {
		errs = append(errs, fmt.Errorf("unknown default tier %q", c.Orchestrator.DefaultTier))
	}

	if !validStoreDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Errorf("unknown store driver %q (want memory, sqlite or postgres)", c.Store.Driver))
	}
	if c.Store.Driver != "memory" && !c.Store.DSN.IsSet() {
		errs = append(errs, fmt.Errorf("store dsn is required for driver %q", c.Store.Driver))
	}

	if c.GitHub.Enabled && !c.GitHub.Token.IsSet() {
		errs = append(errs, errors.New("github token is required when github is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats url is required when nats is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis addr is required when redis is enabled"))
	}

	return errors.Join(errs...)
}
