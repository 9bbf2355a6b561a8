// Package config loads the memory core configuration from YAML.
//
// Unknown keys are rejected, so a typo like "stmm_halflife" fails loudly
// instead of silently keeping the default. The HMAC secret may be supplied
// through the MOTIFCORE_HMAC_SECRET environment variable, which overrides
// the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/motifcore/internal/engine"
	"github.com/roach88/motifcore/internal/feedback"
	"github.com/roach88/motifcore/internal/gate"
	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/memory"
	"github.com/roach88/motifcore/internal/store"
)

// EnvSecret names the environment variable overriding hmac_secret.
const EnvSecret = "MOTIFCORE_HMAC_SECRET"

// DefaultDBPath is the replay store location when none is configured.
const DefaultDBPath = "motifcore.db"

// DefaultCycleInterval is the period of the decay sweep.
const DefaultCycleInterval = time.Second

// Config is the full set of recognized options.
type Config struct {
	STMMHalfLife       float64 `yaml:"stmm_half_life"`
	LTMMHalfLife       float64 `yaml:"ltmm_half_life"`
	PromotionThreshold float64 `yaml:"promotion_threshold"`
	DemotionDelta      float64 `yaml:"demotion_delta"`
	TickBufferSize     int     `yaml:"tick_buffer_size"`
	MaxParallel        int     `yaml:"max_parallel"`

	// LatencyBudget is the initial admission-latency budget in seconds.
	LatencyBudget float64 `yaml:"latency_budget"`

	// HMACSecret signs and verifies ticks. Empty runs unauthenticated.
	HMACSecret string `yaml:"hmac_secret"`

	DyadCacheSize int `yaml:"dyad_cache_size"`
	LedgerRowCap  int `yaml:"ledger_row_cap"`
	DedupCapacity int `yaml:"dedup_capacity"`
	SoftCap       int `yaml:"soft_cap"`

	ArchivePath       string        `yaml:"archive_path"`
	ArchiveReload     bool          `yaml:"archive_reload"`
	ArchiveRetryDelay time.Duration `yaml:"archive_retry_delay"`

	DBPath   string `yaml:"db_path"`
	DBDriver string `yaml:"db_driver"`

	AdmitTimeout  time.Duration `yaml:"admit_timeout"`
	BaseInterval  time.Duration `yaml:"base_interval"`
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// MetricsAddr is the introspection server listen address. Empty
	// disables the server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		STMMHalfLife:       memory.DefaultShortHalfLife,
		LTMMHalfLife:       memory.DefaultLongHalfLife,
		PromotionThreshold: memory.DefaultPromotionThreshold,
		DemotionDelta:      memory.DefaultDemotionDelta,
		TickBufferSize:     ledger.DefaultBufferSize,
		MaxParallel:        gate.DefaultMaxParallel,
		LatencyBudget:      feedback.DefaultLatencyBudget.Seconds(),
		DyadCacheSize:      memory.DefaultDyadCacheSize,
		LedgerRowCap:       ledger.DefaultRowCap,
		DedupCapacity:      ledger.DefaultDedupCapacity,
		SoftCap:            memory.DefaultSoftCap,
		ArchiveReload:      true,
		ArchiveRetryDelay:  memory.DefaultArchiveRetryDelay,
		DBPath:             DefaultDBPath,
		DBDriver:           store.DriverCGO,
		AdmitTimeout:       engine.DefaultAdmitTimeout,
		BaseInterval:       engine.DefaultBaseInterval,
		MinInterval:        engine.DefaultMinInterval,
		MaxInterval:        engine.DefaultMaxInterval,
		CycleInterval:      DefaultCycleInterval,
	}
}

// Load reads path over the defaults, applies the environment override and
// validates the result. An empty path yields the defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSecret); ok {
		c.HMACSecret = v
	}
}

// Validate reports every invalid option.
func (c Config) Validate() error {
	var errs []error
	if err := c.Memory().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Feedback().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TickBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("tick_buffer_size must be positive, got %d", c.TickBufferSize))
	}
	if c.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("max_parallel must be positive, got %d", c.MaxParallel))
	}
	if c.DedupCapacity <= 0 {
		errs = append(errs, fmt.Errorf("dedup_capacity must be positive, got %d", c.DedupCapacity))
	}
	if c.LedgerRowCap < 0 {
		errs = append(errs, fmt.Errorf("ledger_row_cap must not be negative, got %d", c.LedgerRowCap))
	}
	if c.DBDriver != store.DriverCGO && c.DBDriver != store.DriverPureGo {
		errs = append(errs, fmt.Errorf("db_driver must be %q or %q, got %q", store.DriverCGO, store.DriverPureGo, c.DBDriver))
	}
	if c.AdmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("admit_timeout must be positive, got %v", c.AdmitTimeout))
	}
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		errs = append(errs, fmt.Errorf("interval bounds [%v, %v] invalid", c.MinInterval, c.MaxInterval))
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, fmt.Errorf("cycle_interval must be positive, got %v", c.CycleInterval))
	}
	return errors.Join(errs...)
}

// Secret returns the HMAC secret, nil when unset.
func (c Config) Secret() []byte {
	if c.HMACSecret == "" {
		return nil
	}
	return []byte(c.HMACSecret)
}

// Ledger returns the ledger sizing.
func (c Config) Ledger() ledger.Config {
	return ledger.Config{
		BufferSize:    c.TickBufferSize,
		RowCap:        c.LedgerRowCap,
		DedupCapacity: c.DedupCapacity,
	}
}

// Memory returns the motif memory parameters.
func (c Config) Memory() memory.Config {
	return memory.Config{
		ShortHalfLife:      c.STMMHalfLife,
		LongHalfLife:       c.LTMMHalfLife,
		PromotionThreshold: c.PromotionThreshold,
		DemotionDelta:      c.DemotionDelta,
		SoftCap:            c.SoftCap,
		DyadCacheSize:      c.DyadCacheSize,
		ArchivePath:        c.ArchivePath,
		ArchiveReload:      c.ArchiveReload,
		ArchiveRetryDelay:  c.ArchiveRetryDelay,
	}
}

// Feedback returns the coordinator parameters with the configured budget.
func (c Config) Feedback() feedback.Config {
	fc := feedback.DefaultConfig()
	fc.LatencyBudget = time.Duration(c.LatencyBudget * float64(time.Second))
	return fc
}

// Engine returns the emission loop parameters.
func (c Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.AdmitTimeout = c.AdmitTimeout
	ec.BaseInterval = c.BaseInterval
	ec.MinInterval = c.MinInterval
	ec.MaxInterval = c.MaxInterval
	ec.Secret = c.Secret()
	return ec
}
