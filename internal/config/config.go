// Package config manages hcsim simulator configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/units"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete simulator configuration: the tunables every
// node's state machines and routing table are parameterised by, plus the
// ambient logging/metrics surfaces and any scenario-declared nodes.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Network NetworkConfig `koanf:"network"`
	Nodes   []NodeConfig  `koanf:"nodes"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// NetworkConfig holds the simulator-wide tunables: address bit length,
// state-machine timeout/period/retry constants, and the expiry windows for
// routing entries, visited bitmaps, and rendez-vous cache entries.
//
// Timeout fields are string literals in the same "<number>[unit]" grammar
// scenario files use (e.g. "100ms"), parsed via units.ParseTime.
type NetworkConfig struct {
	// AddressBitLength is the fixed width of every hypercube address in
	// this simulation run.
	AddressBitLength int `koanf:"address_bit_length"`

	WaitPAPTimeout    string `koanf:"wait_pap_timeout"`
	WaitPAPRetries    int    `koanf:"wait_pap_retries"`
	WaitPANCTimeout   string `koanf:"wait_panc_timeout"`
	HeardBitPeriod    string `koanf:"heard_bit_period"`
	WaitWaitMeTimeout string `koanf:"wait_waitme_timeout"`
	ListenHBTimeout   string `koanf:"listen_hb_timeout"`
	WaitSANTimeout    string `koanf:"wait_san_timeout"`
	WaitPANTimeout    string `koanf:"wait_pan_timeout"`

	// NeighboursBeforeParent is NEIGHBOURS_BEFORE_PARENT: how many
	// non-parent neighbours the backtracking forwarder tries before
	// falling back to the parent link.
	NeighboursBeforeParent int `koanf:"neighbours_before_parent"`

	// RoutingEntryTimeout expires an unused RoutingEntry.
	RoutingEntryTimeout string `koanf:"routing_entry_timeout"`
	// BitmapClearPeriod is how long a routing entry's visited bitmap
	// lives: the clear timer is armed when that entry's bitmap goes from
	// empty to non-empty, and clears only that bitmap when it fires.
	BitmapClearPeriod string `koanf:"bitmap_clear_period"`
	// RendezVousCacheTimeout expires a rendez-vous client's cached
	// (identity -> primary) entry after this long unused.
	RendezVousCacheTimeout string `koanf:"rendez_vous_cache_timeout"`
	// LookupTableReceivedTimeout is RENDEZ_VOUS_LOOKUP_TABLE_RECEIVED_TIMEOUT:
	// how long a disconnecting node's rendez-vous server waits for its
	// parent to acknowledge a handed-off LookupTable before giving up and
	// publishing ReadyForDisc unconditionally.
	LookupTableReceivedTimeout string `koanf:"lookup_table_received_timeout"`
}

// NodeConfig declares one node a scenario creates at startup, analogous to
// gobfd's declarative SessionConfig entries.
type NodeConfig struct {
	// Identity is the node's rendez-vous identity string.
	Identity string `koanf:"identity"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the simulator's documented
// defaults (spec §3/§4).
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Network: NetworkConfig{
			AddressBitLength:           32,
			WaitPAPTimeout:             "100ms",
			WaitPAPRetries:             5,
			WaitPANCTimeout:            "100ms",
			HeardBitPeriod:             "400ms",
			WaitWaitMeTimeout:          "10ms",
			ListenHBTimeout:            "500ms",
			WaitSANTimeout:             "100ms",
			WaitPANTimeout:             "500ms",
			NeighboursBeforeParent:     1,
			RoutingEntryTimeout:        "5m",
			BitmapClearPeriod:          "1m",
			RendezVousCacheTimeout:     "5s",
			LookupTableReceivedTimeout: "100ms",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for hcsim configuration.
// Variables are named HCSIM_<section>_<key>, e.g., HCSIM_NETWORK_ADDRESS_BIT_LENGTH.
const envPrefix = "HCSIM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (HCSIM_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms HCSIM_NETWORK_ADDRESS_BIT_LENGTH -> network.address_bit_length.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                           defaults.Metrics.Addr,
		"metrics.path":                           defaults.Metrics.Path,
		"log.level":                              defaults.Log.Level,
		"log.format":                             defaults.Log.Format,
		"network.address_bit_length":             defaults.Network.AddressBitLength,
		"network.wait_pap_timeout":               defaults.Network.WaitPAPTimeout,
		"network.wait_pap_retries":               defaults.Network.WaitPAPRetries,
		"network.wait_panc_timeout":              defaults.Network.WaitPANCTimeout,
		"network.heard_bit_period":               defaults.Network.HeardBitPeriod,
		"network.wait_waitme_timeout":            defaults.Network.WaitWaitMeTimeout,
		"network.listen_hb_timeout":              defaults.Network.ListenHBTimeout,
		"network.wait_san_timeout":               defaults.Network.WaitSANTimeout,
		"network.wait_pan_timeout":               defaults.Network.WaitPANTimeout,
		"network.neighbours_before_parent":       defaults.Network.NeighboursBeforeParent,
		"network.routing_entry_timeout":          defaults.Network.RoutingEntryTimeout,
		"network.bitmap_clear_period":            defaults.Network.BitmapClearPeriod,
		"network.rendez_vous_cache_timeout":      defaults.Network.RendezVousCacheTimeout,
		"network.lookup_table_received_timeout":  defaults.Network.LookupTableReceivedTimeout,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidAddressBitLength indicates the configured address width
	// is out of range.
	ErrInvalidAddressBitLength = errors.New("network.address_bit_length must be > 0")

	// ErrInvalidWaitPAPRetries indicates the PAP retry count is invalid.
	ErrInvalidWaitPAPRetries = errors.New("network.wait_pap_retries must be >= 1")

	// ErrInvalidNeighboursBeforeParent indicates a negative
	// NEIGHBOURS_BEFORE_PARENT.
	ErrInvalidNeighboursBeforeParent = errors.New("network.neighbours_before_parent must be >= 0")

	// ErrInvalidTimeout wraps a malformed timeout literal.
	ErrInvalidTimeout = errors.New("invalid timeout literal")

	// ErrEmptyNodeIdentity indicates a declared node has no identity.
	ErrEmptyNodeIdentity = errors.New("node identity must not be empty")

	// ErrDuplicateNodeIdentity indicates two declared nodes share an identity.
	ErrDuplicateNodeIdentity = errors.New("duplicate node identity")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Network.AddressBitLength <= 0 {
		return ErrInvalidAddressBitLength
	}
	if cfg.Network.WaitPAPRetries < 1 {
		return ErrInvalidWaitPAPRetries
	}
	if cfg.Network.NeighboursBeforeParent < 0 {
		return ErrInvalidNeighboursBeforeParent
	}

	for _, lit := range []string{
		cfg.Network.WaitPAPTimeout, cfg.Network.WaitPANCTimeout, cfg.Network.HeardBitPeriod,
		cfg.Network.WaitWaitMeTimeout, cfg.Network.ListenHBTimeout, cfg.Network.WaitSANTimeout,
		cfg.Network.WaitPANTimeout, cfg.Network.RoutingEntryTimeout, cfg.Network.BitmapClearPeriod,
		cfg.Network.RendezVousCacheTimeout, cfg.Network.LookupTableReceivedTimeout,
	} {
		if _, err := units.ParseTime(lit, units.Millisecond); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidTimeout, lit, err)
		}
	}

	return validateNodes(cfg.Nodes)
}

func validateNodes(nodes []NodeConfig) error {
	seen := make(map[string]struct{}, len(nodes))
	for i, nc := range nodes {
		if nc.Identity == "" {
			return fmt.Errorf("nodes[%d]: %w", i, ErrEmptyNodeIdentity)
		}
		if _, dup := seen[nc.Identity]; dup {
			return fmt.Errorf("nodes[%d] identity %q: %w", i, nc.Identity, ErrDuplicateNodeIdentity)
		}
		seen[nc.Identity] = struct{}{}
	}
	return nil
}

// -------------------------------------------------------------------------
// Derived accessors
// -------------------------------------------------------------------------

// Timeouts resolves every NetworkConfig timeout literal into units.Time,
// panicking only if called on a Config that has not passed Validate (every
// literal is already known-parseable at that point).
func (c *Config) Timeouts() Timeouts {
	parse := func(lit string) units.Time {
		t, err := units.ParseTime(lit, units.Millisecond)
		if err != nil {
			panic(fmt.Sprintf("config: unvalidated timeout literal %q: %v", lit, err))
		}
		return t
	}
	return Timeouts{
		WaitPAP:                 parse(c.Network.WaitPAPTimeout),
		WaitPANC:                parse(c.Network.WaitPANCTimeout),
		HeardBitPeriod:          parse(c.Network.HeardBitPeriod),
		WaitWaitMe:              parse(c.Network.WaitWaitMeTimeout),
		ListenHB:                parse(c.Network.ListenHBTimeout),
		WaitSAN:                 parse(c.Network.WaitSANTimeout),
		WaitPAN:                 parse(c.Network.WaitPANTimeout),
		RoutingEntry:            parse(c.Network.RoutingEntryTimeout),
		BitmapClear:             parse(c.Network.BitmapClearPeriod),
		RendezVousCache:         parse(c.Network.RendezVousCacheTimeout),
		LookupTableReceived:     parse(c.Network.LookupTableReceivedTimeout),
	}
}

// Timeouts is the resolved, typed counterpart of NetworkConfig's string
// literals, ready to feed hypercube.Params and the rendez-vous layer.
type Timeouts struct {
	WaitPAP             units.Time
	WaitPANC            units.Time
	HeardBitPeriod      units.Time
	WaitWaitMe          units.Time
	ListenHB            units.Time
	WaitSAN             units.Time
	WaitPAN             units.Time
	RoutingEntry        units.Time
	BitmapClear         units.Time
	RendezVousCache     units.Time
	LookupTableReceived units.Time
}

// HypercubeParams resolves c into the Params value every node a scenario
// creates under this configuration is built with.
func (c *Config) HypercubeParams() hypercube.Params {
	t := c.Timeouts()
	return hypercube.Params{
		AddressBitLen:          c.Network.AddressBitLength,
		WaitPAPTimeout:         t.WaitPAP,
		WaitPAPRetries:         c.Network.WaitPAPRetries,
		WaitPANCTimeout:        t.WaitPANC,
		HeardBitPeriod:         t.HeardBitPeriod,
		WaitWaitMeTimeout:      t.WaitWaitMe,
		ListenHBTimeout:        t.ListenHB,
		WaitSANTimeout:         t.WaitSAN,
		WaitPANTimeout:         t.WaitPAN,
		NeighboursBeforeParent: c.Network.NeighboursBeforeParent,
		RoutingEntryTimeout:    t.RoutingEntry,
		BitmapClearPeriod:      t.BitmapClear,
	}
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
