package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dantte-lp/hcsim/internal/config"
	"github.com/dantte-lp/hcsim/internal/units"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Network.AddressBitLength != 32 {
		t.Errorf("Network.AddressBitLength = %d, want 32", cfg.Network.AddressBitLength)
	}

	if cfg.Network.NeighboursBeforeParent != 1 {
		t.Errorf("Network.NeighboursBeforeParent = %d, want 1", cfg.Network.NeighboursBeforeParent)
	}

	if cfg.Network.WaitPAPRetries != 5 {
		t.Errorf("Network.WaitPAPRetries = %d, want 5", cfg.Network.WaitPAPRetries)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestDefaultConfigTimeouts(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	tos := cfg.Timeouts()

	if tos.WaitPAP != 100*units.Millisecond {
		t.Errorf("WaitPAP = %v, want 100ms", tos.WaitPAP)
	}
	if tos.HeardBitPeriod != 400*units.Millisecond {
		t.Errorf("HeardBitPeriod = %v, want 400ms", tos.HeardBitPeriod)
	}
	if tos.WaitWaitMe != 10*units.Millisecond {
		t.Errorf("WaitWaitMe = %v, want 10ms", tos.WaitWaitMe)
	}
	if tos.RoutingEntry != 5*units.Minute {
		t.Errorf("RoutingEntry = %v, want 5m", tos.RoutingEntry)
	}
	if tos.BitmapClear != units.Minute {
		t.Errorf("BitmapClear = %v, want 1m", tos.BitmapClear)
	}
	if tos.RendezVousCache != 5*units.Second {
		t.Errorf("RendezVousCache = %v, want 5s", tos.RendezVousCache)
	}
	if tos.LookupTableReceived != 100*units.Millisecond {
		t.Errorf("LookupTableReceived = %v, want 100ms", tos.LookupTableReceived)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
network:
  address_bit_length: 16
  wait_pap_timeout: "50ms"
  wait_pap_retries: 3
  neighbours_before_parent: 2
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Network.AddressBitLength != 16 {
		t.Errorf("Network.AddressBitLength = %d, want 16", cfg.Network.AddressBitLength)
	}

	if cfg.Network.WaitPAPTimeout != "50ms" {
		t.Errorf("Network.WaitPAPTimeout = %q, want %q", cfg.Network.WaitPAPTimeout, "50ms")
	}

	if cfg.Network.WaitPAPRetries != 3 {
		t.Errorf("Network.WaitPAPRetries = %d, want 3", cfg.Network.WaitPAPRetries)
	}

	if cfg.Network.NeighboursBeforeParent != 2 {
		t.Errorf("Network.NeighboursBeforeParent = %d, want 2", cfg.Network.NeighboursBeforeParent)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level and network.address_bit_length.
	// Everything else should inherit from defaults.
	yamlContent := `
log:
  level: "warn"
network:
  address_bit_length: 8
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Network.AddressBitLength != 8 {
		t.Errorf("Network.AddressBitLength = %d, want 8", cfg.Network.AddressBitLength)
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Network.NeighboursBeforeParent != 1 {
		t.Errorf("Network.NeighboursBeforeParent = %d, want default 1", cfg.Network.NeighboursBeforeParent)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "zero address bit length",
			modify: func(cfg *config.Config) {
				cfg.Network.AddressBitLength = 0
			},
			wantErr: config.ErrInvalidAddressBitLength,
		},
		{
			name: "negative address bit length",
			modify: func(cfg *config.Config) {
				cfg.Network.AddressBitLength = -4
			},
			wantErr: config.ErrInvalidAddressBitLength,
		},
		{
			name: "zero wait pap retries",
			modify: func(cfg *config.Config) {
				cfg.Network.WaitPAPRetries = 0
			},
			wantErr: config.ErrInvalidWaitPAPRetries,
		},
		{
			name: "negative neighbours before parent",
			modify: func(cfg *config.Config) {
				cfg.Network.NeighboursBeforeParent = -1
			},
			wantErr: config.ErrInvalidNeighboursBeforeParent,
		},
		{
			name: "malformed timeout literal",
			modify: func(cfg *config.Config) {
				cfg.Network.WaitPANCTimeout = "not-a-duration"
			},
			wantErr: config.ErrInvalidTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Declared node tests
// -------------------------------------------------------------------------

func TestLoadWithNodes(t *testing.T) {
	t.Parallel()

	yamlContent := `
nodes:
  - identity: "alice"
  - identity: "bob"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Nodes) != 2 {
		t.Fatalf("Nodes count = %d, want 2", len(cfg.Nodes))
	}

	if cfg.Nodes[0].Identity != "alice" {
		t.Errorf("Nodes[0].Identity = %q, want %q", cfg.Nodes[0].Identity, "alice")
	}
	if cfg.Nodes[1].Identity != "bob" {
		t.Errorf("Nodes[1].Identity = %q, want %q", cfg.Nodes[1].Identity, "bob")
	}
}

func TestValidateNodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty node identity",
			modify: func(cfg *config.Config) {
				cfg.Nodes = []config.NodeConfig{{Identity: ""}}
			},
			wantErr: config.ErrEmptyNodeIdentity,
		},
		{
			name: "duplicate node identity",
			modify: func(cfg *config.Config) {
				cfg.Nodes = []config.NodeConfig{
					{Identity: "alice"},
					{Identity: "alice"},
				}
			},
			wantErr: config.ErrDuplicateNodeIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Environment variable override tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HCSIM_LOG_LEVEL", "debug")
	t.Setenv("HCSIM_NETWORK_ADDRESS_BIT_LENGTH", "24")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}

	if cfg.Network.AddressBitLength != 24 {
		t.Errorf("Network.AddressBitLength = %d, want 24 (from env)", cfg.Network.AddressBitLength)
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HCSIM_METRICS_ADDR", ":9200")
	t.Setenv("HCSIM_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hcsim.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
