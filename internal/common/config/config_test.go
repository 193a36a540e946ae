package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Build.PotSize)
	assert.Equal(t, 1, cfg.Build.Contributions)
	assert.Equal(t, "circuits", cfg.Build.CircuitsDir)
	assert.True(t, cfg.Build.NativeVerify)
	assert.False(t, cfg.Build.Overwrite)
	assert.Equal(t, 10, cfg.Ceremony.BeaconIterations)
	assert.Equal(t, []string{"npx", "snarkjs"}, cfg.Toolchain.SnarkjsCommand())
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Publish.UploadTimeout)
}

func TestLoadPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
build:
  pot_size: 12
  contributions: 3
  wasm_dir: out/wasm
logging:
  level: debug
`), 0o644))

	t.Setenv("CIRCUIT_BUILDER_BUILD_CONTRIBUTIONS", "5")

	cfg, err := Load(path, newFlags(t, "--pot-size=14", "--overwrite"))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Build.PotSize, "flag beats file")
	assert.Equal(t, 5, cfg.Build.Contributions, "env beats file")
	assert.Equal(t, "out/wasm", cfg.Build.WasmDir, "file beats default")
	assert.True(t, cfg.Build.Overwrite)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadBeaconFromEnvironment(t *testing.T) {
	t.Setenv("ZK_BEACON", "0a0b0c")
	cfg, err := Load("", newFlags(t, "--deterministic"))
	require.NoError(t, err)
	assert.True(t, cfg.Build.Deterministic)
	assert.Equal(t, "0a0b0c", cfg.Ceremony.Beacon)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("", newFlags(t))
		require.NoError(t, err)
		return cfg
	}

	tests := map[string]func(c *Config){
		"pot size too small":      func(c *Config) { c.Build.PotSize = 0 },
		"pot size too large":      func(c *Config) { c.Build.PotSize = 29 },
		"no contributions":        func(c *Config) { c.Build.Contributions = 0 },
		"empty tau dir":           func(c *Config) { c.Build.TauDir = " " },
		"iterations out of range": func(c *Config) { c.Ceremony.BeaconIterations = 64 },
		"phase1 beacon not hex":   func(c *Config) { c.Ceremony.Phase1Beacon = "xyz" },
		"bad log level":           func(c *Config) { c.Logging.Level = "trace" },
		"ledger without dsn":      func(c *Config) { c.Ledger.Enabled = true },
		"s3 without bucket":       func(c *Config) { c.Publish.Enabled = true },
		"unknown backend": func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Backend = "ftp"
		},
		"empty snarkjs": func(c *Config) { c.Toolchain.Snarkjs = "  " },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("ARTIFACT_SERVER_SERVER_PORT", "8181")
	cfg, err := LoadServer("")
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8181", cfg.GetServerAddress())
	assert.Equal(t, "0.0.0.0:9090", cfg.GetGRPCAddress())
	assert.Equal(t, "build/keys", cfg.Artifacts.ZkeyDir)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)

	cfg.Server.GRPCPort = cfg.Server.Port
	assert.Error(t, cfg.Validate())
}

func TestServerValidateCache(t *testing.T) {
	cfg, err := LoadServer("")
	require.NoError(t, err)

	cfg.Cache.Enabled = true
	cfg.Cache.Address = ""
	assert.Error(t, cfg.Validate())

	cfg.Cache.Address = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}
