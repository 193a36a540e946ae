package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override of the builder,
// e.g. CIRCUIT_BUILDER_BUILD_POT_SIZE.
const EnvPrefix = "CIRCUIT_BUILDER"

// Config holds all builder configuration
// Each section maps to a YAML block in the config file
type Config struct {
	Build     BuildConfig     `mapstructure:"build"`
	Ceremony  CeremonyConfig  `mapstructure:"ceremony"`
	Toolchain ToolchainConfig `mapstructure:"toolchain"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Publish   PublishConfig   `mapstructure:"publish"`
}

// BuildConfig is resolved once per run and never mutated
type BuildConfig struct {
	Circuits       string `mapstructure:"circuits"`
	CircuitsDir    string `mapstructure:"circuits_dir"`
	WasmDir        string `mapstructure:"wasm_dir"`
	ZkeyDir        string `mapstructure:"zkey_dir"`
	TauDir         string `mapstructure:"tau_dir"`
	PotSize        int    `mapstructure:"pot_size"`
	Contributions  int    `mapstructure:"contributions"`
	Deterministic  bool   `mapstructure:"deterministic"`
	Overwrite      bool   `mapstructure:"overwrite"`
	VerifyTau      bool   `mapstructure:"verify_tau"`
	ExportSolidity bool   `mapstructure:"export_solidity"`
	NativeVerify   bool   `mapstructure:"native_verify"`
}

// CeremonyConfig carries beacon material
type CeremonyConfig struct {
	// Beacon is the operator secret for deterministic phase-2 finalization.
	// Read from ZK_BEACON (or beacon); never put it in a config file.
	Beacon           string `mapstructure:"beacon"`
	Phase1Beacon     string `mapstructure:"phase1_beacon"`
	BeaconIterations int    `mapstructure:"beacon_iterations"`
}

// ToolchainConfig names the external binaries
type ToolchainConfig struct {
	Circom  string `mapstructure:"circom"`
	Snarkjs string `mapstructure:"snarkjs"` // command line, e.g. "npx snarkjs"
	Node    string `mapstructure:"node"`
}

// SnarkjsCommand splits the toolkit command line into words.
func (t ToolchainConfig) SnarkjsCommand() []string {
	return strings.Fields(t.Snarkjs)
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json" or "console"
}

// LedgerConfig enables the optional Postgres run ledger
type LedgerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// PublishConfig enables uploading final artifacts
type PublishConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Backend     string   `mapstructure:"backend"` // "s3" or "file"
	Prefix      string   `mapstructure:"prefix"`
	Dir         string   `mapstructure:"dir"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	S3          S3Config `mapstructure:"s3"`
	// UploadTimeout bounds each file upload, retries included.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// S3Config addresses an S3-compatible bucket
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	PublicRead   bool   `mapstructure:"public_read"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"circuits":        "build.circuits",
	"circuits-dir":    "build.circuits_dir",
	"wasm-dir":        "build.wasm_dir",
	"zkey-dir":        "build.zkey_dir",
	"tau-dir":         "build.tau_dir",
	"pot-size":        "build.pot_size",
	"contributions":   "build.contributions",
	"deterministic":   "build.deterministic",
	"overwrite":       "build.overwrite",
	"verify-tau":      "build.verify_tau",
	"export-solidity": "build.export_solidity",
	"native-verify":   "build.native_verify",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
}

// RegisterFlags adds the builder flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("circuits", "c", "", "comma-separated circuit names or a glob under --circuits-dir (default: all)")
	fs.StringP("circuits-dir", "r", "circuits", "root directory holding one sub-directory per circuit")
	fs.StringP("wasm-dir", "w", "build/wasm", "output directory for compiled circuits and proofs")
	fs.StringP("zkey-dir", "z", "build/keys", "output directory for proving and verification keys")
	fs.StringP("tau-dir", "a", "build/ptau", "output directory for phase-1 reference strings")
	fs.IntP("pot-size", "p", 20, "phase-1 size: supports up to 2^pot-size constraints")
	fs.IntP("contributions", "b", 1, "number of random phase-1 contributions")
	fs.BoolP("deterministic", "d", false, "finalize proving keys with the ZK_BEACON secret instead of randomness")
	fs.BoolP("overwrite", "o", false, "regenerate artifacts even if they exist")
	fs.BoolP("verify-tau", "v", false, "verify the phase-1 contribution chain before deriving keys")
	fs.Bool("export-solidity", false, "export a Solidity verifier contract per circuit")
	fs.Bool("native-verify", true, "re-check every proof in-process after the toolkit verifies it")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console, json)")
}

// Load reads configuration from flags, environment and an optional file
// Priority: flags > ENV VARS > config file > defaults
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// CIRCUIT_BUILDER_BUILD_POT_SIZE will override build.pot_size in YAML
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ceremony.beacon", EnvPrefix+"_CEREMONY_BEACON", "ZK_BEACON", "beacon"); err != nil {
		return nil, fmt.Errorf("failed to bind beacon env: %w", err)
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults establishes defaults that work for a local checkout
func setDefaults(v *viper.Viper) {
	// Build defaults
	v.SetDefault("build.circuits", "")
	v.SetDefault("build.circuits_dir", "circuits")
	v.SetDefault("build.wasm_dir", "build/wasm")
	v.SetDefault("build.zkey_dir", "build/keys")
	v.SetDefault("build.tau_dir", "build/ptau")
	v.SetDefault("build.pot_size", 20)
	v.SetDefault("build.contributions", 1)
	v.SetDefault("build.deterministic", false)
	v.SetDefault("build.overwrite", false)
	v.SetDefault("build.verify_tau", false)
	v.SetDefault("build.export_solidity", false)
	v.SetDefault("build.native_verify", true)

	// Ceremony defaults
	v.SetDefault("ceremony.beacon", "")
	v.SetDefault("ceremony.phase1_beacon", "")
	v.SetDefault("ceremony.beacon_iterations", 10)

	// Toolchain defaults
	v.SetDefault("toolchain.circom", "circom")
	v.SetDefault("toolchain.snarkjs", "npx snarkjs")
	v.SetDefault("toolchain.node", "node")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Ledger defaults
	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.max_open_conns", 4)
	v.SetDefault("ledger.auto_migrate", true)

	// Publish defaults
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.backend", "s3")
	v.SetDefault("publish.prefix", "circuits")
	v.SetDefault("publish.dir", "")
	v.SetDefault("publish.max_attempts", 4)
	v.SetDefault("publish.upload_timeout", "10m")
	v.SetDefault("publish.s3.bucket", "")
	v.SetDefault("publish.s3.region", "us-east-1")
	v.SetDefault("publish.s3.endpoint", "")
	v.SetDefault("publish.s3.access_key", "")
	v.SetDefault("publish.s3.secret_key", "")
	v.SetDefault("publish.s3.public_read", false)
	v.SetDefault("publish.s3.use_path_style", false)
}

// Validate checks if configuration is valid
// Fail fast: catch config errors at startup, before any stage runs
func (c *Config) Validate() error {
	b := c.Build
	if b.PotSize < 1 || b.PotSize > 28 {
		return fmt.Errorf("pot_size must be between 1 and 28, got %d", b.PotSize)
	}
	if b.Contributions < 1 {
		return fmt.Errorf("contributions must be at least 1, got %d", b.Contributions)
	}
	for name, dir := range map[string]string{
		"circuits_dir": b.CircuitsDir,
		"wasm_dir":     b.WasmDir,
		"zkey_dir":     b.ZkeyDir,
		"tau_dir":      b.TauDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	if c.Ceremony.BeaconIterations < 1 || c.Ceremony.BeaconIterations > 63 {
		return fmt.Errorf("beacon_iterations must be between 1 and 63, got %d", c.Ceremony.BeaconIterations)
	}
	if p := c.Ceremony.Phase1Beacon; p != "" {
		if _, err := hex.DecodeString(p); err != nil {
			return fmt.Errorf("phase1_beacon must be hex: %w", err)
		}
	}

	if c.Toolchain.Circom == "" || len(c.Toolchain.SnarkjsCommand()) == 0 || c.Toolchain.Node == "" {
		return fmt.Errorf("toolchain binaries must not be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Ledger.Enabled && c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required when the ledger is enabled")
	}

	if c.Publish.Enabled {
		switch c.Publish.Backend {
		case "s3":
			if c.Publish.S3.Bucket == "" {
				return fmt.Errorf("publish.s3.bucket is required for the s3 backend")
			}
		case "file":
			if c.Publish.Dir == "" {
				return fmt.Errorf("publish.dir is required for the file backend")
			}
		default:
			return fmt.Errorf("unsupported publish backend: %s", c.Publish.Backend)
		}
		if c.Publish.MaxAttempts < 1 {
			return fmt.Errorf("publish.max_attempts must be at least 1")
		}
	}

	return nil
}
