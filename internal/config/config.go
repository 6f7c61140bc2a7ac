package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the callpolicy daemon.
// Precedence: CLI flags > env vars > defaults. A loaded Config is treated
// as immutable; runtime reloads build a new one and publish it through a
// Holder, never mutating fields in place.
type Config struct {
	DataDir        string
	StoreBackend   string // "sqlite" or "postgres"
	StoreDSN       string // postgres DSN, required for the postgres backend
	HTTPPort       int
	SIPPort        int
	GatewayHost    string // host the SIP 302 Contact points at
	DomesticPrefix string // country code of the domestic zone, digits only
	DefaultTenant  int64  // tenant scope for prefix translation rules
	RecordingPath  string // directory the host's recorder writes into
	RecordingExt   string // audio file extension for recording targets
	RecordingDays  int    // days recordings are retained; 0 disables cleanup
	LogLevel       string
	LogFormat      string // log output format: "text" or "json"
	APISecret      string // hex-encoded 32-byte secret for API JWT signing
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultStoreBackend   = "sqlite"
	defaultHTTPPort       = 8080
	defaultSIPPort        = 5060
	defaultDomesticPrefix = "33"
	defaultTenant         = 1
	defaultRecordingPath  = "/var/spool/callpolicy/monitor"
	defaultRecordingExt   = "wav"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all callpolicy environment variables.
const envPrefix = "CALLPOLICY_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

// Reload rebuilds the configuration from the same sources as Load and
// re-validates it. The caller publishes the result atomically via a
// Holder so readers never observe a partially applied configuration.
func Reload() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callpolicyd", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded sqlite policy store")
	fs.StringVar(&cfg.StoreBackend, "store-backend", defaultStoreBackend, "policy store backend (sqlite, postgres)")
	fs.StringVar(&cfg.StoreDSN, "store-dsn", "", "postgresql DSN for the postgres store backend")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP API listen port")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "SIP UDP/TCP listen port")
	fs.StringVar(&cfg.GatewayHost, "gateway-host", "", "media gateway host placed in SIP 302 Contact (defaults to machine hostname)")
	fs.StringVar(&cfg.DomesticPrefix, "domestic-prefix", defaultDomesticPrefix, "domestic country code for caller-id substitution")
	fs.Int64Var(&cfg.DefaultTenant, "default-tenant", defaultTenant, "tenant scope for prefix translation rules")
	fs.StringVar(&cfg.RecordingPath, "recording-path", defaultRecordingPath, "directory recorded calls are saved to")
	fs.StringVar(&cfg.RecordingExt, "recording-ext", defaultRecordingExt, "file extension for recorded calls")
	fs.IntVar(&cfg.RecordingDays, "recording-days", 0, "days recorded calls are kept before deletion (0 disables cleanup)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.APISecret, "api-secret", "", "hex-encoded 32-byte secret for HTTP API JWT signing (auto-generated if empty)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":        envPrefix + "DATA_DIR",
		"store-backend":   envPrefix + "STORE_BACKEND",
		"store-dsn":       envPrefix + "STORE_DSN",
		"http-port":       envPrefix + "HTTP_PORT",
		"sip-port":        envPrefix + "SIP_PORT",
		"gateway-host":    envPrefix + "GATEWAY_HOST",
		"domestic-prefix": envPrefix + "DOMESTIC_PREFIX",
		"default-tenant":  envPrefix + "DEFAULT_TENANT",
		"recording-path":  envPrefix + "RECORDING_PATH",
		"recording-ext":   envPrefix + "RECORDING_EXT",
		"recording-days":  envPrefix + "RECORDING_DAYS",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
		"api-secret":      envPrefix + "API_SECRET",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "store-backend":
			cfg.StoreBackend = val
		case "store-dsn":
			cfg.StoreDSN = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "gateway-host":
			cfg.GatewayHost = val
		case "domestic-prefix":
			cfg.DomesticPrefix = val
		case "default-tenant":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.DefaultTenant = v
			}
		case "recording-path":
			cfg.RecordingPath = val
		case "recording-ext":
			cfg.RecordingExt = val
		case "recording-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RecordingDays = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "api-secret":
			cfg.APISecret = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}

	switch c.StoreBackend {
	case "sqlite":
		if c.DataDir == "" {
			return fmt.Errorf("data-dir is required for the sqlite store backend")
		}
	case "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("store-dsn is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("store-backend must be one of sqlite, postgres; got %q", c.StoreBackend)
	}

	// A leading + is tolerated and stripped: canonical numbers are
	// compared against the digits either way.
	c.DomesticPrefix = strings.TrimPrefix(c.DomesticPrefix, "+")
	if c.DomesticPrefix == "" {
		return fmt.Errorf("domestic-prefix must not be empty")
	}
	for _, r := range c.DomesticPrefix {
		if r < '0' || r > '9' {
			return fmt.Errorf("domestic-prefix must contain only digits, got %q", c.DomesticPrefix)
		}
	}

	if c.DefaultTenant < 1 {
		return fmt.Errorf("default-tenant must be positive, got %d", c.DefaultTenant)
	}
	if c.RecordingExt == "" {
		return fmt.Errorf("recording-ext must not be empty")
	}
	if c.RecordingDays < 0 {
		return fmt.Errorf("recording-days must not be negative, got %d", c.RecordingDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SIPHost returns the hostname placed in 302 Contact URIs. It defaults to
// the machine hostname when gateway-host is not configured.
func (c *Config) SIPHost() string {
	if c.GatewayHost != "" {
		return c.GatewayHost
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// APISecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and
// returns it without touching the Config: snapshots are immutable once
// published, so the caller holds on to the key for the process lifetime.
func (c *Config) APISecretBytes() ([]byte, error) {
	if c.APISecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating api secret: %w", err)
		}
		slog.Warn("no api-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decoding api secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("api secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEffective logs the effective configuration at startup with the API
// secret redacted.
func (c *Config) LogEffective() {
	slog.Info("effective configuration",
		"store_backend", c.StoreBackend,
		"data_dir", c.DataDir,
		"http_port", c.HTTPPort,
		"sip_port", c.SIPPort,
		"gateway_host", c.SIPHost(),
		"domestic_prefix", c.DomesticPrefix,
		"default_tenant", c.DefaultTenant,
		"recording_path", c.RecordingPath,
		"recording_ext", c.RecordingExt,
		"recording_days", c.RecordingDays,
		"log_level", c.LogLevel,
		"log_format", c.LogFormat,
	)
}
