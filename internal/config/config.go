package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// minSyncInterval is the shortest allowed background sync period.
	// Mobile background schedulers do not run jobs more often than this
	// either.
	minSyncInterval = time.Minute

	// bcryptPrefix is the leading marker shared by all bcrypt hash variants.
	bcryptPrefix = "$2"
)

// Config holds all environment-based configuration for medsync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile, when set, sends logs to a size-rotated file instead of stdout.
	LogFile string `env:"LOG_FILE"`

	// Backend root, e.g. https://api.example.com/v1
	APIBaseURL string `env:"API_BASE_URL"`
	APIToken   string `env:"API_TOKEN"`

	// Signed-in user whose records this agent owns.
	OwnerID    string `env:"OWNER_ID"`
	OwnerEmail string `env:"OWNER_EMAIL"`

	// DataDir holds records.db and state.db. Defaults to ~/.medsync.
	DataDir string `env:"DATA_DIR"`

	SyncInterval        time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`
	BackgroundEnabled   bool          `env:"BACKGROUND_ENABLED" envDefault:"true"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	ConnectivityTimeout time.Duration `env:"CONNECTIVITY_TIMEOUT" envDefault:"5s"`

	// Outbound pacing. Zero rate disables it.
	RemoteRateLimit float64 `env:"REMOTE_RATE_LIMIT" envDefault:"10"`
	RemoteRateBurst int     `env:"REMOTE_RATE_BURST" envDefault:"20"`

	// AppointmentLead is how far ahead an appointment reminder is raised.
	AppointmentLead time.Duration `env:"APPOINTMENT_LEAD" envDefault:"24h"`

	// WatchStore pushes when another process writes the record database.
	WatchStore bool `env:"WATCH_STORE" envDefault:"true"`

	// MCP inspection endpoint
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`
	MCPAPIKeyHash string `env:"MCP_API_KEY_HASH"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL")
	}

	if c.OwnerID == "" {
		return fmt.Errorf("OWNER_ID is required")
	}

	if strings.ContainsAny(c.OwnerID, "/?#") {
		return fmt.Errorf("OWNER_ID must not contain URL path characters")
	}

	if c.SyncInterval < minSyncInterval {
		return fmt.Errorf("SYNC_INTERVAL must be at least %s", minSyncInterval)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.ConnectivityTimeout <= 0 {
		return fmt.Errorf("CONNECTIVITY_TIMEOUT must be positive")
	}

	if c.RemoteRateLimit < 0 {
		return fmt.Errorf("REMOTE_RATE_LIMIT must not be negative")
	}

	if c.RemoteRateLimit > 0 && c.RemoteRateBurst < 1 {
		return fmt.Errorf("REMOTE_RATE_BURST must be at least 1 when rate limiting is enabled")
	}

	if c.AppointmentLead <= 0 {
		return fmt.Errorf("APPOINTMENT_LEAD must be positive")
	}

	if c.EnableMCP {
		if c.MCPAPIKeyHash == "" {
			return fmt.Errorf("MCP_API_KEY_HASH is required when MCP is enabled")
		}

		if !strings.HasPrefix(c.MCPAPIKeyHash, bcryptPrefix) {
			return fmt.Errorf("MCP_API_KEY_HASH must be a bcrypt hash (see `medsync hash-password`)")
		}
	}

	return nil
}

// DefaultDataDir returns ~/.medsync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".medsync"), nil
}

// StorePath is the record database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "records.db")
}

// StatePath is the sync flag database file.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
