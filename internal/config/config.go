package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2/google"
)

// Config represents the application configuration
type Config struct {
	Google    GoogleConfig    `json:"google"`
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Dashboard DashboardConfig `json:"dashboard"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// GoogleConfig holds Google Fit OAuth client credentials and endpoints
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
	AuthURL      string `json:"auth_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr               string `json:"addr"`
	ConnectionsPageURL string `json:"connections_page_url"`
}

// StorageConfig holds the credential store location
type StorageConfig struct {
	Path string `json:"path"`
}

// DashboardConfig holds dashboard window and goal settings
type DashboardConfig struct {
	DefaultDays            int     `json:"default_days"`
	MaxDays                int     `json:"max_days"`
	GoalSteps              int     `json:"goal_steps"`
	GoalSleepHours         float64 `json:"goal_sleep_hours"`
	Timezone               string  `json:"timezone"`
	ProviderTimeoutSeconds int     `json:"provider_timeout_seconds"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
	ServiceName  string `json:"service_name"`
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

const (
	// DefaultAPIBaseURL is the Google Fit REST root
	DefaultAPIBaseURL = "https://www.googleapis.com/fitness/v1/users/me"

	placeholderClientID     = "YOUR_CLIENT_ID"
	placeholderClientSecret = "YOUR_CLIENT_SECRET"
)

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Google: GoogleConfig{
			RedirectURL: "http://localhost:8080/api-connections/google-fit/callback",
			AuthURL:     google.Endpoint.AuthURL,
			TokenURL:    google.Endpoint.TokenURL,
			APIBaseURL:  DefaultAPIBaseURL,
		},
		Server: ServerConfig{
			Addr:               ":8080",
			ConnectionsPageURL: "/connections",
		},
		Dashboard: DashboardConfig{
			DefaultDays:            7,
			MaxDays:                90,
			GoalSteps:              10000,
			GoalSleepHours:         8,
			Timezone:               "Local",
			ProviderTimeoutSeconds: 15,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "healthdash",
		},
	}
}

// Load reads the configuration from ~/.healthdash/config.json and applies
// .env and environment overrides
func Load() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from the given path
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is fine; variables may come from the real environment.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"HEALTHDASH_GOOGLE_CLIENT_ID", &c.Google.ClientID},
		{"HEALTHDASH_GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret},
		{"HEALTHDASH_GOOGLE_REDIRECT_URL", &c.Google.RedirectURL},
		{"HEALTHDASH_DB_PATH", &c.Storage.Path},
		{"HEALTHDASH_ADDR", &c.Server.Addr},
		{"HEALTHDASH_LOG_LEVEL", &c.Logging.Level},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.target = v
		}
	}
}

// applyDefaults fills missing values
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Google.AuthURL == "" {
		c.Google.AuthURL = defaults.Google.AuthURL
	}
	if c.Google.TokenURL == "" {
		c.Google.TokenURL = defaults.Google.TokenURL
	}
	if c.Google.APIBaseURL == "" {
		c.Google.APIBaseURL = defaults.Google.APIBaseURL
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = defaults.Google.RedirectURL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ConnectionsPageURL == "" {
		c.Server.ConnectionsPageURL = defaults.Server.ConnectionsPageURL
	}
	if c.Storage.Path == "" {
		if dir, err := GetConfigDir(); err == nil {
			c.Storage.Path = filepath.Join(dir, "data.db")
		}
	}
	if c.Dashboard.DefaultDays == 0 {
		c.Dashboard.DefaultDays = defaults.Dashboard.DefaultDays
	}
	if c.Dashboard.MaxDays == 0 {
		c.Dashboard.MaxDays = defaults.Dashboard.MaxDays
	}
	if c.Dashboard.GoalSteps == 0 {
		c.Dashboard.GoalSteps = defaults.Dashboard.GoalSteps
	}
	if c.Dashboard.GoalSleepHours == 0 {
		c.Dashboard.GoalSleepHours = defaults.Dashboard.GoalSleepHours
	}
	if c.Dashboard.Timezone == "" {
		c.Dashboard.Timezone = defaults.Dashboard.Timezone
	}
	if c.Dashboard.ProviderTimeoutSeconds == 0 {
		c.Dashboard.ProviderTimeoutSeconds = defaults.Dashboard.ProviderTimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
}

// Save writes the configuration to ~/.healthdash/config.json
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes the configuration to the given path
func SaveTo(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	// Holds the client secret
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	example.Google.ClientID = placeholderClientID
	example.Google.ClientSecret = placeholderClientSecret

	return SaveTo(path, &example)
}

// Validate checks if the config has required fields
func (c *Config) Validate() error {
	if c.Google.ClientID == "" || c.Google.ClientID == placeholderClientID {
		return errors.New("google.client_id is required - create an OAuth client at https://console.cloud.google.com/apis/credentials")
	}
	if c.Google.ClientSecret == "" || c.Google.ClientSecret == placeholderClientSecret {
		return errors.New("google.client_secret is required - create an OAuth client at https://console.cloud.google.com/apis/credentials")
	}

	u, err := url.Parse(c.Google.RedirectURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("google.redirect_url must be an absolute URL, got %q", c.Google.RedirectURL)
	}

	if c.Dashboard.MaxDays < 1 {
		return fmt.Errorf("dashboard.max_days must be positive, got %d", c.Dashboard.MaxDays)
	}
	if c.Dashboard.DefaultDays < 1 || c.Dashboard.DefaultDays > c.Dashboard.MaxDays {
		return fmt.Errorf("dashboard.default_days (%d) must be between 1 and dashboard.max_days (%d)", c.Dashboard.DefaultDays, c.Dashboard.MaxDays)
	}
	if c.Dashboard.ProviderTimeoutSeconds < 1 || c.Dashboard.ProviderTimeoutSeconds > 60 {
		return fmt.Errorf("dashboard.provider_timeout_seconds must be between 1 and 60, got %d", c.Dashboard.ProviderTimeoutSeconds)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("dashboard.timezone: %w", err)
	}

	return nil
}

// Location resolves the dashboard timezone used for calendar-day grouping
func (c *Config) Location() (*time.Location, error) {
	if c.Dashboard.Timezone == "" || c.Dashboard.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Dashboard.Timezone)
}

// ProviderTimeout returns the per-call provider timeout
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Dashboard.ProviderTimeoutSeconds) * time.Second
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".healthdash"), nil
}
