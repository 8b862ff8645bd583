package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Gate        GateConfig                `json:"gate"`
	Advice      AdviceConfig              `json:"advice"`
	OAuth       OAuthConfig               `json:"oauth"`
	SMTP        SMTPConfig                `json:"smtp"`
	Log         LogConfig                 `json:"log"`
	CORS        CORSConfig                `json:"cors"`
}

type BasicConfig struct {
	ServerAddress             string `json:"server_address"`
	PublicBaseURL             string `json:"public_base_url"`
	TokenTTLHours             int    `json:"token_ttl_hours"`
	TokenCleanIntervalMinutes int    `json:"token_clean_interval_minutes"`
	ConfirmationTTLHours      int    `json:"confirmation_ttl_hours"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// GateConfig holds the paths the session gate routes between.
type GateConfig struct {
	SignInPath       string   `json:"sign_in_path"`
	SignUpPath       string   `json:"sign_up_path"`
	RootPath         string   `json:"root_path"`
	LandingPath      string   `json:"landing_path"`
	ExcludedPrefixes []string `json:"excluded_prefixes"`
}

type AdviceConfig struct {
	DelayMillis int `json:"delay_ms"`
}

type OAuthConfig struct {
	StateSecret string              `json:"state_secret"`
	Google      OAuthProviderConfig `json:"google"`
}

type OAuthProviderConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// Enabled reports whether the provider has credentials.
func (p OAuthProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Sender   string `json:"sender"`
}

// Enabled reports whether outgoing mail is configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.Sender != ""
}

type LogConfig struct {
	FilePath   string `json:"file_path"`
	Production bool   `json:"production"`
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if sqlite, ok := cfg.Databases["sqlite3"]; ok {
		if sqlite.DSN != "" && sqlite.DSN != ":memory:" && !strings.HasPrefix(sqlite.DSN, "file:") && !filepath.IsAbs(sqlite.DSN) {
			sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
			cfg.Databases["sqlite3"] = sqlite
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns a configuration usable for local development and tests.
func Defaults() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Validate reports configuration that cannot be started with.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	if c.OAuth.Google.Enabled() && c.OAuth.StateSecret == "" {
		return errors.New("oauth.state_secret must be configured when google oauth is enabled")
	}
	for _, p := range []string{c.Gate.SignInPath, c.Gate.SignUpPath, c.Gate.RootPath, c.Gate.LandingPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("gate path %q must start with /", p)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.PublicBaseURL == "" {
		c.BasicConfig.PublicBaseURL = "http://localhost:8090"
	}
	c.BasicConfig.PublicBaseURL = strings.TrimRight(c.BasicConfig.PublicBaseURL, "/")
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.BasicConfig.TokenCleanIntervalMinutes <= 0 {
		c.BasicConfig.TokenCleanIntervalMinutes = 60
	}
	if c.BasicConfig.ConfirmationTTLHours <= 0 {
		c.BasicConfig.ConfirmationTTLHours = 24
	}
	if c.Gate.SignInPath == "" {
		c.Gate.SignInPath = "/login"
	}
	if c.Gate.SignUpPath == "" {
		c.Gate.SignUpPath = "/signup"
	}
	if c.Gate.RootPath == "" {
		c.Gate.RootPath = "/"
	}
	if c.Gate.LandingPath == "" {
		c.Gate.LandingPath = "/dashboard"
	}
	if c.Gate.ExcludedPrefixes == nil {
		c.Gate.ExcludedPrefixes = []string{"/static", "/favicon.ico", "/auth/callback", "/api"}
	}
	if c.Advice.DelayMillis <= 0 {
		c.Advice.DelayMillis = 1000
	}
	if c.OAuth.Google.RedirectURL == "" {
		c.OAuth.Google.RedirectURL = c.BasicConfig.PublicBaseURL + "/auth/callback"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
}

// applyEnv lets secrets live outside the JSON file.
func applyEnv(c *Config) {
	if v := os.Getenv("SLIMTAX_GOOGLE_CLIENT_ID"); v != "" {
		c.OAuth.Google.ClientID = v
	}
	if v := os.Getenv("SLIMTAX_GOOGLE_CLIENT_SECRET"); v != "" {
		c.OAuth.Google.ClientSecret = v
	}
	if v := os.Getenv("SLIMTAX_OAUTH_STATE_SECRET"); v != "" {
		c.OAuth.StateSecret = v
	}
	if v := os.Getenv("SLIMTAX_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SLIMTAX_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SLIMTAX_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("SLIMTAX_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
}
