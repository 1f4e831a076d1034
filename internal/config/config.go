package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"tably/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	API          APIConfig          `yaml:"api"`
	Logging      LoggingConfig      `yaml:"logging"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Backup       BackupConfig       `yaml:"backup"`
	Verification VerificationConfig `yaml:"verification"`
	Quota        QuotaConfig        `yaml:"quota"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Google       GoogleConfig       `yaml:"google"`
	Exports      ExportConfig       `yaml:"exports"`
	Seed         SeedConfig         `yaml:"seed"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	TenantID    int64    `yaml:"tenant_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

// VerificationConfig feeds the code authority at construction time.
// The secret never lives in package-level state.
type VerificationConfig struct {
	Secret       string        `yaml:"secret"`
	TTL          time.Duration `yaml:"ttl"`
	ReplayWindow time.Duration `yaml:"replay_window"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type QuotaConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limits  map[string]int64 `yaml:"limits"`
	Period  string           `yaml:"period"`
}

type TelegramConfig struct {
	Enabled  bool               `yaml:"enabled"`
	BotToken string             `yaml:"bot_token"`
	Chats    []TenantChatConfig `yaml:"chats"`
}

type TenantChatConfig struct {
	TenantID int64 `yaml:"tenant_id"`
	ChatID   int64 `yaml:"chat_id"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	LedgerSpreadsheetID string `yaml:"ledger_spreadsheet_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// SeedConfig declares resources and their rules, applied idempotently
// at startup. Resource administration proper is an external concern;
// the engine only needs the rows to exist.
type SeedConfig struct {
	Resources []SeedResource `yaml:"resources"`
}

type SeedResource struct {
	Resource models.Resource  `yaml:"resource"`
	Rule     *models.SlotRule `yaml:"rule"`
}

func Load(configPath string) (*Config, error) {
	// Optional .env next to the binary; absence is not an error.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Verification.Secret == "" {
		return errors.New("verification secret is required")
	}
	if len(c.Verification.Secret) < 16 {
		return errors.New("verification secret must be at least 16 bytes")
	}
	seen := make(map[int64]bool)
	for _, sr := range c.Seed.Resources {
		if sr.Resource.ID == 0 {
			return fmt.Errorf("seed resource %q has invalid ID 0", sr.Resource.Name)
		}
		if seen[sr.Resource.ID] {
			return fmt.Errorf("duplicate seed resource ID: %d", sr.Resource.ID)
		}
		seen[sr.Resource.ID] = true
		if sr.Resource.Capacity < 1 {
			return fmt.Errorf("seed resource %q: capacity must be at least 1", sr.Resource.Name)
		}
		if sr.Rule != nil {
			if err := sr.Rule.Validate(); err != nil {
				return fmt.Errorf("seed resource %q: %w", sr.Resource.Name, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.Auth.Enabled && c.API.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Verification.TTL == 0 {
		c.Verification.TTL = 15 * time.Minute
	}
	if c.Verification.ReplayWindow == 0 {
		c.Verification.ReplayWindow = 5 * time.Minute
	}
	if c.Verification.MaxAttempts == 0 {
		c.Verification.MaxAttempts = 5
	}
	if c.Quota.Period == "" {
		c.Quota.Period = "month"
	}
}

// ChatForTenant resolves the notification chat for a tenant, zero when
// none is configured.
func (c *TelegramConfig) ChatForTenant(tenantID int64) int64 {
	for _, chat := range c.Chats {
		if chat.TenantID == tenantID {
			return chat.ChatID
		}
	}
	return 0
}
