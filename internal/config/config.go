package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`

	Server struct {
		Address         string   `yaml:"address"`
		GRPCPort        int      `yaml:"grpc_port"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
		RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
		RateLimitBurst  int      `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"auth"`

	Database struct {
		Path          string `yaml:"path"`
		BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
		EventsChannel   string `yaml:"events_channel"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken   string  `yaml:"bot_token"`
		Debug      bool    `yaml:"debug"`
		AdminChats []int64 `yaml:"admin_chats"`
		// UserChats maps platform user ids to Telegram chat ids.
		UserChats map[int64]int64 `yaml:"user_chats"`
	} `yaml:"telegram"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		MinAdvanceMinutes        int    `yaml:"min_advance_minutes"`
		MaxAdvanceDays           int    `yaml:"max_advance_days"`
		PaymentPendingTTLMinutes int    `yaml:"payment_pending_ttl_minutes"`
		ReminderLeadHours        int    `yaml:"reminder_lead_hours"`
		WorkerIntervalSeconds    int    `yaml:"worker_interval_seconds"`
		CompletionConcurrency    int    `yaml:"completion_concurrency"`
		Currency                 string `yaml:"currency"`
	} `yaml:"booking"`

	Fees struct {
		PlatformBps       int64            `yaml:"platform_bps"`
		DefaultTaxBps     int64            `yaml:"default_tax_bps"`
		TaxByJurisdiction map[string]int64 `yaml:"tax_by_jurisdiction"`
	} `yaml:"fees"`

	Processor struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"processor"`

	Payouts struct {
		MaxAttempts int `yaml:"max_attempts"`
		BatchSize   int `yaml:"batch_size"`
	} `yaml:"payouts"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		ExportOnStart bool   `yaml:"export_on_start"`
		Timezone      string `yaml:"timezone"`
	} `yaml:"audit"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"sheets"`

	SpacesConfigPath string `yaml:"spaces_config_path"`
}

// Load reads the YAML config. A .env next to the working directory is
// loaded first so ${VAR} placeholders can reference it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/spacehire.db"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.SpacesConfigPath == "" {
		cfg.SpacesConfigPath = filepath.Join(filepath.Dir(path), "spaces.yaml")
	}
	if cfg.Booking.Currency == "" {
		cfg.Booking.Currency = "usd"
	}
	// Processor calls run inside write transactions; other writers must be
	// able to wait one out instead of failing with SQLITE_BUSY.
	if cfg.BusyTimeout() <= cfg.ProcessorTimeout() {
		return nil, fmt.Errorf("database.busy_timeout_ms (%s) must exceed processor.timeout_seconds (%s)",
			cfg.BusyTimeout(), cfg.ProcessorTimeout())
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceMinutes < 0 {
		return 0
	}
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

func (c *Config) BookingMaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 180 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) PaymentPendingTTL() time.Duration {
	if c.Booking.PaymentPendingTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.PaymentPendingTTLMinutes) * time.Minute
}

func (c *Config) ReminderLead() time.Duration {
	if c.Booking.ReminderLeadHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Booking.ReminderLeadHours) * time.Hour
}

func (c *Config) WorkerInterval() time.Duration {
	if c.Booking.WorkerIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Booking.WorkerIntervalSeconds) * time.Second
}

func (c *Config) ProcessorTimeout() time.Duration {
	if c.Processor.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Processor.TimeoutSeconds) * time.Second
}

func (c *Config) PlatformFeeBps() int64 {
	if c.Fees.PlatformBps <= 0 {
		return 1000
	}
	return c.Fees.PlatformBps
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

func (c *Config) BusyTimeout() time.Duration {
	if c.Database.BusyTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Database.BusyTimeoutMs) * time.Millisecond
}

func (c *Config) PayoutMaxAttempts() int {
	if c.Payouts.MaxAttempts <= 0 {
		return 5
	}
	return c.Payouts.MaxAttempts
}

func (c *Config) PayoutBatchSize() int {
	if c.Payouts.BatchSize <= 0 {
		return 50
	}
	return c.Payouts.BatchSize
}
