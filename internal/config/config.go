package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	CRM       CRMConfig       `yaml:"crm" mapstructure:"crm"`
	Telegram  TelegramConfig  `yaml:"telegram" mapstructure:"telegram"`
	Sheets    SheetsConfig    `yaml:"sheets" mapstructure:"sheets"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds amoCRM API access settings.
//
// When LongLivedToken is false the client refreshes AccessToken on a 401
// using ClientID, ClientSecret, RedirectURI and RefreshToken.
type CRMConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	AccessToken    string  `yaml:"access_token" mapstructure:"access_token"`
	RefreshToken   string  `yaml:"refresh_token" mapstructure:"refresh_token"`
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret   string  `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURI    string  `yaml:"redirect_uri" mapstructure:"redirect_uri"`
	LongLivedToken bool    `yaml:"long_lived_token" mapstructure:"long_lived_token"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TelegramConfig holds the chat sink settings.
type TelegramConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	ChatID  int64  `yaml:"chat_id" mapstructure:"chat_id"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SheetsConfig holds the spreadsheet sink settings.
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet" mapstructure:"worksheet"`
	Timezone        string `yaml:"timezone" mapstructure:"timezone"`
}

// NormalizeConfig controls custom-field mapping.
type NormalizeConfig struct {
	AcceptedBranch string            `yaml:"accepted_branch" mapstructure:"accepted_branch"`
	EmailLabel     string            `yaml:"email_label" mapstructure:"email_label"`
	Labels         map[string]string `yaml:"labels" mapstructure:"labels"`
}

// IngestConfig controls CRM call resilience in the orchestrator.
type IngestConfig struct {
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures transport-error retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the CRM circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port            int `yaml:"port" mapstructure:"port"`
	ShutdownTimeout int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	// AllowedOrigins enables CORS on /health and /webhook when non-empty.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.base_url", "https://teslakz.amocrm.ru")
	v.SetDefault("crm.long_lived_token", false)
	v.SetDefault("crm.rate_limit", 7)
	v.SetDefault("crm.timeout_secs", 30)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.worksheet", "Sheet1")
	v.SetDefault("sheets.timezone", "UTC")
	v.SetDefault("normalize.accepted_branch", "Online")
	v.SetDefault("normalize.email_label", "Email")
	v.SetDefault("ingest.retry.max_attempts", 3)
	v.SetDefault("ingest.retry.initial_backoff_ms", 500)
	v.SetDefault("ingest.retry.max_backoff_ms", 5000)
	v.SetDefault("ingest.retry.multiplier", 2.0)
	v.SetDefault("ingest.retry.jitter_fraction", 0.25)
	v.SetDefault("ingest.circuit.failure_threshold", 5)
	v.SetDefault("ingest.circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8010)
	v.SetDefault("server.shutdown_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	// Env-only secrets are not picked up by Unmarshal unless viper knows the key.
	for _, key := range []string{
		"crm.access_token", "crm.refresh_token", "crm.client_id",
		"crm.client_secret", "crm.redirect_uri",
		"telegram.token", "telegram.chat_id",
		"sheets.spreadsheet_id", "log.file",
	} {
		_ = v.BindEnv(key)
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command are set.
// Scope "serve" needs every sink; scope "lead" only needs the CRM.
func (c *Config) Validate(scope string) error {
	var missing []string
	if c.CRM.BaseURL == "" {
		missing = append(missing, "crm.base_url")
	}
	if c.CRM.AccessToken == "" {
		missing = append(missing, "crm.access_token")
	}
	if !c.CRM.LongLivedToken {
		if c.CRM.ClientID == "" {
			missing = append(missing, "crm.client_id")
		}
		if c.CRM.ClientSecret == "" {
			missing = append(missing, "crm.client_secret")
		}
		if c.CRM.RefreshToken == "" {
			missing = append(missing, "crm.refresh_token")
		}
	}

	if scope == "serve" {
		if c.Telegram.Token == "" {
			missing = append(missing, "telegram.token")
		}
		if c.Telegram.ChatID == 0 {
			missing = append(missing, "telegram.chat_id")
		}
		if c.Sheets.SpreadsheetID == "" {
			missing = append(missing, "sheets.spreadsheet_id")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, "server.port")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", scope, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.File != "" {
		fileCore, err := newFileCore(cfg, zapCfg)
		if err != nil {
			return err
		}
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// newFileCore builds a JSON core writing to a rotated log file. Rotated
// files older than MaxAgeDays are removed.
func newFileCore(cfg LogConfig, zapCfg zap.Config) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, eris.Wrap(err, "config: create log dir")
	}
	writer := &lumberjack.Logger{
		Filename: cfg.File,
		MaxAge:   cfg.MaxAgeDays,
		Compress: cfg.Compress,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), zapCfg.Level), nil
}

