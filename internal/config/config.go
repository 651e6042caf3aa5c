package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	JWTSecret     string   `mapstructure:"JWT_SECRET"`

	// External AI responder.
	ResponderProvider string `mapstructure:"RESPONDER_PROVIDER"`
	ResponderURL      string `mapstructure:"RESPONDER_URL"`
	ResponderTimeout  int    `mapstructure:"RESPONDER_TIMEOUT_MS"`
	OpenAIAPIKey      string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel       string `mapstructure:"OPENAI_MODEL"`

	// Escalation and scheduling.
	PainThreshold       int `mapstructure:"PAIN_ESCALATION_THRESHOLD"`
	OverdueSweepMinutes int `mapstructure:"OVERDUE_SWEEP_MINUTES"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RESPONDER_PROVIDER", "webhook")
	v.SetDefault("RESPONDER_TIMEOUT_MS", 8000)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("PAIN_ESCALATION_THRESHOLD", 8)
	v.SetDefault("OVERDUE_SWEEP_MINUTES", 15)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("RESPONDER_PROVIDER")
	v.BindEnv("RESPONDER_URL")
	v.BindEnv("RESPONDER_TIMEOUT_MS")
	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("OPENAI_MODEL")
	v.BindEnv("PAIN_ESCALATION_THRESHOLD")
	v.BindEnv("OVERDUE_SWEEP_MINUTES")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get provider access.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResponderTimeoutDuration returns the responder HTTP timeout.
func (c *Config) ResponderTimeoutDuration() time.Duration {
	if c.ResponderTimeout <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.ResponderTimeout) * time.Millisecond
}

// OverdueSweepInterval returns how often the overdue task sweep runs.
func (c *Config) OverdueSweepInterval() time.Duration {
	if c.OverdueSweepMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.OverdueSweepMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is required so real authentication is enforced, and the
// configured responder must be usable.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV is not development")
	}

	switch c.ResponderProvider {
	case "webhook":
		if !c.IsDev() && c.ResponderURL == "" {
			return fmt.Errorf("RESPONDER_URL is required when RESPONDER_PROVIDER is \"webhook\"")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when RESPONDER_PROVIDER is \"openai\"")
		}
	case "none":
		// Canned replies only.
	default:
		return fmt.Errorf("RESPONDER_PROVIDER must be \"webhook\", \"openai\", or \"none\", got %q", c.ResponderProvider)
	}

	if c.PainThreshold < 1 || c.PainThreshold > 10 {
		return fmt.Errorf("PAIN_ESCALATION_THRESHOLD must be between 1 and 10, got %d", c.PainThreshold)
	}

	return nil
}
