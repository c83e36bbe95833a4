package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Slack      SlackConfig
	Docker     DockerConfig
	Session    SessionConfig
	Executor   ExecutorConfig
	LogLevel   string
	LogFormat  string
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret    string //nolint:gosec // G117: JWT signing secret config
	AccessTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	// PublicURL is the externally reachable base used in ticket detail links.
	PublicURL string
	RateRPS   float64
	RateBurst int
	// CommandRPS and CommandBurst limit command submissions per user and session.
	CommandRPS   float64
	CommandBurst int
}

// SlackConfig holds reviewer notification settings. Slack is disabled when
// BotToken is empty.
type SlackConfig struct {
	BotToken          string
	SigningSecret     string
	ReviewChannel     string
	EscalationChannel string
}

// Enabled reports whether reviewer notifications go to Slack.
func (c SlackConfig) Enabled() bool {
	return c.BotToken != ""
}

// DockerConfig holds the sandbox executor settings. The docker protocol is
// disabled when Host is empty.
type DockerConfig struct {
	Host  string
	Shell string
	User  string
}

// SessionConfig holds recording, idle and review timing settings.
type SessionConfig struct {
	ReplayDir             string
	ArchiveDir            string
	TermWidth             int
	TermHeight            int
	Shell                 string
	Term                  string
	RecorderQueue         int
	IdleCheckInterval     time.Duration
	DefaultMaxIdleMinutes int
	DecisionPoll          time.Duration
	DecisionTimeout       time.Duration
	TicketPoll            time.Duration
	TicketTimeout         time.Duration
	TicketWatchInterval   time.Duration
	CloseTimeout          time.Duration
}

// ExecutorConfig holds the upstream model endpoint settings. The http
// protocol is disabled when URL is empty.
type ExecutorConfig struct {
	URL          string
	Timeout      time.Duration
	TokenURL     string
	ClientID     string
	ClientSecret string //nolint:gosec // G117: OAuth2 client config
	Scopes       []string
	RateRPS      float64
	RateBurst    int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("CHATGATE_DB_HOST", "localhost"),
			Port:     p.int("CHATGATE_DB_PORT", 5432),
			User:     getEnv("CHATGATE_DB_USER", "chatgate"),
			Password: getEnv("CHATGATE_DB_PASSWORD", ""),
			DBName:   getEnv("CHATGATE_DB_NAME", "chatgate_dev"),
			SSLMode:  getEnv("CHATGATE_DB_SSLMODE", "disable"),
			MaxConns: p.int("CHATGATE_DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CHATGATE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CHATGATE_REDIS_PASSWORD", ""),
			DB:       p.int("CHATGATE_REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:    getEnv("CHATGATE_JWT_SECRET", ""),
			AccessTTL: p.duration("CHATGATE_JWT_ACCESS_TTL", 15*time.Minute),
		},
		Server: ServerConfig{
			Addr:         getEnv("CHATGATE_SERVER_ADDR", ":8080"),
			ReadTimeout:  p.duration("CHATGATE_SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: p.duration("CHATGATE_SERVER_WRITE_TIMEOUT", 5*time.Minute),
			CORSOrigins:  getEnvList("CHATGATE_CORS_ORIGINS", []string{"http://localhost:5173"}),
			PublicURL:    getEnv("CHATGATE_PUBLIC_URL", "http://localhost:8080"),
			RateRPS:      p.float("CHATGATE_RATE_RPS", 100),
			RateBurst:    p.int("CHATGATE_RATE_BURST", 200),
			CommandRPS:   p.float("CHATGATE_COMMAND_RPS", 2),
			CommandBurst: p.int("CHATGATE_COMMAND_BURST", 5),
		},
		Slack: SlackConfig{
			BotToken:          getEnv("CHATGATE_SLACK_BOT_TOKEN", ""),
			SigningSecret:     getEnv("CHATGATE_SLACK_SIGNING_SECRET", ""),
			ReviewChannel:     getEnv("CHATGATE_SLACK_REVIEW_CHANNEL", ""),
			EscalationChannel: getEnv("CHATGATE_SLACK_ESCALATION_CHANNEL", ""),
		},
		Docker: DockerConfig{
			Host:  getEnv("CHATGATE_DOCKER_HOST", ""),
			Shell: getEnv("CHATGATE_DOCKER_SHELL", "/bin/sh"),
			User:  getEnv("CHATGATE_DOCKER_USER", ""),
		},
		Session: SessionConfig{
			ReplayDir:             getEnv("CHATGATE_REPLAY_DIR", "replays"),
			ArchiveDir:            getEnv("CHATGATE_ARCHIVE_DIR", "archive"),
			TermWidth:             p.int("CHATGATE_TERM_WIDTH", 80),
			TermHeight:            p.int("CHATGATE_TERM_HEIGHT", 24),
			Shell:                 getEnv("CHATGATE_REPLAY_SHELL", "/bin/bash"),
			Term:                  getEnv("CHATGATE_REPLAY_TERM", "xterm"),
			RecorderQueue:         p.int("CHATGATE_RECORDER_QUEUE", 256),
			IdleCheckInterval:     p.duration("CHATGATE_IDLE_CHECK_INTERVAL", 3*time.Second),
			DefaultMaxIdleMinutes: p.int("CHATGATE_DEFAULT_MAX_IDLE_MINUTES", 30),
			DecisionPoll:          p.duration("CHATGATE_REVIEW_DECISION_POLL", time.Second),
			DecisionTimeout:       p.duration("CHATGATE_REVIEW_DECISION_TIMEOUT", 60*time.Second),
			TicketPoll:            p.duration("CHATGATE_TICKET_POLL", 2*time.Second),
			TicketTimeout:         p.duration("CHATGATE_TICKET_TIMEOUT", 3*time.Minute),
			TicketWatchInterval:   p.duration("CHATGATE_TICKET_WATCH_INTERVAL", 30*time.Second),
			CloseTimeout:          p.duration("CHATGATE_CLOSE_TIMEOUT", 30*time.Second),
		},
		Executor: ExecutorConfig{
			URL:          getEnv("CHATGATE_EXECUTOR_URL", ""),
			Timeout:      p.duration("CHATGATE_EXECUTOR_TIMEOUT", 60*time.Second),
			TokenURL:     getEnv("CHATGATE_EXECUTOR_TOKEN_URL", ""),
			ClientID:     getEnv("CHATGATE_EXECUTOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CHATGATE_EXECUTOR_CLIENT_SECRET", ""),
			Scopes:       getEnvList("CHATGATE_EXECUTOR_SCOPES", nil),
			RateRPS:      p.float("CHATGATE_EXECUTOR_RPS", 0),
			RateBurst:    p.int("CHATGATE_EXECUTOR_BURST", 1),
		},
		LogLevel:   getEnv("CHATGATE_LOG_LEVEL", "info"),
		LogFormat:  getEnv("CHATGATE_LOG_FORMAT", "json"),
		SelfHosted: p.bool("CHATGATE_SELF_HOSTED", false),
	}

	if p.err != nil {
		return nil, fmt.Errorf("config.Load: %w", p.err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("CHATGATE_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("CHATGATE_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("CHATGATE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("CHATGATE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("CHATGATE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("CHATGATE_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CHATGATE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("CHATGATE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateRPS <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("CHATGATE_RATE_RPS and CHATGATE_RATE_BURST must be positive, got %g/%d", c.Server.RateRPS, c.Server.RateBurst)
	}
	if c.Server.CommandRPS <= 0 || c.Server.CommandBurst < 1 {
		return fmt.Errorf("CHATGATE_COMMAND_RPS and CHATGATE_COMMAND_BURST must be positive, got %g/%d", c.Server.CommandRPS, c.Server.CommandBurst)
	}
	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
		return fmt.Errorf("CHATGATE_PUBLIC_URL is not a valid URL: %w", err)
	}

	if c.Slack.Enabled() {
		if c.Slack.SigningSecret == "" {
			return errors.New("CHATGATE_SLACK_SIGNING_SECRET is required when Slack is enabled")
		}
		if c.Slack.ReviewChannel == "" {
			return errors.New("CHATGATE_SLACK_REVIEW_CHANNEL is required when Slack is enabled")
		}
	}

	if c.Executor.URL == "" && c.Docker.Host == "" {
		return errors.New("at least one of CHATGATE_EXECUTOR_URL or CHATGATE_DOCKER_HOST must be set")
	}
	if c.Executor.TokenURL != "" && c.Executor.ClientID == "" {
		return errors.New("CHATGATE_EXECUTOR_CLIENT_ID is required with CHATGATE_EXECUTOR_TOKEN_URL")
	}

	s := c.Session
	if s.TermWidth < 1 || s.TermHeight < 1 {
		return fmt.Errorf("terminal geometry must be positive, got %dx%d", s.TermWidth, s.TermHeight)
	}
	if s.DefaultMaxIdleMinutes < 1 {
		return fmt.Errorf("CHATGATE_DEFAULT_MAX_IDLE_MINUTES must be >= 1, got %d", s.DefaultMaxIdleMinutes)
	}
	for key, d := range map[string]time.Duration{
		"CHATGATE_IDLE_CHECK_INTERVAL":     s.IdleCheckInterval,
		"CHATGATE_REVIEW_DECISION_POLL":    s.DecisionPoll,
		"CHATGATE_REVIEW_DECISION_TIMEOUT": s.DecisionTimeout,
		"CHATGATE_TICKET_POLL":             s.TicketPoll,
		"CHATGATE_TICKET_TIMEOUT":          s.TicketTimeout,
		"CHATGATE_TICKET_WATCH_INTERVAL":   s.TicketWatchInterval,
		"CHATGATE_CLOSE_TIMEOUT":           s.CloseTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	n, err := getEnvInt(key, fallback)
	p.err = errors.Join(p.err, err)
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	f, err := getEnvFloat(key, fallback)
	p.err = errors.Join(p.err, err)
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	b, err := getEnvBool(key, fallback)
	p.err = errors.Join(p.err, err)
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	d, err := getEnvDuration(key, fallback)
	p.err = errors.Join(p.err, err)
	return d
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
