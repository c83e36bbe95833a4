package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32ch"

// setRequired sets the variables Load cannot default.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CHATGATE_JWT_SECRET", testSecret)
	t.Setenv("CHATGATE_EXECUTOR_URL", "http://model.local/run")
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "CHATGATE_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "CHATGATE_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "CHATGATE_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "CHATGATE_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CHATGATE_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "CHATGATE_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "CHATGATE_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "returns fallback for empty string", key: "CHATGATE_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "CHATGATE_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "CHATGATE_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("CHATGATE_TEST_FLOAT_OK", "0.5")
	t.Setenv("CHATGATE_TEST_FLOAT_BAD", "fast")

	got, err := getEnvFloat("CHATGATE_TEST_FLOAT_OK", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)

	got, err = getEnvFloat("CHATGATE_TEST_FLOAT_UNSET", 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-9)

	_, err = getEnvFloat("CHATGATE_TEST_FLOAT_BAD", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATGATE_TEST_FLOAT_BAD")
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CHATGATE_TEST_BOOL_UNSET", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "CHATGATE_TEST_BOOL_TRUE", setVal: strPtr("true"), fallback: false, want: true},
		{name: "parses 0", key: "CHATGATE_TEST_BOOL_ZERO", setVal: strPtr("0"), fallback: true, want: false},
		{name: "errors on invalid", key: "CHATGATE_TEST_BOOL_INV", setVal: strPtr("yes"), fallback: false, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CHATGATE_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses composite", key: "CHATGATE_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses milliseconds", key: "CHATGATE_TEST_DUR_MS", setVal: strPtr("250ms"), fallback: 0, want: 250 * time.Millisecond},
		{name: "errors on bare number", key: "CHATGATE_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CHATGATE_TEST_LIST", " a, ,b ,c")

	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("CHATGATE_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("CHATGATE_TEST_LIST_UNSET", []string{"x"}))
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("CHATGATE_EXECUTOR_URL", "http://model.local/run")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CHATGATE_JWT_SECRET")
}

func TestLoad_NoExecutor(t *testing.T) {
	t.Setenv("CHATGATE_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CHATGATE_EXECUTOR_URL")
}

func TestLoad_ReportsEveryMalformedVariable(t *testing.T) {
	setRequired(t)
	t.Setenv("CHATGATE_DB_PORT", "abc")
	t.Setenv("CHATGATE_TICKET_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATGATE_DB_PORT")
	assert.Contains(t, err.Error(), "CHATGATE_TICKET_TIMEOUT")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envs   map[string]string
		errMsg string
	}{
		{name: "DB_PORT zero", envs: map[string]string{"CHATGATE_DB_PORT": "0"}, errMsg: "CHATGATE_DB_PORT"},
		{name: "DB_PORT too high", envs: map[string]string{"CHATGATE_DB_PORT": "65536"}, errMsg: "CHATGATE_DB_PORT"},
		{name: "DB_MAX_CONNS zero", envs: map[string]string{"CHATGATE_DB_MAX_CONNS": "0"}, errMsg: "CHATGATE_DB_MAX_CONNS"},
		{name: "JWT secret too short", envs: map[string]string{"CHATGATE_JWT_SECRET": "short"}, errMsg: "at least 32"},
		{name: "JWT_ACCESS_TTL zero", envs: map[string]string{"CHATGATE_JWT_ACCESS_TTL": "0s"}, errMsg: "CHATGATE_JWT_ACCESS_TTL"},
		{name: "SERVER_READ_TIMEOUT zero", envs: map[string]string{"CHATGATE_SERVER_READ_TIMEOUT": "0s"}, errMsg: "CHATGATE_SERVER_READ_TIMEOUT"},
		{name: "rate zero", envs: map[string]string{"CHATGATE_RATE_RPS": "0"}, errMsg: "CHATGATE_RATE_RPS"},
		{name: "command burst zero", envs: map[string]string{"CHATGATE_COMMAND_BURST": "0"}, errMsg: "CHATGATE_COMMAND_BURST"},
		{name: "public url invalid", envs: map[string]string{"CHATGATE_PUBLIC_URL": "not a url"}, errMsg: "CHATGATE_PUBLIC_URL"},
		{name: "slack without signing secret", envs: map[string]string{"CHATGATE_SLACK_BOT_TOKEN": "xoxb-1", "CHATGATE_SLACK_REVIEW_CHANNEL": "C1"}, errMsg: "CHATGATE_SLACK_SIGNING_SECRET"},
		{name: "slack without channel", envs: map[string]string{"CHATGATE_SLACK_BOT_TOKEN": "xoxb-1", "CHATGATE_SLACK_SIGNING_SECRET": "s"}, errMsg: "CHATGATE_SLACK_REVIEW_CHANNEL"},
		{name: "token url without client", envs: map[string]string{"CHATGATE_EXECUTOR_TOKEN_URL": "http://idp/token"}, errMsg: "CHATGATE_EXECUTOR_CLIENT_ID"},
		{name: "terminal width zero", envs: map[string]string{"CHATGATE_TERM_WIDTH": "0"}, errMsg: "terminal geometry"},
		{name: "max idle zero", envs: map[string]string{"CHATGATE_DEFAULT_MAX_IDLE_MINUTES": "0"}, errMsg: "CHATGATE_DEFAULT_MAX_IDLE_MINUTES"},
		{name: "decision timeout zero", envs: map[string]string{"CHATGATE_REVIEW_DECISION_TIMEOUT": "0s"}, errMsg: "CHATGATE_REVIEW_DECISION_TIMEOUT"},
		{name: "self hosted not a bool", envs: map[string]string{"CHATGATE_SELF_HOSTED": "yes"}, errMsg: "CHATGATE_SELF_HOSTED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "chatgate", cfg.Database.User)
	assert.Equal(t, "chatgate_dev", cfg.Database.DBName)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:8080", cfg.Server.PublicURL)
	assert.InDelta(t, 100, cfg.Server.RateRPS, 1e-9)
	assert.Equal(t, 200, cfg.Server.RateBurst)
	assert.InDelta(t, 2, cfg.Server.CommandRPS, 1e-9)
	assert.Equal(t, 5, cfg.Server.CommandBurst)

	assert.False(t, cfg.Slack.Enabled())
	assert.Empty(t, cfg.Docker.Host)
	assert.Equal(t, "/bin/sh", cfg.Docker.Shell)

	assert.Equal(t, "replays", cfg.Session.ReplayDir)
	assert.Equal(t, "archive", cfg.Session.ArchiveDir)
	assert.Equal(t, 80, cfg.Session.TermWidth)
	assert.Equal(t, 24, cfg.Session.TermHeight)
	assert.Equal(t, 30, cfg.Session.DefaultMaxIdleMinutes)
	assert.Equal(t, 60*time.Second, cfg.Session.DecisionTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Session.TicketTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.TicketWatchInterval)

	assert.Equal(t, "http://model.local/run", cfg.Executor.URL)
	assert.Zero(t, cfg.Executor.RateRPS)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.SelfHosted)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		"CHATGATE_DB_HOST":                  "db.prod.internal",
		"CHATGATE_DB_PORT":                  "5433",
		"CHATGATE_DB_SSLMODE":               "require",
		"CHATGATE_REDIS_ADDR":               "redis.prod:6380",
		"CHATGATE_REDIS_DB":                 "3",
		"CHATGATE_JWT_SECRET":               "prod-jwt-secret-256-bits-long!!!",
		"CHATGATE_JWT_ACCESS_TTL":           "30m",
		"CHATGATE_SERVER_ADDR":              ":9090",
		"CHATGATE_CORS_ORIGINS":             "https://a.example, https://b.example",
		"CHATGATE_PUBLIC_URL":               "https://gate.example",
		"CHATGATE_SLACK_BOT_TOKEN":          "xoxb-test",
		"CHATGATE_SLACK_SIGNING_SECRET":     "slack-sign",
		"CHATGATE_SLACK_REVIEW_CHANNEL":     "C-REVIEW",
		"CHATGATE_SLACK_ESCALATION_CHANNEL": "C-ONCALL",
		"CHATGATE_DOCKER_HOST":              "tcp://docker:2375",
		"CHATGATE_DOCKER_USER":              "sandbox",
		"CHATGATE_TICKET_TIMEOUT":           "10m",
		"CHATGATE_RECORDER_QUEUE":           "64",
		"CHATGATE_EXECUTOR_TOKEN_URL":       "https://idp.example/token",
		"CHATGATE_EXECUTOR_CLIENT_ID":       "gate",
		"CHATGATE_EXECUTOR_SCOPES":          "run,read",
		"CHATGATE_EXECUTOR_RPS":             "2.5",
		"CHATGATE_LOG_LEVEL":                "debug",
		"CHATGATE_LOG_FORMAT":               "text",
		"CHATGATE_SELF_HOSTED":              "true",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Slack.Enabled())
	assert.Equal(t, "C-ONCALL", cfg.Slack.EscalationChannel)
	assert.Equal(t, "tcp://docker:2375", cfg.Docker.Host)
	assert.Equal(t, "sandbox", cfg.Docker.User)
	assert.Equal(t, 10*time.Minute, cfg.Session.TicketTimeout)
	assert.Equal(t, 64, cfg.Session.RecorderQueue)
	assert.Empty(t, cfg.Executor.URL)
	assert.Equal(t, []string{"run", "read"}, cfg.Executor.Scopes)
	assert.InDelta(t, 2.5, cfg.Executor.RateRPS, 1e-9)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.SelfHosted)
}

func TestDSN(t *testing.T) {
	t.Parallel()

	c := &DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", DBName: "d", SSLMode: "require"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=require", c.DSN())
}
