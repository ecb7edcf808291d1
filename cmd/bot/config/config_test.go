package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvBotToken, "token")

	cfg, err := Load(logging.Discard())
	require.NoError(t, err)
	require.Equal(t, "token", cfg.BotToken)
	require.Equal(t, "8080", cfg.MonitoringPort)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, defaultSQLiteDSN, cfg.DatabaseDSN)
	require.Equal(t, time.Hour, cfg.TicketSweepInterval)
	require.Equal(t, time.Minute, cfg.SanctionSweepInterval)
	require.Equal(t, uint(5), cfg.ExecutorMaxTries)
	require.False(t, cfg.DryRun)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv(EnvBotToken, "token")
	t.Setenv(EnvDatabaseDriver, "mongo")
	t.Setenv(EnvMongoUri, "mongodb://localhost:27017")
	t.Setenv(EnvTicketSweepInterval, "30m")
	t.Setenv(EnvSanctionSweepInterval, "15s")
	t.Setenv(EnvDryRun, "true")
	t.Setenv(EnvMaxTicketDays, "60")

	cfg, err := Load(logging.Discard())
	require.NoError(t, err)
	require.Equal(t, DriverMongo, cfg.DatabaseDriver)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoUri)
	require.Equal(t, 30*time.Minute, cfg.TicketSweepInterval)
	require.Equal(t, 15*time.Second, cfg.SanctionSweepInterval)
	require.True(t, cfg.DryRun)
	require.Equal(t, 60, cfg.MaxTicketDays)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "no token",
			env:  map[string]string{},
			want: EnvBotToken,
		},
		{
			name: "postgres without dsn",
			env:  map[string]string{EnvBotToken: "token", EnvDatabaseDriver: "pgx"},
			want: EnvDatabaseDSN,
		},
		{
			name: "mongo without uri",
			env:  map[string]string{EnvBotToken: "token", EnvDatabaseDriver: "mongo"},
			want: EnvMongoUri,
		},
		{
			name: "unknown driver",
			env:  map[string]string{EnvBotToken: "token", EnvDatabaseDriver: "mysql"},
			want: "unknown",
		},
		{
			name: "negative ticket cap",
			env:  map[string]string{EnvBotToken: "token", EnvMaxTicketDays: "-1"},
			want: EnvMaxTicketDays,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvBotToken, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(logging.Discard())
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicy(t *testing.T) {
	path := writePolicy(t, `
tiers:
  - tier: moderate
    keywords: ["clown"]
    policy:
      action: timeout
      duration: 30m
      escalation_points: 3
      auto_delete_source_message: true
  - tier: low
    keywords: ["noob"]
`)

	cfg := &Config{PolicyFile: path}
	cls, err := cfg.Classifier()
	require.NoError(t, err)

	tier, kw, ok := cls.Classify("what a CLOWN")
	require.True(t, ok)
	require.Equal(t, entities.TierModerate, tier)
	require.Equal(t, "clown", kw)

	p, ok := cls.Policy(entities.TierModerate)
	require.True(t, ok)
	require.Equal(t, entities.KindTimeout, p.Action)
	require.Equal(t, 30*time.Minute, p.Duration)
	require.Equal(t, 3, p.EscalationPoints)

	// Keywords replaced, policy kept.
	_, _, ok = cls.Classify("you idiot")
	require.False(t, ok)
	tier, _, ok = cls.Classify("noob")
	require.True(t, ok)
	require.Equal(t, entities.TierLow, tier)
	p, _ = cls.Policy(entities.TierLow)
	require.Equal(t, entities.KindWarn, p.Action)

	// Untouched tiers keep their keywords.
	tier, _, ok = cls.Classify("kys")
	require.True(t, ok)
	require.Equal(t, entities.TierSevere, tier)
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown tier", body: "tiers:\n  - tier: mild\n", want: "unknown tier"},
		{name: "bad policy", body: "tiers:\n  - tier: low\n    policy:\n      action: kick\n", want: "unsupported policy action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PolicyFile: writePolicy(t, tt.body)}
			_, err := cfg.Classifier()
			require.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorContains(t, err, "error reading policy file")
	})
}
