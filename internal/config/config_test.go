package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "chprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v := New()
	require.NoError(t, ReadFile(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.NativeAddr)
	assert.Equal(t, "localhost:8123", cfg.ClickHouse.HTTPAddr)
	assert.Equal(t, "default", cfg.ClickHouse.Database)
	assert.Equal(t, "default", cfg.ClickHouse.User)
	assert.Empty(t, cfg.ClickHouse.Passwords)
	assert.Equal(t, 5*time.Second, cfg.ClickHouse.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.ClickHouse.ReadTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "chprobe", cfg.Kafka.ClientID)
	assert.Equal(t, 20, cfg.Poll.Attempts)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.False(t, cfg.StrictInline)
	assert.Empty(t, cfg.Journal)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
clickhouse:
  native: ch:9440
  http: ch:8443
  users:
    readonly_user: secret
  read_timeout: 2m
kafka:
  brokers: [k1:9092, k2:9092]
poll:
  attempts: 500
  interval: 0s
probe:
  strict_inline: true
journal: runs.db
`)
	v := New()
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "ch:9440", cfg.ClickHouse.NativeAddr)
	assert.Equal(t, "ch:8443", cfg.ClickHouse.HTTPAddr)
	assert.Equal(t, map[string]string{"readonly_user": "secret"}, cfg.ClickHouse.Passwords)
	assert.Equal(t, 2*time.Minute, cfg.ClickHouse.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500, cfg.Poll.Attempts)
	assert.Equal(t, time.Duration(0), cfg.Poll.Interval)
	assert.True(t, cfg.StrictInline)
	assert.Equal(t, "runs.db", cfg.Journal)
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "journal: found.db\n")
	t.Chdir(dir)

	v := New()
	require.NoError(t, ReadFile(v, ""))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "found.db", cfg.Journal)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CHPROBE_CLICKHOUSE_NATIVE", "env:9000")
	t.Setenv("CHPROBE_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("CHPROBE_POLL_ATTEMPTS", "3")

	path := writeConfig(t, t.TempDir(), "clickhouse:\n  native: file:9000\n")
	v := New()
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "env:9000", cfg.ClickHouse.NativeAddr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Poll.Attempts)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("CHPROBE_PROBE_STRICT_INLINE", "false")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("strict-inline", false, "")
	flags.String("db", "", "")
	require.NoError(t, flags.Parse([]string{"--strict-inline", "--db", "flag.db"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{
		"strict-inline": KeyStrictInline,
		"db":            KeyJournal,
		"missing":       KeyBrokers,
	}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.StrictInline)
	assert.Equal(t, "flag.db", cfg.Journal)
}

func TestReadFile_ExplicitMissing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestReadFile_Malformed(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "clickhouse: [\n")
	assert.Error(t, ReadFile(New(), path))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		want string
	}{
		{"no native", KeyNative, " ", "native address is required"},
		{"no http", KeyHTTP, "", "http address is required"},
		{"zero attempts", KeyPollAttempts, 0, "poll.attempts must be positive"},
		{"negative interval", KeyPollInterval, -time.Second, "poll.interval must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
