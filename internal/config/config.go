// Package config loads chprobe settings from defaults, an optional YAML
// file, CHPROBE_* environment variables and bound command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mrk-andreev/chprobe/internal/broker"
	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/poll"
)

const (
	configFileName = "chprobe"
	configFileType = "yaml"
	envPrefix      = "CHPROBE"

	KeyNative       = "clickhouse.native"
	KeyHTTP         = "clickhouse.http"
	KeyDatabase     = "clickhouse.database"
	KeyUser         = "clickhouse.user"
	KeyUsers        = "clickhouse.users"
	KeyDialTimeout  = "clickhouse.dial_timeout"
	KeyReadTimeout  = "clickhouse.read_timeout"
	KeyBrokers      = "kafka.brokers"
	KeyClientID     = "kafka.client_id"
	KeyPollAttempts = "poll.attempts"
	KeyPollInterval = "poll.interval"
	KeyStrictInline = "probe.strict_inline"
	KeyJournal      = "journal"
)

// Config is the resolved configuration.
type Config struct {
	ClickHouse chclient.Config
	// Kafka.Brokers is empty when no broker is configured; topic steps
	// then fail.
	Kafka        broker.Config
	Poll         poll.Options
	StrictInline bool
	// Journal is the SQLite run journal path. Empty disables recording.
	Journal string
}

// New returns a viper instance with defaults and environment lookup set up.
// CHPROBE_CLICKHOUSE_NATIVE overrides clickhouse.native, and so on.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyNative, "localhost:9000")
	v.SetDefault(KeyHTTP, "localhost:8123")
	v.SetDefault(KeyDatabase, "default")
	v.SetDefault(KeyUser, chclient.DefaultUser)
	v.SetDefault(KeyUsers, map[string]string{})
	v.SetDefault(KeyDialTimeout, 5*time.Second)
	v.SetDefault(KeyReadTimeout, 30*time.Second)
	v.SetDefault(KeyBrokers, []string{})
	v.SetDefault(KeyClientID, "chprobe")
	v.SetDefault(KeyPollAttempts, poll.DefaultAttempts)
	v.SetDefault(KeyPollInterval, poll.DefaultInterval)
	v.SetDefault(KeyStrictInline, false)
	v.SetDefault(KeyJournal, "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path into v. With an empty path chprobe.yaml is looked up
// in the working directory, and its absence is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// BindFlags binds flags to keys, skipping flags that are not defined.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ClickHouse: chclient.Config{
			NativeAddr:  strings.TrimSpace(v.GetString(KeyNative)),
			HTTPAddr:    strings.TrimSpace(v.GetString(KeyHTTP)),
			Database:    v.GetString(KeyDatabase),
			User:        v.GetString(KeyUser),
			Passwords:   v.GetStringMapString(KeyUsers),
			DialTimeout: v.GetDuration(KeyDialTimeout),
			ReadTimeout: v.GetDuration(KeyReadTimeout),
		},
		Kafka: broker.Config{
			Brokers:  splitList(v.GetStringSlice(KeyBrokers)),
			ClientID: v.GetString(KeyClientID),
		},
		Poll: poll.Options{
			Attempts: v.GetInt(KeyPollAttempts),
			Interval: v.GetDuration(KeyPollInterval),
		},
		StrictInline: v.GetBool(KeyStrictInline),
		Journal:      strings.TrimSpace(v.GetString(KeyJournal)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Poll.Attempts < 1 {
		return fmt.Errorf("config: %s must be positive, got %d", KeyPollAttempts, c.Poll.Attempts)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("config: %s must not be negative, got %s", KeyPollInterval, c.Poll.Interval)
	}
	return nil
}

// splitList accepts both YAML lists and a comma separated environment value.
func splitList(in []string) []string {
	out := []string{}
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
