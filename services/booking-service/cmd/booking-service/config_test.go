package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotdesk/libs/config"
)

func source(values map[string]any) *config.Source {
	src := config.FromViper(viper.New())
	for k, v := range values {
		src.Set(k, v)
	}
	return src
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg, err := loadServeConfig(source(map[string]any{
		"JWT_SECRET":   "secret",
		"DATABASE_URL": "postgres://localhost/slotdesk",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, driverPostgres, cfg.Store.Driver)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 30*time.Second, cfg.SettingsTTL)
	assert.False(t, cfg.NotifyEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadServeConfig_Overrides(t *testing.T) {
	cfg, err := loadServeConfig(source(map[string]any{
		"JWT_SECRET":        "secret",
		"STORE_DRIVER":      "sqlite",
		"SQLITE_PATH":       "/tmp/slotdesk.db",
		"BUSINESS_TIMEZONE": "Europe/Berlin",
		"KAFKA_BROKERS":     "kafka-1:9092, kafka-2:9092,",
		"RATE_LIMIT_WINDOW": "30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/slotdesk.db", cfg.Store.SQLitePath)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.NotifyEnabled)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
}

func TestLoadServeConfig_Errors(t *testing.T) {
	cases := map[string]map[string]any{
		"missing secret":   {"STORE_DRIVER": "sqlite"},
		"missing db url":   {"JWT_SECRET": "s"},
		"unknown driver":   {"JWT_SECRET": "s", "STORE_DRIVER": "mysql"},
		"bad timezone":     {"JWT_SECRET": "s", "STORE_DRIVER": "sqlite", "BUSINESS_TIMEZONE": "Mars/Olympus"},
		"bad port":         {"JWT_SECRET": "s", "STORE_DRIVER": "sqlite", "PORT": "99999"},
		"bad ttl duration": {"JWT_SECRET": "s", "STORE_DRIVER": "sqlite", "SETTINGS_CACHE_TTL": "soon"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadServeConfig(source(values))
			require.Error(t, err)
		})
	}
}

func TestHashPasswordCommand(t *testing.T) {
	root := newRootCmd()
	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs([]string{"hash-password", "pw"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "$2a$")
}
