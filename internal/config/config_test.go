package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "STORE_TIMEOUT", "FRESHNESS_WINDOW", "JWT_SECRET", "CORS_ORIGINS", "LOG_LEVEL", "MQTT_BROKER"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, time.Minute, cfg.FreshnessWindow)
	assert.Equal(t, "basins/+/readings", cfg.MQTTTopic)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "InfluxDB")
	t.Setenv("INFLUXDB_URL", "http://localhost:8086")
	t.Setenv("INFLUXDB_TOKEN", "token")
	t.Setenv("INFLUXDB_ORG", "evergreen")
	t.Setenv("FRESHNESS_WINDOW", "90s")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://dash.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendInfluxDB, cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.FreshnessWindow)
	assert.Equal(t, []string{"http://localhost:3000", "https://dash.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestFromEnvRejects(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"incomplete influx": {"STORE_BACKEND": "influxdb", "INFLUXDB_URL": "", "INFLUXDB_TOKEN": "", "INFLUXDB_ORG": ""},
		"unknown backend":   {"STORE_BACKEND": "mongo"},
		"bad duration":      {"STORE_TIMEOUT": "soon"},
		"jwt without iss":   {"JWT_SECRET": "s3cret", "JWT_ISSUER": "", "JWT_AUDIENCE": "dashboard"},
		"port":              {"PORT": "http"},
		"log level":         {"LOG_LEVEL": "loud"},
	} {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadEmulatorConfig(t *testing.T) {
	t.Setenv("EMULATOR_BASINS", "basin-01,basin-02")
	t.Setenv("EMULATOR_INTERVAL", "2s")

	cfg, err := LoadEmulatorConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"basin-01", "basin-02"}, cfg.BasinIDs)
	assert.Equal(t, 2*time.Second, cfg.Interval)
}
