package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendInfluxDB = "influxdb"
)

// Config holds the application's configuration.
type Config struct {
	Port     string
	LogLevel zerolog.Level

	StoreBackend string
	StoreTimeout time.Duration
	SQLitePath   string

	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	FreshnessWindow time.Duration
	DirectoryFile   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	CORSOrigins []string
}

// LoadConfig loads .env when present, then reads the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "8000"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:     getEnv("SQLITE_PATH", "evergreen.db"),
		InfluxDBURL:    os.Getenv("INFLUXDB_URL"),
		InfluxDBToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxDBOrg:    os.Getenv("INFLUXDB_ORG"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "evergreen"),
		DirectoryFile:  getEnv("DIRECTORY_FILE", "configs/directory.yaml"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		MQTTBroker:     os.Getenv("MQTT_BROKER"),
		MQTTTopic:      getEnv("MQTT_TOPIC", "basins/+/readings"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "evergreen-backend"),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.LogLevel, err = zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.StoreTimeout, err = getDuration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FreshnessWindow, err = getDuration("FRESHNESS_WINDOW", 60*time.Second); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.StoreTimeout <= 0 || c.FreshnessWindow <= 0 {
		return fmt.Errorf("STORE_TIMEOUT and FRESHNESS_WINDOW must be positive")
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendInfluxDB:
		if c.InfluxDBURL == "" || c.InfluxDBToken == "" || c.InfluxDBOrg == "" {
			return fmt.Errorf("InfluxDB configuration is incomplete. Please set INFLUXDB_URL, INFLUXDB_TOKEN, and INFLUXDB_ORG environment variables")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.JWTSecret != "" && (c.JWTIssuer == "" || c.JWTAudience == "") {
		return fmt.Errorf("JWT_ISSUER and JWT_AUDIENCE are required when JWT_SECRET is set")
	}
	return nil
}

// EmulatorConfig configures the reading emulator.
type EmulatorConfig struct {
	BackendURL string
	BasinIDs   []string
	Interval   time.Duration
	LogLevel   zerolog.Level
}

func LoadEmulatorConfig() (EmulatorConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on system environment variables")
	}

	cfg := EmulatorConfig{
		BackendURL: getEnv("EMULATOR_BACKEND_URL", "http://localhost:8000"),
		BasinIDs:   splitList(getEnv("EMULATOR_BASINS", "basin-01")),
	}
	var err error
	if cfg.Interval, err = getDuration("EMULATOR_INTERVAL", 5*time.Second); err != nil {
		return EmulatorConfig{}, err
	}
	if cfg.LogLevel, err = zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return EmulatorConfig{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if len(cfg.BasinIDs) == 0 || cfg.Interval <= 0 {
		return EmulatorConfig{}, fmt.Errorf("EMULATOR_BASINS must name a basin and EMULATOR_INTERVAL must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
