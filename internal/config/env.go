package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Snapshot backends accepted by SNAPSHOT_BACKEND.
const (
	SnapshotBackendFile   = "file"
	SnapshotBackendMongo  = "mongo"
	SnapshotBackendMemory = "memory"
)

// ServerConfig holds all configuration of the HTTP server shell.
type ServerConfig struct {
	Server    ListenConfig
	TTS       TTSConfig
	Snapshot  SnapshotConfig
	MongoDB   MongoDBConfig
	S3        S3Config
	InfluxDB  InfluxDBConfig
	ExportDir string
}

// ListenConfig holds the listen address.
type ListenConfig struct {
	Host string
	Port string
}

// TTSConfig holds the remote synthesis API and batch policy.
type TTSConfig struct {
	APIBaseURL     string
	MaxRetries     int
	PollIntervalMS int
}

// SnapshotConfig selects where the current batch is persisted.
type SnapshotConfig struct {
	Backend string
	Path    string
}

// MongoDBConfig holds MongoDB connection details for the snapshot backend.
type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
}

// S3Config holds S3 connection details for archive uploads.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional: for S3-compatible services like MinIO
	Prefix          string
}

// Enabled reports whether archive uploads to S3 are configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// InfluxDBConfig holds InfluxDB connection details for task telemetry.
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether telemetry should be written.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// Load loads server configuration from environment variables.
func Load() (*ServerConfig, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	defaults := DefaultSettings()
	maxRetries, err := getEnvInt("TTS_MAX_RETRIES", defaults.MaxRetries)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvInt("TTS_POLL_INTERVAL_MS", defaults.PollIntervalMS)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Server: ListenConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8001"),
		},
		TTS: TTSConfig{
			APIBaseURL:     strings.TrimRight(getEnv("TTS_API_BASE_URL", DefaultAPIBaseURL), "/"),
			MaxRetries:     maxRetries,
			PollIntervalMS: pollInterval,
		},
		Snapshot: SnapshotConfig{
			Backend: strings.ToLower(getEnv("SNAPSHOT_BACKEND", SnapshotBackendFile)),
			Path:    getEnv("SNAPSHOT_PATH", defaults.SnapshotPath),
		},
		MongoDB: MongoDBConfig{
			URI:        getEnv("MONGODB_URI", ""),
			Database:   getEnv("MONGODB_DATABASE", "tts_batch"),
			Collection: getEnv("MONGODB_COLLECTION", "snapshots"),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Prefix:          getEnv("S3_PREFIX", "tts-results"),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB2_URL", ""),
			Token:  getEnv("INFLUXDB2_TOKEN", ""),
			Org:    getEnv("INFLUXDB2_ORG", ""),
			Bucket: getEnv("INFLUXDB2_BUCKET", ""),
		},
		ExportDir: getEnv("EXPORT_DIR", defaults.OutputDir),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects inconsistent backend selections.
func (c *ServerConfig) validate() error {
	if c.TTS.MaxRetries < 0 {
		return fmt.Errorf("TTS_MAX_RETRIES must not be negative")
	}
	if c.TTS.PollIntervalMS <= 0 {
		return fmt.Errorf("TTS_POLL_INTERVAL_MS must be positive")
	}

	switch c.Snapshot.Backend {
	case SnapshotBackendFile:
		if c.Snapshot.Path == "" {
			return fmt.Errorf("SNAPSHOT_PATH is required for the file backend")
		}
	case SnapshotBackendMongo:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	case SnapshotBackendMemory:
	default:
		return fmt.Errorf("unknown SNAPSHOT_BACKEND: %s", c.Snapshot.Backend)
	}

	if c.S3.Enabled() && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET is set")
	}
	if c.InfluxDB.Enabled() && (c.InfluxDB.Token == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("INFLUXDB2_TOKEN, INFLUXDB2_ORG and INFLUXDB2_BUCKET are required when INFLUXDB2_URL is set")
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable.
func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}
