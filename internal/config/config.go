package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Backends accepted by DATA_BACKEND and OBJECT_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	ObjectsLocal = "local"
	ObjectsGCS   = "gcs"
)

type Config struct {
	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP change relay, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string

	// Realtime
	PushBuffer int

	// Object storage
	ObjectBackend  string
	ObjectsDir     string
	ObjectsBaseURL string
	ObjectsBucket  string

	// Session
	SessionFile   string
	SessionSecret string
	SessionTTL    time.Duration

	// Categories created for every new account
	SeedCategoriesFile string

	// Google
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Exporter
	ExportBatchSize int
	ExportInterval  time.Duration

	// Observability
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func Load() *Config {
	cfg := &Config{
		DataBackend:  getEnv("DATA_BACKEND", BackendSQLite),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/chitieu.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chitieu.changes"),

		PushBuffer: getEnvInt("PUSH_BUFFER", 256),

		ObjectBackend:  getEnv("OBJECT_BACKEND", ObjectsLocal),
		ObjectsDir:     getEnv("OBJECTS_DIR", "./data/objects"),
		ObjectsBaseURL: getEnv("OBJECTS_BASE_URL", ""),
		ObjectsBucket:  getEnv("OBJECTS_BUCKET", ""),

		SessionFile:   getEnv("SESSION_FILE", defaultSessionFile()),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),

		SeedCategoriesFile: getEnv("SEED_CATEGORIES_FILE", "./data/seed_categories.txt"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		ExportBatchSize: getEnvInt("EXPORT_BATCH_SIZE", 20),
		ExportInterval:  getEnvDuration("EXPORT_INTERVAL", 5*time.Second),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate data backend
	validBackends := []string{BackendMemory, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if err := ensureDir(filepath.Dir(c.SQLiteDBPath)); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create SQLite database directory: %v", err))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.DataBackend == BackendMemory {
			errors = append(errors, "AMQP relay requires a shared backend: use DATA_BACKEND=sqlite")
		}
	}

	if c.PushBuffer < 1 {
		errors = append(errors, fmt.Sprintf("invalid push buffer %d: must be at least 1", c.PushBuffer))
	}

	// Validate object storage
	switch c.ObjectBackend {
	case ObjectsLocal:
		if c.ObjectsDir == "" {
			errors = append(errors, "OBJECTS_DIR cannot be empty when using local object storage")
		}
		if c.ObjectsBaseURL != "" {
			if u, err := url.Parse(c.ObjectsBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errors = append(errors, fmt.Sprintf("invalid objects base URL '%s': must be an absolute URL", c.ObjectsBaseURL))
			}
		}
	case ObjectsGCS:
		if c.ObjectsBucket == "" {
			errors = append(errors, "OBJECTS_BUCKET is required when using gcs object storage")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid object backend '%s': must be one of [%s %s]", c.ObjectBackend, ObjectsLocal, ObjectsGCS))
	}

	// Validate session
	if c.SessionFile == "" {
		errors = append(errors, "SESSION_FILE cannot be empty")
	}
	if len(c.SessionSecret) < 16 {
		errors = append(errors, "SESSION_SECRET must be at least 16 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.MetricsAddr != "" && !strings.Contains(c.MetricsAddr, ":") {
		errors = append(errors, fmt.Sprintf("invalid metrics address '%s': must be host:port", c.MetricsAddr))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateExporter checks the settings the exporter needs on top of Validate.
func (c *Config) ValidateExporter() error {
	var errors []string

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required for the exporter")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required for the exporter")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.ExportBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at least 1", c.ExportBatchSize))
	} else if c.ExportBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at most 1000", c.ExportBatchSize))
	}

	if c.ExportInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at least 1 second", c.ExportInterval))
	} else if c.ExportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at most 24 hours", c.ExportInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("exporter configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func defaultSessionFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chitieu", "session.jwt")
	}
	return ".chitieu-session"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
