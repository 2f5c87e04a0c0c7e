package backend

import (
	"fmt"

	"chitieu/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		PushBuffer:   appConfig.PushBuffer,

		ObjectType:     ObjectType(appConfig.ObjectBackend),
		ObjectsDir:     appConfig.ObjectsDir,
		ObjectsBaseURL: appConfig.ObjectsBaseURL,
		ObjectsBucket:  appConfig.ObjectsBucket,

		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
		// AMQP is optional, so we don't validate it
	case MemoryBackend:
		if c.AMQPURL != "" {
			return fmt.Errorf("memory backend cannot share changes over AMQP")
		}
	}

	switch c.ObjectType {
	case "":
	case LocalObjects:
		if c.ObjectsDir == "" {
			return fmt.Errorf("objects directory is required for local object storage")
		}
	case GCSObjects:
		if c.ObjectsBucket == "" {
			return fmt.Errorf("bucket is required for gcs object storage")
		}
	default:
		return fmt.Errorf("invalid object storage type: %s", c.ObjectType)
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, MemoryBackend}
}
