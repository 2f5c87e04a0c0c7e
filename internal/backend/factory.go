package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	storage "google.golang.org/api/storage/v1"

	"chitieu/internal/amqp"
	"chitieu/internal/gateway"
	"chitieu/internal/gateway/memory"
	"chitieu/internal/gateway/sqlite"
	"chitieu/internal/googleapi"
	"chitieu/internal/objects/gcs"
	"chitieu/internal/objects/local"
	"chitieu/internal/realtime"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	hub := realtime.NewHub(config.PushBuffer, f.logger)

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config, hub)
	case MemoryBackend:
		result, err = f.createMemoryBackend(hub)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	objects, err := f.createObjectStore(ctx, config)
	if err != nil {
		result.Close()
		return nil, err
	}
	result.Objects = objects
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config, hub *realtime.Hub) (*BackendResult, error) {
	opts := []sqlite.Option{sqlite.WithHub(hub), sqlite.WithLogger(f.logger)}

	// Initialize AMQP relay (optional)
	var relay *amqp.Client
	if config.AMQPURL != "" {
		var err error
		relay, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP relay, continuing without cross-process sync", "error", err)
		} else {
			f.logger.Info("Initialized AMQP relay",
				"exchange", config.AMQPExchange,
				"origin", relay.Origin())
			opts = append(opts, sqlite.WithOnChange(relay.Forward))
		}
	}

	gw, err := sqlite.Open(config.SQLiteDBPath, opts...)
	if err != nil {
		if relay != nil {
			relay.Close()
		}
		return nil, fmt.Errorf("failed to initialize SQLite gateway: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", relay != nil)

	return &BackendResult{
		Gateway: gw,
		Hub:     hub,
		Relay:   relay,
		Cleanup: func() error {
			hub.Close()
			var errs []error
			if relay != nil {
				errs = append(errs, relay.Close())
			}
			errs = append(errs, gw.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(hub *realtime.Hub) (*BackendResult, error) {
	store := memory.New(hub)

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Gateway: store,
		Hub:     hub,
		Cleanup: func() error {
			hub.Close()
			return nil
		},
	}, nil
}

func (f *DefaultFactory) createObjectStore(ctx context.Context, config Config) (gateway.ObjectStore, error) {
	switch config.ObjectType {
	case "":
		return nil, nil
	case LocalObjects:
		f.logger.Info("Initialized local object storage", "dir", config.ObjectsDir)
		return local.New(config.ObjectsDir, config.ObjectsBaseURL), nil
	case GCSObjects:
		creds := googleapi.Credentials{
			JSON: config.GoogleServiceAccountJSON,
			File: config.GoogleServiceAccountFile,
		}
		opts, err := creds.ClientOptions(ctx, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("failed to load storage credentials: %w", err)
		}
		store, err := gcs.New(ctx, config.ObjectsBucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Cloud Storage: %w", err)
		}
		f.logger.Info("Initialized Cloud Storage", "bucket", config.ObjectsBucket)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported object storage type: %s", config.ObjectType)
	}
}
