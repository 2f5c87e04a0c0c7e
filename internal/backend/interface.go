package backend

import (
	"context"

	"chitieu/internal/amqp"
	"chitieu/internal/gateway"
	"chitieu/internal/realtime"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds everything a client process talks to.
type BackendResult struct {
	Gateway gateway.Gateway
	Hub     *realtime.Hub
	Objects gateway.ObjectStore
	// Relay is nil when AMQP is disabled or unreachable.
	Relay   *amqp.Client
	Cleanup CleanupFunc
}

// RunRelay injects changes from other processes into Hub until ctx is done.
// Without a relay it only waits for ctx.
func (r *BackendResult) RunRelay(ctx context.Context) error {
	if r.Relay == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.Relay.Run(ctx, r.Hub)
}

// Close releases the backend. It is safe to call on a nil result.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Change relay, optional
	AMQPURL      string
	AMQPExchange string

	PushBuffer int

	// Object storage
	ObjectType     ObjectType
	ObjectsDir     string
	ObjectsBaseURL string
	ObjectsBucket  string

	// Google service account, used by gcs
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// ObjectType selects the object store.
type ObjectType string

const (
	LocalObjects ObjectType = "local"
	GCSObjects   ObjectType = "gcs"
)

func (ot ObjectType) IsValid() bool {
	return ot == LocalObjects || ot == GCSObjects
}
