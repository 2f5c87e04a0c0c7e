// Package gateway defines the contract of the remote data service the client
// mirrors: table queries and mutations, table-wide change feeds and object
// storage. Implementations live in the memory and sqlite subpackages.
package gateway

import (
	"context"
	"time"
)

// TimeLayout is a fixed-width RFC 3339 layout. Stored as text it sorts
// chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type (
	// Row is one table row keyed by column name.
	Row map[string]any

	Order struct {
		Column     string
		Descending bool
	}

	Query struct {
		Table  string
		Filter Filter
		Order  []Order
		Limit  int
	}

	EventKind string

	// Event is a committed row change. Row holds the new row for inserts and
	// updates and the removed row for deletes.
	Event struct {
		Table string
		Kind  EventKind
		Row   Row
	}
)

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Ports for the remote service.
type (
	Querier interface {
		Query(ctx context.Context, q Query) ([]Row, error)
	}

	Mutator interface {
		// Insert stores row and returns it with the identifier and timestamp
		// the service assigned.
		Insert(ctx context.Context, table string, row Row) (Row, error)
		Update(ctx context.Context, table string, f Filter, patch Row) (int, error)
		Delete(ctx context.Context, table string, f Filter) (int, error)
	}

	// Subscriber opens table-wide change feeds. Feeds are not scoped to any
	// query; consumers filter what they receive.
	Subscriber interface {
		Subscribe(ctx context.Context, table string) (Subscription, error)
	}

	// Subscription is a standing push channel. Events closes when the
	// subscription is released or dropped by the service.
	Subscription interface {
		Events() <-chan Event
		Close() error
	}

	Gateway interface {
		Querier
		Mutator
		Subscriber
	}

	ObjectStore interface {
		PutObject(ctx context.Context, bucket, key string, data []byte) error
		PublicURL(bucket, key string) string
	}
)

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Now is the timestamp source used by gateways for created_at columns.
var Now = func() time.Time { return time.Now().UTC() }
