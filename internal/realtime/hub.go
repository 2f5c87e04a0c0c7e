// Package realtime fans committed row changes out to table-wide
// subscriptions. The hub never filters: every subscriber of a table sees
// every change to it and narrows the stream itself.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"chitieu/internal/gateway"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 256

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe opens a feed for every change to table. The subscription is
// released when ctx is done or Close is called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, table string) (gateway.Subscription, error) {
	if _, err := gateway.Lookup(table); err != nil {
		return nil, err
	}

	s := &subscription{
		hub:    h,
		table:  table,
		events: make(chan gateway.Event, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.events)
		return s, nil
	}
	if h.subs[table] == nil {
		h.subs[table] = make(map[*subscription]struct{})
	}
	h.subs[table][s] = struct{}{}
	h.mu.Unlock()

	s.stop = context.AfterFunc(ctx, func() { s.Close() })
	return s, nil
}

// Publish delivers ev to every subscriber of ev.Table without blocking. A
// subscriber whose queue is full is dropped: its channel closes and it
// receives nothing further.
func (h *Hub) Publish(ev gateway.Event) {
	var overflow []*subscription

	h.mu.RLock()
	for s := range h.subs[ev.Table] {
		select {
		case s.events <- gateway.Event{Table: ev.Table, Kind: ev.Kind, Row: ev.Row.Clone()}:
		default:
			overflow = append(overflow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflow {
		h.logger.Warn("Dropping slow subscriber", "table", s.table, "buffer", h.buffer)
		s.Close()
	}
}

// Subscribers returns the number of open subscriptions on table.
func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[table])
}

// Close drops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (h *Hub) remove(s *subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.table]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.table)
	}
	// Closing under the write lock keeps Publish from sending on a closed channel.
	close(s.events)
	return true
}

type subscription struct {
	hub    *Hub
	table  string
	events chan gateway.Event
	stop   func() bool
	once   sync.Once
}

func (s *subscription) Events() <-chan gateway.Event {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.hub.remove(s)
	})
	return nil
}
