// Package collection keeps a client-local, ordered mirror of a remote table
// slice. A Collection is filled by one query, kept current by a table-wide
// push channel filtered through a predicate, and accepts optimistic local
// inserts that are reconciled with the authoritative rows when they arrive.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"chitieu/internal/gateway"
	"chitieu/internal/metrics"
)

var (
	// ErrRemoteUnavailable wraps transport failures of a load or subscribe.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrUnauthorized means the session was rejected by the service.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClosed is returned by operations on a closed collection.
	ErrClosed = errors.New("collection closed")
	// ErrAlreadySubscribed is returned by a second Subscribe call.
	ErrAlreadySubscribed = errors.New("collection already subscribed")
)

type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// Source is the part of the gateway a collection reads from.
type Source interface {
	gateway.Querier
	gateway.Subscriber
}

// Spec describes how rows of one table become mirror elements.
type Spec[T any] struct {
	Table  string
	Decode func(gateway.Row) (T, error)
	// Key returns the server-assigned identifier, or "" while an optimistic
	// element has none yet.
	Key func(T) string
	// Token returns the client correlation token, or "". Optional.
	Token func(T) string
	Time  func(T) time.Time
	Order Order
	// Same reports whether an authoritative element is the confirmation of an
	// optimistic one that carries no token. Optional.
	Same func(optimistic, confirmed T) bool
	// Revision orders successive versions of one row. When set, a copy older
	// than the mirrored one is ignored. Optional.
	Revision func(T) time.Time
}

// origin tells mergeLocked where an element comes from.
type origin int

const (
	fromLocal origin = iota
	fromConfirmed
	fromInsertEvent
	fromUpdateEvent
)

type Collection[T any] struct {
	src    Source
	spec   Spec[T]
	logger *slog.Logger

	loadMu sync.Mutex

	mu        sync.Mutex
	items     []T
	closed    bool
	recording bool
	loaded    bool
	pending   []gateway.Event
	predicate func(T) bool
	// removed holds deleted keys. Keys are never reused, so events still
	// queued for them are stale.
	removed map[string]struct{}
	sub     gateway.Subscription
	done    chan struct{}
	changes chan struct{}
}

// New returns an empty collection. Table, Decode, Key and Time are required.
func New[T any](src Source, spec Spec[T], logger *slog.Logger) *Collection[T] {
	if spec.Table == "" || spec.Decode == nil || spec.Key == nil || spec.Time == nil {
		panic("collection: incomplete spec for table " + strconv.Quote(spec.Table))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection[T]{
		src:     src,
		spec:    spec,
		logger:  logger.With("table", spec.Table),
		removed: make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Load replaces the mirror with the rows matching filter, in the collection
// order, keeping at most limit rows when limit > 0. Events pushed while the
// query is in flight are replayed on top of the result, and optimistic
// elements that the result does not confirm are kept. On a collection
// subscribed before its first successful load, every event since Subscribe
// is replayed, so rows outside filter that the predicate accepts survive.
// Failures are reported and never retried.
func (c *Collection[T]) Load(ctx context.Context, filter gateway.Filter, limit int) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.recording {
		c.recording = true
		c.pending = nil
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.recording = c.sub != nil && !c.loaded && !c.closed
		if !c.recording {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	rows, err := c.src.Query(ctx, gateway.Query{
		Table:  c.spec.Table,
		Filter: filter,
		Order:  c.queryOrder(),
		Limit:  limit,
	})
	if err != nil {
		metrics.CollectionLoads.WithLabelValues(c.spec.Table, metrics.ResultError).Inc()
		return fmt.Errorf("load %s: %w", c.spec.Table, remoteError(err))
	}

	loaded := make([]T, 0, len(rows))
	for _, r := range rows {
		item, err := c.spec.Decode(r)
		if err != nil {
			c.logger.WarnContext(ctx, "Skipping malformed row", "error", err)
			continue
		}
		loaded = append(loaded, item)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// Torn down while the query was in flight: the result is dropped.
		return ErrClosed
	}

	old := c.items
	c.items = loaded
	c.sortLocked()
	for _, item := range old {
		if c.spec.Key(item) == "" {
			c.mergeLocked(item, fromLocal)
		}
	}
	for _, ev := range c.pending {
		c.applyLocked(ev)
	}
	c.loaded = true
	c.notifyLocked()

	metrics.CollectionLoads.WithLabelValues(c.spec.Table, metrics.ResultOK).Inc()
	c.logger.DebugContext(ctx, "Loaded collection",
		"rows", len(loaded),
		"replayed", len(c.pending),
		"order", c.spec.Order.String())
	return nil
}

// Subscribe opens the table-wide push channel. Every event is decoded and
// passed through predicate (nil accepts everything); rejected events are
// discarded. The channel is released by Close or when ctx is done. If the
// channel stops on its own, the drop is logged and the mirror simply stops
// receiving updates.
func (c *Collection[T]) Subscribe(ctx context.Context, predicate func(T) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sub != nil {
		return ErrAlreadySubscribed
	}

	sub, err := c.src.Subscribe(ctx, c.spec.Table)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.spec.Table, remoteError(err))
	}
	c.sub = sub
	c.predicate = predicate
	if !c.loaded && !c.recording {
		c.recording = true
		c.pending = nil
	}
	c.done = make(chan struct{})
	go c.run(sub.Events(), c.done)
	return nil
}

func (c *Collection[T]) run(events <-chan gateway.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		c.deliver(ev)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		metrics.ChannelDrops.WithLabelValues(c.spec.Table).Inc()
		c.logger.Warn("Push channel closed, collection no longer receives updates")
	}
}

func (c *Collection[T]) deliver(ev gateway.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.CollectionEvents.WithLabelValues(c.spec.Table, metrics.OutcomeLate).Inc()
		return
	}
	if c.recording {
		c.pending = append(c.pending, ev)
	}
	if c.applyLocked(ev) {
		c.notifyLocked()
	}
}

// applyLocked merges one pushed event and reports whether the mirror changed.
func (c *Collection[T]) applyLocked(ev gateway.Event) bool {
	item, err := c.spec.Decode(ev.Row)
	if err != nil {
		metrics.CollectionEvents.WithLabelValues(c.spec.Table, metrics.OutcomeMalformed).Inc()
		c.logger.Warn("Discarding malformed event", "event_kind", ev.Kind, "error", err)
		return false
	}

	var changed bool
	switch ev.Kind {
	case gateway.EventDelete:
		changed = c.removeKeyLocked(c.spec.Key(item))
	case gateway.EventInsert:
		if c.predicate != nil && !c.predicate(item) {
			break
		}
		changed = c.mergeLocked(item, fromInsertEvent)
	case gateway.EventUpdate:
		if c.predicate != nil && !c.predicate(item) {
			// The row moved out of scope.
			changed = c.dropKeyLocked(c.spec.Key(item))
			break
		}
		changed = c.mergeLocked(item, fromUpdateEvent)
	}

	outcome := metrics.OutcomeApplied
	if !changed {
		outcome = metrics.OutcomeDiscarded
	}
	metrics.CollectionEvents.WithLabelValues(c.spec.Table, outcome).Inc()
	return changed
}

// ApplyLocalInsert adds an optimistic element at its ordered position. An
// element sharing its key or token is replaced instead.
func (c *Collection[T]) ApplyLocalInsert(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.mergeLocked(item, fromLocal) {
		c.notifyLocked()
	}
}

// Merge applies an authoritative element, such as the row returned by an
// insert. It replaces the element with the same key, else the optimistic
// element with the same token, else one that Spec.Same matches, and is
// otherwise added. Copies of deleted rows and copies older than the mirrored
// revision are ignored.
func (c *Collection[T]) Merge(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.mergeLocked(item, fromConfirmed) {
		c.notifyLocked()
	}
}

// Put upserts by key without any reconciliation.
func (c *Collection[T]) Put(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	key := c.spec.Key(item)
	if i := c.indexLocked(func(x T) bool { return key != "" && c.spec.Key(x) == key }); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
	c.insertSortedLocked(item)
	c.notifyLocked()
}

// Remove drops the element with the given key and reports whether it existed.
func (c *Collection[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.removeKeyLocked(key) {
		c.notifyLocked()
		return true
	}
	return false
}

// Rollback drops the optimistic element carrying token.
func (c *Collection[T]) Rollback(token string) bool {
	if token == "" || c.spec.Token == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	i := c.indexLocked(func(x T) bool { return c.spec.Token(x) == token })
	if i < 0 {
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	c.notifyLocked()
	return true
}

// RemoveWhere drops every element matching pred and returns how many went.
func (c *Collection[T]) RemoveWhere(pred func(T) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	before := len(c.items)
	c.items = slices.DeleteFunc(c.items, func(x T) bool {
		if !pred(x) {
			return false
		}
		if key := c.spec.Key(x); key != "" {
			c.removed[key] = struct{}{}
		}
		return true
	})
	n := before - len(c.items)
	if n > 0 {
		c.notifyLocked()
	}
	return n
}

// Items returns a copy of the mirror in collection order.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Collection[T]) Find(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(func(x T) bool { return key != "" && c.spec.Key(x) == key }); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Filter returns the elements matching pred, in collection order.
func (c *Collection[T]) Filter(pred func(T) bool) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for _, item := range c.items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}

// Changes signals after the mirror changed. Signals coalesce: a receiver
// reads Items to see the current state. The channel closes with the
// collection.
func (c *Collection[T]) Changes() <-chan struct{} {
	return c.changes
}

// Close releases the push channel and waits until no event can reach the
// mirror any more. Later calls are no-ops.
func (c *Collection[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.recording = false
	c.pending = nil
	sub, done := c.sub, c.done
	close(c.changes)
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

func (c *Collection[T]) mergeLocked(item T, from origin) bool {
	key := c.spec.Key(item)
	if _, gone := c.removed[key]; gone && key != "" {
		return false
	}
	i := -1
	if key != "" {
		i = c.indexLocked(func(x T) bool { return c.spec.Key(x) == key })
	}
	if i >= 0 {
		// An insert event carries the first version of a row: any mirrored
		// copy with the same key is at least as recent.
		if from == fromInsertEvent {
			return false
		}
		if c.spec.Revision != nil && c.spec.Revision(item).Before(c.spec.Revision(c.items[i])) {
			return false
		}
	}
	if i < 0 && c.spec.Token != nil {
		if token := c.spec.Token(item); token != "" {
			i = c.indexLocked(func(x T) bool { return c.spec.Token(x) == token })
		}
	}
	if i < 0 && from != fromLocal && c.spec.Same != nil {
		i = c.indexLocked(func(x T) bool {
			return c.spec.Key(x) == "" && c.spec.Same(x, item)
		})
	}

	if i >= 0 {
		// A confirmed element is never downgraded back to an optimistic one.
		if from == fromLocal && c.spec.Key(c.items[i]) != "" && key == "" {
			return false
		}
		c.items = slices.Delete(c.items, i, i+1)
	}
	c.insertSortedLocked(item)
	return true
}

// removeKeyLocked deletes key for good.
func (c *Collection[T]) removeKeyLocked(key string) bool {
	if key == "" {
		return false
	}
	c.removed[key] = struct{}{}
	return c.dropKeyLocked(key)
}

// dropKeyLocked takes key out of the mirror; it may come back later.
func (c *Collection[T]) dropKeyLocked(key string) bool {
	if key == "" {
		return false
	}
	i := c.indexLocked(func(x T) bool { return c.spec.Key(x) == key })
	if i < 0 {
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	return true
}

func (c *Collection[T]) indexLocked(match func(T) bool) int {
	return slices.IndexFunc(c.items, match)
}

func (c *Collection[T]) insertSortedLocked(item T) {
	// After any equal elements, so arrival order breaks remaining ties.
	i, _ := slices.BinarySearchFunc(c.items, item, func(x, target T) int {
		if c.compare(x, target) <= 0 {
			return -1
		}
		return 1
	})
	c.items = slices.Insert(c.items, i, item)
}

func (c *Collection[T]) sortLocked() {
	slices.SortStableFunc(c.items, c.compare)
}

// compare orders by time, then by key. Keys compare numerically when both
// are integers, and an element without a key sorts after keyed ones. The
// whole order is reversed for descending collections.
func (c *Collection[T]) compare(a, b T) int {
	r := c.spec.Time(a).Compare(c.spec.Time(b))
	if r == 0 {
		r = compareKeys(c.spec.Key(a), c.spec.Key(b))
	}
	if c.spec.Order == Descending {
		return -r
	}
	return r
}

func compareKeys(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func (c *Collection[T]) queryOrder() []gateway.Order {
	desc := c.spec.Order == Descending
	spec, err := gateway.Lookup(c.spec.Table)
	if err != nil {
		return nil
	}
	var order []gateway.Order
	if spec.Timestamp != "" {
		order = append(order, gateway.Order{Column: spec.Timestamp, Descending: desc})
	}
	return append(order, gateway.Order{Column: spec.Key, Descending: desc})
}

func (c *Collection[T]) notifyLocked() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func remoteError(err error) error {
	if errors.Is(err, gateway.ErrAuth) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
}
