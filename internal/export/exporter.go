// Package export appends newly recorded ledger entries to a spreadsheet. It
// follows the expenses change feed, so entries recorded by any client reach
// the sheet once the exporter sees their INSERT event.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"chitieu/internal/cache"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
	"chitieu/internal/metrics"
)

var ErrAlreadyRunning = errors.New("exporter is already running")

// RowWriter appends spreadsheet rows and returns a reference to the written
// range.
type RowWriter interface {
	AppendRows(ctx context.Context, rows [][]any) (string, error)
}

// Source is the part of the gateway the exporter reads from.
type Source interface {
	gateway.Querier
	gateway.Subscriber
}

// Config holds configuration for the exporter
type Config struct {
	// BatchSize flushes as soon as this many entries are pending (default: 20)
	BatchSize int

	// FlushInterval flushes whatever is pending (default: 5s)
	FlushInterval time.Duration

	// MaxRetries is how many times a failed batch is retried before it is dropped (default: 3)
	MaxRetries int

	// Location renders entry dates (default: time.Local)
	Location *time.Location
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:     20,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		Location:      time.Local,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

type Exporter struct {
	src    Source
	writer RowWriter
	config Config
	logger *slog.Logger
	names  *cache.LRUCache[string]

	pending  []core.Expense
	attempts int

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(src Source, writer RowWriter, config Config, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		src:    src,
		writer: writer,
		config: config.withDefaults(),
		logger: logger,
		names:  cache.NewLRUCache[string](256, 10*time.Minute),
	}
}

// Names exposes the category name cache so it can be registered with a
// cache.Manager.
func (e *Exporter) Names() *cache.LRUCache[string] {
	return e.names
}

// Start subscribes to the expenses feed and begins the export loop.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	sub, err := e.src.Subscribe(ctx, gateway.TableExpenses)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", gateway.TableExpenses, err)
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	go e.runLoop(ctx, sub, stopCh, doneCh)

	e.logger.InfoContext(ctx, "Exporter started",
		"batch_size", e.config.BatchSize,
		"flush_interval", e.config.FlushInterval)
	return nil
}

// Stop flushes pending entries and waits for the loop to finish.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.running = false
	e.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		e.logger.InfoContext(ctx, "Exporter stopped gracefully")
		return nil
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "Exporter stop timed out")
		return ctx.Err()
	}
}

func (e *Exporter) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Done closes when the export loop exits, whether stopped or because the
// feed was dropped.
func (e *Exporter) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doneCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.doneCh
}

func (e *Exporter) runLoop(ctx context.Context, sub gateway.Subscription, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer sub.Close()

	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			e.flush(context.WithoutCancel(ctx), true)
			return
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				e.logger.WarnContext(ctx, "Expenses feed closed, exporter stopping")
				e.flush(ctx, true)
				e.mu.Lock()
				e.running = false
				e.mu.Unlock()
				return
			}
			e.handle(ctx, ev)
			if len(e.pending) >= e.config.BatchSize {
				e.flush(ctx, false)
			}
		case <-ticker.C:
			e.flush(ctx, false)
		}
	}
}

func (e *Exporter) handle(ctx context.Context, ev gateway.Event) {
	if ev.Kind != gateway.EventInsert {
		return
	}
	entry, err := gateway.DecodeAs[core.Expense](ev.Row)
	if err != nil {
		e.logger.WarnContext(ctx, "Skipping malformed expense event", "error", err)
		metrics.ExportedRows.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return
	}
	e.pending = append(e.pending, entry)
}

// flush appends the pending batch. A failed batch is kept for the next flush
// and retried up to MaxRetries times; final drops it on the first failure.
func (e *Exporter) flush(ctx context.Context, final bool) {
	if len(e.pending) == 0 {
		return
	}
	rows := make([][]any, 0, len(e.pending))
	for _, entry := range e.pending {
		rows = append(rows, e.row(ctx, entry))
	}

	start := time.Now()
	ref, err := e.writer.AppendRows(ctx, rows)
	if err != nil {
		e.attempts++
		if !final && e.attempts <= e.config.MaxRetries {
			e.logger.WarnContext(ctx, "Sheet append failed, will retry",
				"count", len(rows),
				"attempt", e.attempts,
				"error", err)
			return
		}
		e.logger.ErrorContext(ctx, "Dropping batch after failed sheet append",
			"count", len(rows),
			"attempts", e.attempts,
			"error", err)
		metrics.ExportedRows.WithLabelValues(metrics.ResultError).Add(float64(len(rows)))
		e.reset()
		return
	}

	e.logger.InfoContext(ctx, "Exported entries",
		"count", len(rows),
		"sheets_ref", ref,
		"duration_ms", time.Since(start).Milliseconds())
	metrics.ExportedRows.WithLabelValues(metrics.ResultOK).Add(float64(len(rows)))
	e.reset()
}

func (e *Exporter) reset() {
	e.pending = e.pending[:0]
	e.attempts = 0
}

// row renders an entry as date, category, kind, amount, note.
func (e *Exporter) row(ctx context.Context, entry core.Expense) []any {
	return []any{
		entry.CreatedAt.In(e.config.Location).Format("2006-01-02"),
		e.categoryName(ctx, entry.CategoryID),
		string(entry.Kind),
		int64(entry.Amount),
		entry.Note,
	}
}

func (e *Exporter) categoryName(ctx context.Context, id int64) string {
	key := strconv.FormatInt(id, 10)
	name, err := e.names.GetOrLoad(key, func() (string, error) {
		rows, err := e.src.Query(ctx, gateway.Query{
			Table:  gateway.TableCategories,
			Filter: gateway.Eq("id", id),
			Limit:  1,
		})
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return "", fmt.Errorf("category %d not found", id)
		}
		c, err := gateway.DecodeAs[core.Category](rows[0])
		if err != nil {
			return "", err
		}
		return c.Name, nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Category name lookup failed", "category_id", id, "error", err)
		return "#" + key
	}
	return name
}
