// Package sqlite serves the gateway contract from a local SQLite database.
// Every mutation returns the affected rows (RETURNING *) and publishes them
// on the change feed once the statement has committed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"chitieu/internal/gateway"
	"chitieu/internal/realtime"
)

type Gateway struct {
	db       *sql.DB
	hub      *realtime.Hub
	onChange func(gateway.Event)
	logger   *slog.Logger

	// writeMu keeps feed order equal to commit order.
	writeMu sync.Mutex
}

var _ gateway.Gateway = (*Gateway)(nil)

type Option func(*Gateway)

// WithHub publishes changes on hub instead of a private one.
func WithHub(hub *realtime.Hub) Option {
	return func(g *Gateway) { g.hub = hub }
}

// WithOnChange registers a hook called with every committed change, after
// local subscribers have been notified.
func WithOnChange(fn func(gateway.Event)) Option {
	return func(g *Gateway) { g.onChange = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func Open(dbPath string, opts ...Option) (*Gateway, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	g := &Gateway{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.hub == nil {
		g.hub = realtime.NewHub(realtime.DefaultBuffer, g.logger)
	}
	return g, nil
}

func (g *Gateway) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// Hub exposes the change feed so relays can inject foreign events.
func (g *Gateway) Hub() *realtime.Hub {
	return g.hub
}

func (g *Gateway) Query(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	if _, err := gateway.Lookup(q.Table); err != nil {
		return nil, err
	}

	b := sq.Select("*").From(q.Table)
	if where := whereClause(q.Filter); where != nil {
		b = b.Where(where)
	}
	for _, o := range q.Order {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		b = b.OrderBy(sqlIdent(o.Column) + " " + dir)
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query "+q.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, classify("scan "+q.Table, err)
	}
	return out, nil
}

func (g *Gateway) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	spec, err := gateway.Lookup(table)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(row)+2)
	for k, v := range row {
		values[k] = toSQLValue(v)
	}
	if spec.KeyKind == gateway.KeyUUID && (values[spec.Key] == nil || values[spec.Key] == "") {
		values[spec.Key] = uuid.NewString()
	}
	if spec.Timestamp != "" && values[spec.Timestamp] == nil {
		values[spec.Timestamp] = gateway.Now().Format(gateway.TimeLayout)
	}

	query, args, err := sq.Insert(table).SetMap(values).Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	changed, err := g.write(ctx, "insert "+table, table, gateway.EventInsert, query, args)
	if err != nil {
		return nil, err
	}
	if len(changed) != 1 {
		return nil, fmt.Errorf("insert %s: %w: expected 1 returned row, got %d", table, gateway.ErrTransport, len(changed))
	}
	return changed[0].Clone(), nil
}

func (g *Gateway) Update(ctx context.Context, table string, f gateway.Filter, patch gateway.Row) (int, error) {
	if _, err := gateway.Lookup(table); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, nil
	}

	values := make(map[string]any, len(patch))
	for k, v := range patch {
		values[k] = toSQLValue(v)
	}
	b := sq.Update(table).SetMap(values).Suffix("RETURNING *")
	if where := whereClause(f); where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	changed, err := g.write(ctx, "update "+table, table, gateway.EventUpdate, query, args)
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (g *Gateway) Delete(ctx context.Context, table string, f gateway.Filter) (int, error) {
	if _, err := gateway.Lookup(table); err != nil {
		return 0, err
	}

	b := sq.Delete(table).Suffix("RETURNING *")
	if where := whereClause(f); where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	changed, err := g.write(ctx, "delete "+table, table, gateway.EventDelete, query, args)
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (g *Gateway) Subscribe(ctx context.Context, table string) (gateway.Subscription, error) {
	return g.hub.Subscribe(ctx, table)
}

// write runs a mutating statement and publishes the rows it returned.
func (g *Gateway) write(ctx context.Context, op, table string, kind gateway.EventKind, query string, args []any) ([]gateway.Row, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	changed, err := scanRows(rows)
	closeErr := rows.Close()
	if err != nil {
		return nil, classify(op, err)
	}
	// With RETURNING, constraint failures can surface only when the result is closed.
	if closeErr != nil {
		return nil, classify(op, closeErr)
	}

	for _, r := range changed {
		ev := gateway.Event{Table: table, Kind: kind, Row: r}
		g.hub.Publish(ev)
		if g.onChange != nil {
			g.onChange(ev)
		}
	}

	g.logger.DebugContext(ctx, "Committed change",
		"operation", op,
		"rows", len(changed))
	return changed, nil
}

func whereClause(f gateway.Filter) sq.Sqlizer {
	if f.IsEmpty() {
		return nil
	}
	or := sq.Or{}
	for _, clause := range f.Clauses() {
		and := sq.And{}
		for _, c := range clause {
			v := toSQLValue(c.Value)
			switch c.Op {
			case gateway.OpNeq:
				and = append(and, sq.NotEq{c.Column: v})
			default:
				and = append(and, sq.Eq{c.Column: v})
			}
		}
		or = append(or, and)
	}
	return or
}

// toSQLValue converts values the driver does not take as is: times become
// fixed-width text and named scalar types become their underlying type.
func toSQLValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Format(gateway.TimeLayout)
	case string, int64, float64, bool, []byte:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func scanRows(rows *sql.Rows) ([]gateway.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []gateway.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(gateway.Row, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			r[c] = v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func classify(op string, err error) error {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%s: %w: %v", op, gateway.ErrConstraint, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, gateway.ErrTransport, err)
	}
	return fmt.Errorf("%s: %w: %v", op, gateway.ErrTransport, err)
}

func sqlIdent(column string) string {
	return `"` + column + `"`
}
