// Package memory is an in-process Gateway. It enforces the same keys,
// unique sets and references as the SQL schema, so client code exercised
// against it sees the same constraint errors it would see remotely.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chitieu/internal/gateway"
	"chitieu/internal/realtime"
)

type table struct {
	rows   []gateway.Row
	serial int64
}

type Store struct {
	mu     sync.Mutex
	tables map[string]*table
	hub    *realtime.Hub
}

var _ gateway.Gateway = (*Store)(nil)

func New(hub *realtime.Hub) *Store {
	if hub == nil {
		hub = realtime.NewHub(realtime.DefaultBuffer, nil)
	}
	s := &Store{tables: make(map[string]*table), hub: hub}
	for name := range gateway.Tables {
		s.tables[name] = &table{}
	}
	return s
}

// Hub exposes the change feed so relays can inject foreign events.
func (s *Store) Hub() *realtime.Hub {
	return s.hub
}

func (s *Store) Query(_ context.Context, q gateway.Query) ([]gateway.Row, error) {
	if _, err := gateway.Lookup(q.Table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []gateway.Row
	for _, r := range s.tables[q.Table].rows {
		if q.Filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := gateway.Compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, name string, row gateway.Row) (gateway.Row, error) {
	spec, err := gateway.Lookup(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	t := s.tables[name]
	stored := row.Clone()
	if stored == nil {
		stored = gateway.Row{}
	}
	switch spec.KeyKind {
	case gateway.KeySerial:
		if stored[spec.Key] == nil {
			t.serial++
			stored[spec.Key] = t.serial
		}
	case gateway.KeyUUID:
		if stored[spec.Key] == nil || stored[spec.Key] == "" {
			stored[spec.Key] = uuid.NewString()
		}
	}
	if spec.Timestamp != "" && stored[spec.Timestamp] == nil {
		stored[spec.Timestamp] = gateway.Now()
	}
	if err := s.checkLocked(spec, stored, -1); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t.rows = append(t.rows, stored)
	// Publishing never blocks, so it happens under the lock to keep feed
	// order equal to commit order.
	s.hub.Publish(gateway.Event{Table: name, Kind: gateway.EventInsert, Row: stored})
	s.mu.Unlock()
	return stored.Clone(), nil
}

func (s *Store) Update(_ context.Context, name string, f gateway.Filter, patch gateway.Row) (int, error) {
	spec, err := gateway.Lookup(name)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	t := s.tables[name]
	var changed []gateway.Row
	next := make([]gateway.Row, len(t.rows))
	copy(next, t.rows)
	for i, r := range t.rows {
		if !f.Match(r) {
			continue
		}
		updated := r.Clone()
		for k, v := range patch {
			updated[k] = v
		}
		next[i] = updated
		changed = append(changed, updated)
	}
	// Validate against the post-update table so uniqueness holds across rows.
	prev := t.rows
	t.rows = next
	for i, r := range t.rows {
		if !f.Match(prev[i]) {
			continue
		}
		if err := s.checkLocked(spec, r, i); err != nil {
			t.rows = prev
			s.mu.Unlock()
			return 0, err
		}
	}
	for _, r := range changed {
		s.hub.Publish(gateway.Event{Table: name, Kind: gateway.EventUpdate, Row: r})
	}
	s.mu.Unlock()
	return len(changed), nil
}

func (s *Store) Delete(_ context.Context, name string, f gateway.Filter) (int, error) {
	spec, err := gateway.Lookup(name)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	t := s.tables[name]
	var kept, removed []gateway.Row
	for _, r := range t.rows {
		if f.Match(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	for _, r := range removed {
		if err := s.checkReferencedLocked(spec, r); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	t.rows = kept
	for _, r := range removed {
		s.hub.Publish(gateway.Event{Table: name, Kind: gateway.EventDelete, Row: r})
	}
	s.mu.Unlock()
	return len(removed), nil
}

func (s *Store) Subscribe(ctx context.Context, table string) (gateway.Subscription, error) {
	return s.hub.Subscribe(ctx, table)
}

// checkLocked enforces key, unique and reference constraints for row at
// index self (-1 for a row not yet stored).
func (s *Store) checkLocked(spec gateway.TableSpec, row gateway.Row, self int) error {
	t := s.tables[spec.Name]
	if row[spec.Key] == nil {
		return fmt.Errorf("%w: %s.%s is required", gateway.ErrConstraint, spec.Name, spec.Key)
	}
	sets := append([][]string{{spec.Key}}, spec.Unique...)
	for i, other := range t.rows {
		if i == self {
			continue
		}
		for _, cols := range sets {
			if sameColumns(row, other, cols) {
				return fmt.Errorf("%w: duplicate %s(%s)", gateway.ErrConstraint, spec.Name, strings.Join(cols, ","))
			}
		}
	}
	for _, ref := range spec.References {
		v := row[ref.Column]
		found := false
		for _, target := range s.tables[ref.Table].rows {
			if gateway.Equal(target[ref.Target], v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.%s=%v has no matching %s", gateway.ErrConstraint, spec.Name, ref.Column, v, ref.Table)
		}
	}
	return nil
}

// checkReferencedLocked rejects deleting a row other tables still point at.
func (s *Store) checkReferencedLocked(spec gateway.TableSpec, row gateway.Row) error {
	for _, other := range gateway.Tables {
		for _, ref := range other.References {
			if ref.Table != spec.Name {
				continue
			}
			for _, r := range s.tables[other.Name].rows {
				if gateway.Equal(r[ref.Column], row[ref.Target]) {
					return fmt.Errorf("%w: %s row still referenced by %s", gateway.ErrConstraint, spec.Name, other.Name)
				}
			}
		}
	}
	return nil
}

func sameColumns(a, b gateway.Row, cols []string) bool {
	for _, c := range cols {
		if a[c] == nil || !gateway.Equal(a[c], b[c]) {
			return false
		}
	}
	return true
}
