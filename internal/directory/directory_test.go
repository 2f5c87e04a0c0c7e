package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chitieu/internal/gateway"
	"chitieu/internal/gateway/memory"
)

type countingQueries struct {
	*memory.Store
	queries atomic.Int32
}

func (c *countingQueries) Query(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	c.queries.Add(1)
	return c.Store.Query(ctx, q)
}

func seed(t *testing.T, store *memory.Store, emails ...string) []string {
	t.Helper()
	ids := make([]string, len(emails))
	for i, e := range emails {
		row, err := store.Insert(context.Background(), gateway.TableUsers, gateway.Row{"email": e})
		if err != nil {
			t.Fatalf("seed %s: %v", e, err)
		}
		ids[i] = row["id"].(string)
	}
	return ids
}

func TestUsersExcludesMeOrderedByEmail(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	ids := seed(t, store, "me@example.com", "zoe@example.com", "anh@example.com")

	d, err := Open(ctx, store, ids[0], nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	users := d.Users()
	if len(users) != 2 || users[0].Email != "anh@example.com" || users[1].Email != "zoe@example.com" {
		t.Fatalf("users = %+v", users)
	}

	seed(t, store, "binh@example.com")
	deadline := time.Now().Add(time.Second)
	for len(d.Users()) != 3 {
		if time.Now().After(deadline) {
			t.Fatal("sign-up not pushed to the directory")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if u, ok := d.FindByEmail("BINH@example.com"); !ok || u.ID == "" {
		t.Fatal("FindByEmail should match case-insensitively")
	}
}

func TestEmailCachesLookups(t *testing.T) {
	ctx := context.Background()
	store := &countingQueries{Store: memory.New(nil)}
	ids := seed(t, store.Store, "me@example.com", "other@example.com")

	d, err := Open(ctx, store, ids[0], nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	base := store.queries.Load()

	for i := 0; i < 3; i++ {
		email, err := d.Email(ctx, ids[0])
		if err != nil || email != "me@example.com" {
			t.Fatalf("Email(me) = %q, %v", email, err)
		}
	}
	if got := store.queries.Load() - base; got != 1 {
		t.Fatalf("expected one remote lookup, got %d", got)
	}
	if email, _ := d.Email(ctx, ids[1]); email != "other@example.com" {
		t.Fatalf("Email(other) = %q", email)
	}
	if _, err := d.Email(ctx, "missing"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}
