// Package directory lists the other users of the service, the people the
// current user can open a conversation with.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"chitieu/internal/cache"
	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
)

var ErrUnknownUser = errors.New("unknown user")

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

type Directory struct {
	gw     gateway.Gateway
	me     string
	users  *collection.Collection[core.User]
	emails *cache.LRUCache[string]
	logger *slog.Logger
}

var userSpec = collection.Spec[core.User]{
	Table:  gateway.TableUsers,
	Decode: gateway.DecodeAs[core.User],
	Key:    func(u core.User) string { return u.ID },
	Time:   func(core.User) time.Time { return time.Time{} },
	Order:  collection.Ascending,
}

// Open loads every user except me and follows sign-ups.
func Open(ctx context.Context, gw gateway.Gateway, me string, logger *slog.Logger) (*Directory, error) {
	if me == "" {
		return nil, fmt.Errorf("open directory: %w", collection.ErrUnauthorized)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		gw:     gw,
		me:     me,
		users:  collection.New(gw, userSpec, logger),
		emails: cache.NewLRUCache[string](defaultCacheSize, defaultCacheTTL),
		logger: logger,
	}
	if err := d.users.Subscribe(ctx, func(u core.User) bool { return u.ID != me }); err != nil {
		d.users.Close()
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if err := d.users.Load(ctx, gateway.Neq("id", me), 0); err != nil {
		d.users.Close()
		return nil, fmt.Errorf("open directory: %w", err)
	}
	return d, nil
}

// Users returns the other users ordered by email.
func (d *Directory) Users() []core.User {
	users := d.users.Items()
	slices.SortFunc(users, func(a, b core.User) int {
		return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
	})
	return users
}

// Email resolves a user id, the current user's included.
func (d *Directory) Email(ctx context.Context, id string) (string, error) {
	return d.emails.GetOrLoad(id, func() (string, error) {
		if u, ok := d.users.Find(id); ok {
			return u.Email, nil
		}
		rows, err := d.gw.Query(ctx, gateway.Query{
			Table:  gateway.TableUsers,
			Filter: gateway.Eq("id", id),
			Limit:  1,
		})
		if err != nil {
			return "", fmt.Errorf("lookup user %s: %w", id, err)
		}
		if len(rows) == 0 {
			return "", fmt.Errorf("lookup user %s: %w", id, ErrUnknownUser)
		}
		u, err := gateway.DecodeAs[core.User](rows[0])
		if err != nil {
			return "", fmt.Errorf("lookup user %s: %w", id, err)
		}
		return u.Email, nil
	})
}

// FindByEmail looks a user up among the mirrored ones.
func (d *Directory) FindByEmail(email string) (core.User, bool) {
	found := d.users.Filter(func(u core.User) bool { return strings.EqualFold(u.Email, email) })
	if len(found) == 0 {
		return core.User{}, false
	}
	return found[0], true
}

func (d *Directory) Changes() <-chan struct{} {
	return d.users.Changes()
}

func (d *Directory) Close() error {
	return d.users.Close()
}
