// Package ledger keeps the categories, balances and entries of one user in
// synchronized collections and enforces the balance rule: a debit may never
// take a category below zero. Recording an entry is two remote writes (the
// entry, then the balance); when only the first lands the caller gets a
// *PartialFailureError instead of a silent inconsistency.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
	"chitieu/internal/metrics"
)

// ReceiptBucket is the object storage bucket receipts are written to.
const ReceiptBucket = "receipts"

// CategoryBalance pairs a category with its current balance.
type CategoryBalance struct {
	core.Category
	Balance core.Money
}

type Ledger struct {
	gw      gateway.Gateway
	objects gateway.ObjectStore
	bucket  string
	userID  string
	logger  *slog.Logger
	token   func() string

	categories *collection.Collection[core.Category]
	balances   *collection.Collection[core.Balance]
	entries    *collection.Collection[core.Expense]

	// mu serializes mutations so each one sees the balance left by the last.
	mu sync.Mutex
}

type Option func(*Ledger)

// WithObjectStore enables AttachReceipt.
func WithObjectStore(store gateway.ObjectStore, bucket string) Option {
	return func(l *Ledger) {
		l.objects = store
		if bucket != "" {
			l.bucket = bucket
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithTokenSource replaces the correlation token generator.
func WithTokenSource(fn func() string) Option {
	return func(l *Ledger) { l.token = fn }
}

func New(gw gateway.Gateway, userID string, opts ...Option) *Ledger {
	l := &Ledger{
		gw:     gw,
		userID: userID,
		bucket: ReceiptBucket,
		logger: slog.Default(),
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.categories = collection.New(gw, CategorySpec, l.logger)
	l.balances = collection.New(gw, BalanceSpec, l.logger)
	l.entries = collection.New(gw, EntrySpec, l.logger)
	return l
}

// Open subscribes to categories, balances and entries, then loads the
// user's rows of all three tables. Rows committed while the loads run are
// kept. ctx bounds the loads only: the push channels stay open until Close.
func (l *Ledger) Open(ctx context.Context) error {
	if l.userID == "" {
		return fmt.Errorf("open ledger: %w", collection.ErrUnauthorized)
	}
	subCtx := context.WithoutCancel(ctx)

	if err := l.categories.Subscribe(subCtx, func(c core.Category) bool {
		return c.UserID == l.userID
	}); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	// warehouse rows carry no owner. Every pushed balance is mirrored and
	// scoped to the user's categories when read, so a balance may arrive
	// before its category.
	if err := l.balances.Subscribe(subCtx, nil); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := l.entries.Subscribe(subCtx, func(e core.Expense) bool {
		return e.UserID == l.userID
	}); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	owned := gateway.Eq("user_id", l.userID)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.categories.Load(gctx, owned, 0); err != nil {
			return err
		}
		cats := l.categories.Items()
		// Serial ids start at 1, so without categories nothing is loaded.
		ids := []gateway.Filter{gateway.Eq("category_id", int64(0))}
		for _, c := range cats {
			ids = append(ids, gateway.Eq("category_id", c.ID))
		}
		return l.balances.Load(gctx, gateway.Or(ids...), 0)
	})
	g.Go(func() error {
		return l.entries.Load(gctx, owned, 0)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	l.logger.InfoContext(ctx, "Ledger opened",
		"user_id", l.userID,
		"categories", l.categories.Len(),
		"entries", l.entries.Len())
	return nil
}

// Close releases every push channel.
func (l *Ledger) Close() error {
	return errors.Join(l.entries.Close(), l.balances.Close(), l.categories.Close())
}

func (l *Ledger) UserID() string {
	return l.userID
}

// Categories returns the user's categories with their balances, by id.
func (l *Ledger) Categories() []CategoryBalance {
	cats := l.categories.Items()
	out := make([]CategoryBalance, len(cats))
	for i, c := range cats {
		out[i] = CategoryBalance{Category: c}
		if b, ok := l.balances.Find(categoryKey(c.ID)); ok {
			out[i].Balance = b.Amount
		}
	}
	return out
}

// CategoryByName finds a category by its exact name.
func (l *Ledger) CategoryByName(name string) (core.Category, bool) {
	name = strings.TrimSpace(name)
	found := l.categories.Filter(func(c core.Category) bool { return c.Name == name })
	if len(found) == 0 {
		return core.Category{}, false
	}
	return found[0], true
}

// Balance returns the mirrored balance of one of the user's categories.
func (l *Ledger) Balance(categoryID int64) (core.Money, error) {
	b, ok := l.balance(categoryID)
	if !ok {
		return 0, ErrUnknownCategory
	}
	return b.Amount, nil
}

func (l *Ledger) balance(categoryID int64) (core.Balance, bool) {
	key := categoryKey(categoryID)
	if _, ok := l.categories.Find(key); !ok {
		return core.Balance{}, false
	}
	return l.balances.Find(key)
}

// Entries returns the mirrored entries, most recent first. A categoryID of
// zero selects every category.
func (l *Ledger) Entries(categoryID int64) []core.Expense {
	if categoryID == 0 {
		return l.entries.Items()
	}
	return l.entries.Filter(func(e core.Expense) bool { return e.CategoryID == categoryID })
}

// Changes signals after the mirrored entries changed.
func (l *Ledger) Changes() <-chan struct{} {
	return l.entries.Changes()
}

// CreateCategory adds a category and its zero balance.
func (l *Ledger) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	c := core.Category{Name: strings.TrimSpace(name), UserID: l.userID}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.CategoryByName(c.Name); ok {
		return core.Category{}, fmt.Errorf("create category %q: %w", c.Name, ErrDuplicateCategory)
	}

	row, err := l.gw.Insert(ctx, gateway.TableCategories, gateway.Row{
		"name":    c.Name,
		"user_id": c.UserID,
	})
	if err != nil {
		l.record("create_category", metrics.ResultError)
		if errors.Is(err, gateway.ErrConstraint) {
			return core.Category{}, fmt.Errorf("create category %q: %w", c.Name, ErrDuplicateCategory)
		}
		return core.Category{}, fmt.Errorf("create category: %w: %w", ErrRemoteWriteFailed, err)
	}
	created, err := gateway.DecodeAs[core.Category](row)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	l.categories.Merge(created)

	bal, err := l.gw.Insert(ctx, gateway.TableBalances, gateway.Row{
		"category_id": created.ID,
		"balance":     int64(0),
		"updated_at":  gateway.Now(),
	})
	if err != nil {
		l.record("create_category", metrics.ResultPartial)
		return created, &PartialFailureError{
			Op:        "create category",
			Completed: []Step{StepInsertCategory},
			Failed:    StepInsertBalance,
			Err:       err,
		}
	}
	if b, err := gateway.DecodeAs[core.Balance](bal); err == nil {
		l.balances.Merge(b)
	}

	l.record("create_category", metrics.ResultOK)
	l.logger.InfoContext(ctx, "Category created", "category_id", created.ID, "name", created.Name)
	return created, nil
}

// RecordEntry records a credit or debit against a category.
//
// A debit larger than the balance fails with ErrInsufficientFunds before
// anything is written. The entry is shown optimistically, inserted, then the
// balance is updated. A failed insert removes the optimistic entry and
// returns ErrRemoteWriteFailed. A failed balance update after a successful
// insert returns the recorded entry together with a *PartialFailureError.
func (l *Ledger) RecordEntry(ctx context.Context, categoryID int64, amount core.Money, kind core.Kind, note string) (core.Expense, error) {
	e := core.Expense{
		CategoryID: categoryID,
		Amount:     amount,
		Kind:       kind,
		Note:       strings.TrimSpace(note),
		UserID:     l.userID,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.balance(categoryID)
	if !ok {
		return core.Expense{}, fmt.Errorf("record entry: category %d: %w", categoryID, ErrUnknownCategory)
	}
	if kind == core.Debit && amount > current.Amount {
		l.record("record", metrics.ResultDenied)
		return core.Expense{}, fmt.Errorf("record entry: %s requested, %s available: %w",
			amount, current.Amount, ErrInsufficientFunds)
	}
	if kind == core.Credit && amount > math.MaxInt64-current.Amount {
		l.record("record", metrics.ResultDenied)
		return core.Expense{}, fmt.Errorf("record entry: %s on top of %s: %w",
			amount, current.Amount, ErrBalanceOverflow)
	}
	next := kind.Apply(current.Amount, amount)

	e.ClientToken = l.token()
	e.CreatedAt = gateway.Now()
	l.entries.ApplyLocalInsert(e)

	row, err := l.gw.Insert(ctx, gateway.TableExpenses, expenseRow(e))
	if err != nil {
		l.entries.Rollback(e.ClientToken)
		l.record("record", metrics.ResultError)
		l.logger.WarnContext(ctx, "Entry insert failed",
			"category_id", categoryID,
			"token", e.ClientToken,
			"error", err)
		return core.Expense{}, fmt.Errorf("record entry: %w: %w", ErrRemoteWriteFailed, err)
	}
	recorded, err := gateway.DecodeAs[core.Expense](row)
	if err != nil {
		recorded = e
	} else {
		l.entries.Merge(recorded)
	}

	updated := core.Balance{CategoryID: categoryID, Amount: next, UpdatedAt: gateway.Now()}
	n, err := l.gw.Update(ctx, gateway.TableBalances,
		gateway.Eq("category_id", categoryID),
		gateway.Row{"balance": int64(next), "updated_at": updated.UpdatedAt})
	if err == nil && n == 0 {
		err = fmt.Errorf("balance row of category %d not found", categoryID)
	}
	if err != nil {
		l.record("record", metrics.ResultPartial)
		l.logger.ErrorContext(ctx, "Balance update failed after entry insert",
			"category_id", categoryID,
			"entry_id", recorded.ID,
			"balance", int64(next),
			"error", err)
		return recorded, &PartialFailureError{
			Op:        "record entry",
			Completed: []Step{StepInsertEntry},
			Failed:    StepUpdateBalance,
			Err:       err,
		}
	}
	l.balances.Merge(updated)

	l.record("record", metrics.ResultOK)
	l.logger.InfoContext(ctx, "Entry recorded",
		"category_id", categoryID,
		"entry_id", recorded.ID,
		"amount", int64(amount),
		"balance", int64(next))
	return recorded, nil
}

// DeleteCategory removes the category's entries, then its balance, then the
// category. The first failing step stops the rest; a failure after at least
// one step was written is a *PartialFailureError naming that step.
func (l *Ledger) DeleteCategory(ctx context.Context, categoryID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.categories.Find(categoryKey(categoryID)); !ok {
		return fmt.Errorf("delete category %d: %w", categoryID, ErrUnknownCategory)
	}
	byCategory := gateway.Eq("category_id", categoryID)

	if _, err := l.gw.Delete(ctx, gateway.TableExpenses, byCategory); err != nil {
		l.record("delete_category", metrics.ResultError)
		return fmt.Errorf("delete category: %w: %w", ErrRemoteWriteFailed, err)
	}
	l.entries.RemoveWhere(func(e core.Expense) bool { return e.CategoryID == categoryID })

	steps := []struct {
		step  Step
		table string
		f     gateway.Filter
		local func()
	}{
		{StepDeleteBalance, gateway.TableBalances, byCategory, func() { l.balances.Remove(categoryKey(categoryID)) }},
		{StepDeleteCategory, gateway.TableCategories, gateway.Eq("id", categoryID), func() { l.categories.Remove(categoryKey(categoryID)) }},
	}
	completed := []Step{StepDeleteEntries}
	for _, s := range steps {
		if _, err := l.gw.Delete(ctx, s.table, s.f); err != nil {
			l.record("delete_category", metrics.ResultPartial)
			l.logger.ErrorContext(ctx, "Category delete stopped",
				"category_id", categoryID,
				"step", string(s.step),
				"error", err)
			return &PartialFailureError{
				Op:        "delete category",
				Completed: completed,
				Failed:    s.step,
				Err:       err,
			}
		}
		s.local()
		completed = append(completed, s.step)
	}

	l.record("delete_category", metrics.ResultOK)
	l.logger.InfoContext(ctx, "Category deleted", "category_id", categoryID)
	return nil
}

// AttachReceipt stores an image for an entry and links it through the
// entry's receipt_url. It returns the public URL.
func (l *Ledger) AttachReceipt(ctx context.Context, entryID int64, name string, data []byte) (string, error) {
	if l.objects == nil {
		return "", ErrNoObjectStore
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Find(strconv.FormatInt(entryID, 10))
	if !ok {
		return "", fmt.Errorf("attach receipt: entry %d: %w", entryID, ErrUnknownEntry)
	}

	key := path.Join(l.userID, strconv.FormatInt(entryID, 10), path.Base(name))
	if err := l.objects.PutObject(ctx, l.bucket, key, data); err != nil {
		l.record("attach", metrics.ResultError)
		return "", fmt.Errorf("attach receipt: %w: %w", ErrRemoteWriteFailed, err)
	}
	url := l.objects.PublicURL(l.bucket, key)

	if _, err := l.gw.Update(ctx, gateway.TableExpenses,
		gateway.Eq("id", entryID),
		gateway.Row{"receipt_url": url}); err != nil {
		l.record("attach", metrics.ResultPartial)
		return url, &PartialFailureError{
			Op:        "attach receipt",
			Completed: []Step{StepStoreReceipt},
			Failed:    StepLinkReceipt,
			Err:       err,
		}
	}
	e.ReceiptURL = url
	l.entries.Merge(e)

	l.record("attach", metrics.ResultOK)
	l.logger.InfoContext(ctx, "Receipt attached", "entry_id", entryID, "object_key", key)
	return url, nil
}

func (l *Ledger) record(op, result string) {
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()
}

func expenseRow(e core.Expense) gateway.Row {
	r := gateway.Row{
		"category_id":  e.CategoryID,
		"amount":       int64(e.Amount),
		"type":         string(e.Kind),
		"note":         e.Note,
		"user_id":      e.UserID,
		"client_token": e.ClientToken,
	}
	if !e.CreatedAt.IsZero() {
		r["created_at"] = e.CreatedAt
	}
	return r
}

func categoryKey(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

var (
	CategorySpec = collection.Spec[core.Category]{
		Table:  gateway.TableCategories,
		Decode: gateway.DecodeAs[core.Category],
		Key:    func(c core.Category) string { return categoryKey(c.ID) },
		Time:   func(core.Category) time.Time { return time.Time{} },
		Order:  collection.Ascending,
	}

	BalanceSpec = collection.Spec[core.Balance]{
		Table:  gateway.TableBalances,
		Decode: gateway.DecodeAs[core.Balance],
		Key:    func(b core.Balance) string { return categoryKey(b.CategoryID) },
		Time:   func(core.Balance) time.Time { return time.Time{} },
		Order:  collection.Ascending,
		// Echoes of earlier updates may still be queued when the ledger
		// applies its own write.
		Revision: func(b core.Balance) time.Time { return b.UpdatedAt },
	}

	// EntrySpec mirrors entries most recent first. Entries without a token
	// are matched to optimistic ones on their payload.
	EntrySpec = collection.Spec[core.Expense]{
		Table:  gateway.TableExpenses,
		Decode: gateway.DecodeAs[core.Expense],
		Key:    func(e core.Expense) string { return categoryKey(e.ID) },
		Token:  func(e core.Expense) string { return e.ClientToken },
		Time:   func(e core.Expense) time.Time { return e.CreatedAt },
		Order:  collection.Descending,
		Same: func(optimistic, confirmed core.Expense) bool {
			return optimistic.CategoryID == confirmed.CategoryID &&
				optimistic.Amount == confirmed.Amount &&
				optimistic.Kind == confirmed.Kind &&
				optimistic.Note == confirmed.Note &&
				optimistic.UserID == confirmed.UserID
		},
	}
)
