// Package ledger records which action directives have already produced entities.
//
// An entry is written as pending the moment a directive is about to be executed,
// before any network call, and settles as completed or failed. Completed and
// pending entries live as long as their conversation; failed entries may be
// released so the directive can be attempted again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
)

// Sentinel errors for ledger operations.
var (
	// ErrNotRemovable is returned when releasing an entry that is pending or completed.
	ErrNotRemovable = errors.New("ledger entry is not removable")

	// ErrInvalidTransition is returned when settling an entry from the wrong status.
	ErrInvalidTransition = errors.New("invalid ledger transition")

	// ErrNotFound is returned when an operation needs an entry that does not exist.
	ErrNotFound = errors.New("ledger entry not found")
)

// Store persists ledger entries. Implementations must make PutIfAbsent atomic:
// of two concurrent calls for one key, exactly one reports true.
type Store interface {
	Get(ctx context.Context, key models.LedgerKey) (models.LedgerEntry, bool, error)
	PutIfAbsent(ctx context.Context, entry models.LedgerEntry) (bool, error)
	Put(ctx context.Context, entry models.LedgerEntry) error
	Delete(ctx context.Context, key models.LedgerKey) error
	List(ctx context.Context, conversationID string) ([]models.LedgerEntry, error)
}

// transitions lists the allowed status changes of an existing entry.
var transitions = map[models.LedgerStatus]map[models.LedgerStatus]bool{
	models.LedgerPending: {
		models.LedgerCompleted: true,
		models.LedgerFailed:    true,
	},
}

// Ledger is the idempotency ledger. All methods are safe for concurrent use;
// check-then-act sequences run under one mutex and the store's PutIfAbsent is the
// final authority across processes.
type Ledger struct {
	store  Store
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// New creates a ledger over store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, now: time.Now, logger: logger}
}

// Lookup returns the entry for key, if any.
func (l *Ledger) Lookup(ctx context.Context, key models.LedgerKey) (models.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return models.LedgerEntry{}, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return entry, ok, nil
}

// Reserve writes a pending entry for key unless one already exists.
// It reports whether this caller won the reservation.
func (l *Ledger) Reserve(ctx context.Context, key models.LedgerKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ok, err := l.store.PutIfAbsent(ctx, models.LedgerEntry{
		Key:       key,
		Status:    models.LedgerPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	if ok {
		l.logger.Debug("ledger entry reserved", "key", key.String())
	}
	return ok, nil
}

// Record stores a completed entry for an entity that already exists on the
// platform. An existing pending entry is settled; a completed one is kept.
func (l *Ledger) Record(ctx context.Context, key models.LedgerKey, ref models.EntityRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	if ok && existing.Status == models.LedgerCompleted {
		return nil
	}

	now := l.now()
	entry := models.LedgerEntry{
		Key:              key,
		Status:           models.LedgerCompleted,
		ResultEntityID:   ref.ID,
		ResultEntityKind: ref.Kind,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if ok {
		entry.CreatedAt = existing.CreatedAt
	}
	if err := l.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	l.logger.Info("ledger entry recorded", "key", key.String(), "entity_id", ref.ID)
	return nil
}

// Complete settles a pending entry with the created entity.
func (l *Ledger) Complete(ctx context.Context, key models.LedgerKey, ref models.EntityRef) error {
	return l.settle(ctx, key, models.LedgerCompleted, func(e *models.LedgerEntry) {
		e.ResultEntityID = ref.ID
		e.ResultEntityKind = ref.Kind
		e.Error = ""
	})
}

// Fail settles a pending entry as failed. The entry becomes releasable.
func (l *Ledger) Fail(ctx context.Context, key models.LedgerKey, cause error) error {
	return l.settle(ctx, key, models.LedgerFailed, func(e *models.LedgerEntry) {
		if cause != nil {
			e.Error = cause.Error()
		}
	})
}

func (l *Ledger) settle(ctx context.Context, key models.LedgerKey, to models.LedgerStatus, apply func(*models.LedgerEntry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("settle %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("settle %s: %w", key, ErrNotFound)
	}
	if !transitions[entry.Status][to] {
		return fmt.Errorf("settle %s %s -> %s: %w", key, entry.Status, to, ErrInvalidTransition)
	}

	entry.Status = to
	entry.UpdatedAt = l.now()
	apply(&entry)

	if err := l.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("settle %s: %w", key, err)
	}
	l.logger.Debug("ledger entry settled", "key", key.String(), "status", to)
	return nil
}

// Release removes a failed entry so its directive may be attempted again.
// Releasing a missing entry is a no-op.
func (l *Ledger) Release(ctx context.Context, key models.LedgerKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if entry.Status != models.LedgerFailed {
		return fmt.Errorf("release %s (%s): %w", key, entry.Status, ErrNotRemovable)
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	l.logger.Info("ledger entry released", "key", key.String())
	return nil
}

// Entries lists the entries of one conversation.
func (l *Ledger) Entries(ctx context.Context, conversationID string) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.store.List(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", conversationID, err)
	}
	return entries, nil
}
