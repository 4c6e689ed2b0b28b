// Package service runs chat sessions: it keeps the local timeline in sync with
// the platform, presents replies and executes action directives exactly once.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/pmchat/internal/ledger"
	"github.com/raphaelgruber/pmchat/internal/metrics"
	"github.com/raphaelgruber/pmchat/internal/models"
)

// ErrCreationFailed wraps the error of a failed creation call.
var ErrCreationFailed = errors.New("entity creation failed")

// Creator creates and looks up the platform entities directives refer to.
type Creator interface {
	CreateProjectFromDirective(ctx context.Context, d models.ProjectDirective, scope models.Scope) (models.EntityRef, error)
	CreateTaskFromDirective(ctx context.Context, d models.TaskDirective, scope models.Scope) (models.EntityRef, error)
	FindExistingProject(ctx context.Context, scope models.Scope, name string) (models.EntityRef, bool, error)
	FindExistingTask(ctx context.Context, scope models.Scope, title, projectID string) (models.EntityRef, bool, error)
}

// Outcome is how a dispatch settled.
type Outcome string

const (
	// OutcomeCreated means this dispatch created the entity.
	OutcomeCreated Outcome = "created"
	// OutcomeRecorded means the ledger already held the directive.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeExisting means the entity already existed on the platform.
	OutcomeExisting Outcome = "existing"
	// OutcomeFailed means a lookup or the creation failed. The directive may be retried.
	OutcomeFailed Outcome = "failed"
	// OutcomeBusy means another dispatch of the same kind was running.
	OutcomeBusy Outcome = "busy"
)

// DispatchResult describes a settled dispatch.
type DispatchResult struct {
	Outcome Outcome
	Key     models.LedgerKey
	// Entity is set when the directive's entity is known.
	Entity models.EntityRef
	Err    error
}

// Stampable reports whether the message can be stamped with Entity.
func (r DispatchResult) Stampable() bool {
	return r.Entity.ID != ""
}

// Dispatcher executes action directives at most once per conversation and
// fingerprint. It is safe for concurrent use.
type Dispatcher struct {
	ledger  *ledger.Ledger
	creator Creator
	metrics *metrics.Collector
	logger  *slog.Logger

	mu   sync.Mutex
	busy map[models.ActionKind]bool
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(l *ledger.Ledger, creator Creator, m *metrics.Collector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		ledger:  l,
		creator: creator,
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
		busy:    make(map[models.ActionKind]bool),
	}
}

func (d *Dispatcher) acquire(kind models.ActionKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy[kind] {
		return false
	}
	d.busy[kind] = true
	return true
}

func (d *Dispatcher) release(kind models.ActionKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.busy, kind)
}

// Dispatch executes the directive carried by msg unless the ledger or the
// platform shows it has already been executed.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, msg models.Message, directive models.Directive) DispatchResult {
	key := ledger.KeyFor(conversationID, directive)
	log := d.logger.With(
		"conversation_id", conversationID,
		"action", directive.Action,
		"fingerprint", key.Fingerprint,
		"message", msg.Ref().Key(),
	)

	if !d.acquire(directive.Action) {
		log.Debug("dispatch busy")
		return d.settle(log, DispatchResult{Outcome: OutcomeBusy, Key: key})
	}
	defer d.release(directive.Action)

	// Ledger writes must land even when the caller gives up.
	writeCtx := context.WithoutCancel(ctx)

	entry, ok, err := d.ledger.Lookup(ctx, key)
	if err != nil {
		return d.settle(log, DispatchResult{Outcome: OutcomeFailed, Key: key, Err: err})
	}
	if ok {
		if entry.Status != models.LedgerFailed {
			ref, _ := entry.Result()
			return d.settle(log, DispatchResult{Outcome: OutcomeRecorded, Key: key, Entity: ref})
		}
		if err := d.ledger.Release(writeCtx, key); err != nil {
			return d.settle(log, DispatchResult{Outcome: OutcomeFailed, Key: key, Err: err})
		}
		log.Info("retrying failed directive", "previous_error", entry.Error)
	}

	scope := models.Scope{ConversationID: conversationID}
	ref, found, err := d.findExisting(ctx, &scope, directive)
	if err != nil {
		return d.settle(log, DispatchResult{Outcome: OutcomeFailed, Key: key, Err: fmt.Errorf("existence check: %w", err)})
	}
	if found {
		if err := d.ledger.Record(writeCtx, key, ref); err != nil {
			log.Error("failed to record existing entity", "error", err)
		}
		return d.settle(log, DispatchResult{Outcome: OutcomeExisting, Key: key, Entity: ref})
	}

	won, err := d.ledger.Reserve(writeCtx, key)
	if err != nil {
		return d.settle(log, DispatchResult{Outcome: OutcomeFailed, Key: key, Err: err})
	}
	if !won {
		res := DispatchResult{Outcome: OutcomeRecorded, Key: key}
		if entry, ok, err := d.ledger.Lookup(writeCtx, key); err == nil && ok {
			res.Entity, _ = entry.Result()
		}
		return d.settle(log, res)
	}

	start := time.Now()
	ref, err = d.create(ctx, scope, directive)
	if err == nil && ref.ID == "" {
		err = errors.New("platform returned no entity id")
	}
	d.metrics.RecordTiming(metrics.OpCreate, time.Since(start), err)
	if err != nil {
		if ferr := d.ledger.Fail(writeCtx, key, err); ferr != nil {
			log.Error("failed to record creation failure", "error", ferr)
		}
		return d.settle(log, DispatchResult{Outcome: OutcomeFailed, Key: key, Err: fmt.Errorf("%w: %w", ErrCreationFailed, err)})
	}

	if err := d.ledger.Complete(writeCtx, key, ref); err != nil {
		log.Error("failed to complete ledger entry", "error", err, "entity_id", ref.ID)
	}
	return d.settle(log, DispatchResult{Outcome: OutcomeCreated, Key: key, Entity: ref})
}

func (d *Dispatcher) settle(log *slog.Logger, res DispatchResult) DispatchResult {
	d.metrics.RecordOutcome(string(res.Outcome))
	switch res.Outcome {
	case OutcomeFailed:
		log.Warn("dispatch failed", "outcome", res.Outcome, "error", res.Err)
	case OutcomeBusy:
	default:
		log.Info("dispatch settled", "outcome", res.Outcome, "entity_id", res.Entity.ID)
	}
	return res
}

// findExisting looks the directive's entity up on the platform. For tasks the
// project is resolved first and recorded in scope.
func (d *Dispatcher) findExisting(ctx context.Context, scope *models.Scope, directive models.Directive) (models.EntityRef, bool, error) {
	start := time.Now()
	var (
		ref   models.EntityRef
		found bool
		err   error
	)

	switch {
	case directive.Project != nil:
		scope.WorkspaceName = directive.Project.WorkspaceName
		ref, found, err = d.creator.FindExistingProject(ctx, *scope, directive.Project.ProjectName)

	case directive.Task != nil:
		if name := directive.Task.ProjectName; name != "" {
			scope.ProjectName = name
			var project models.EntityRef
			project, found, err = d.creator.FindExistingProject(ctx, *scope, name)
			if err != nil {
				break
			}
			if !found {
				// A task cannot already exist in a project that does not.
				break
			}
			scope.ProjectID = project.ID
		}
		ref, found, err = d.creator.FindExistingTask(ctx, *scope, directive.Task.Title, scope.ProjectID)

	default:
		err = fmt.Errorf("directive %q has no payload", directive.Action)
	}

	d.metrics.RecordTiming(metrics.OpLookup, time.Since(start), err)
	return ref, found && err == nil, err
}

func (d *Dispatcher) create(ctx context.Context, scope models.Scope, directive models.Directive) (models.EntityRef, error) {
	switch {
	case directive.Project != nil:
		return d.creator.CreateProjectFromDirective(ctx, *directive.Project, scope)
	case directive.Task != nil:
		return d.creator.CreateTaskFromDirective(ctx, *directive.Task, scope)
	default:
		return models.EntityRef{}, fmt.Errorf("directive %q has no payload", directive.Action)
	}
}

// Recall returns the entity the ledger recorded for a directive without
// executing anything.
func (d *Dispatcher) Recall(ctx context.Context, conversationID string, directive models.Directive) (models.EntityRef, bool) {
	key := ledger.KeyFor(conversationID, directive)
	entry, ok, err := d.ledger.Lookup(ctx, key)
	if err != nil {
		d.logger.Warn("ledger recall failed", "conversation_id", conversationID, "fingerprint", key.Fingerprint, "error", err)
		return models.EntityRef{}, false
	}
	if !ok || entry.Status != models.LedgerCompleted {
		return models.EntityRef{}, false
	}
	return entry.Result()
}
