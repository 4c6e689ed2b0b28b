package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ledgerRow is the stored form of a ledger entry.
type ledgerRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	ConversationID   string                 `json:"conversation_id"`
	Action           string                 `json:"action"`
	Fingerprint      string                 `json:"fingerprint"`
	Status           string                 `json:"status"`
	ResultEntityID   string                 `json:"result_entity_id"`
	ResultEntityKind string                 `json:"result_entity_kind"`
	Error            string                 `json:"error"`
	Created          time.Time              `json:"created"`
	Updated          time.Time              `json:"updated"`
}

func (r ledgerRow) entry() models.LedgerEntry {
	return models.LedgerEntry{
		Key: models.LedgerKey{
			ConversationID: r.ConversationID,
			Action:         models.ActionKind(r.Action),
			Fingerprint:    r.Fingerprint,
		},
		Status:           models.LedgerStatus(r.Status),
		ResultEntityID:   r.ResultEntityID,
		ResultEntityKind: models.EntityKind(r.ResultEntityKind),
		Error:            r.Error,
		CreatedAt:        r.Created,
		UpdatedAt:        r.Updated,
	}
}

func entryVars(e models.LedgerEntry) map[string]any {
	return map[string]any{
		"id":                 e.Key.String(),
		"conversation_id":    e.Key.ConversationID,
		"action":             string(e.Key.Action),
		"fingerprint":        e.Key.Fingerprint,
		"status":             string(e.Status),
		"result_entity_id":   e.ResultEntityID,
		"result_entity_kind": string(e.ResultEntityKind),
		"error":              e.Error,
		"created":            e.CreatedAt.UTC(),
		"updated":            e.UpdatedAt.UTC(),
	}
}

const ledgerFields = `
		conversation_id = $conversation_id,
		action = $action,
		fingerprint = $fingerprint,
		status = $status,
		result_entity_id = $result_entity_id,
		result_entity_kind = $result_entity_kind,
		error = $error,
		created = $created,
		updated = $updated`

// Get returns the ledger entry for key.
func (c *Client) Get(ctx context.Context, key models.LedgerKey) (models.LedgerEntry, bool, error) {
	results, err := surrealdb.Query[[]ledgerRow](ctx, c.db, `
		SELECT * FROM type::record("action_ledger", $id)
	`, map[string]any{"id": key.String()})
	if err != nil {
		return models.LedgerEntry{}, false, fmt.Errorf("get ledger entry: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.LedgerEntry{}, false, nil
	}
	return (*results)[0].Result[0].entry(), true, nil
}

// PutIfAbsent creates the entry unless its key is already recorded.
// The record ID and the unique index make the check atomic on the server.
func (c *Client) PutIfAbsent(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("action_ledger", $id) SET`+ledgerFields, entryVars(entry))
	err = wrapQueryError(err)
	if reservationLost(err) {
		c.logger.Debug("ledger key already reserved", "key", entry.Key.String(), "error", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create ledger entry: %w", err)
	}
	return true, nil
}

// reservationLost reports whether a failed CREATE means another writer holds
// the key: the record exists, or a concurrent CREATE of it won the conflict.
func reservationLost(err error) bool {
	return errors.Is(err, ErrEntityAlreadyExists) || errors.Is(err, ErrTransactionConflict)
}

// Put creates or replaces the entry.
func (c *Client) Put(ctx context.Context, entry models.LedgerEntry) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("action_ledger", $id) SET`+ledgerFields, entryVars(entry))
	if err != nil {
		return fmt.Errorf("upsert ledger entry: %w", wrapQueryError(err))
	}
	return nil
}

// Delete removes the entry. Deleting a missing entry is not an error.
func (c *Client) Delete(ctx context.Context, key models.LedgerKey) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("action_ledger", $id)
	`, map[string]any{"id": key.String()})
	if err != nil {
		return fmt.Errorf("delete ledger entry: %w", err)
	}
	return nil
}

// List returns the entries of a conversation, or all entries when conversationID
// is empty, oldest first.
func (c *Client) List(ctx context.Context, conversationID string) ([]models.LedgerEntry, error) {
	sql := `SELECT * FROM action_ledger ORDER BY created ASC`
	vars := map[string]any{}
	if conversationID != "" {
		sql = `SELECT * FROM action_ledger WHERE conversation_id = $conversation_id ORDER BY created ASC`
		vars["conversation_id"] = conversationID
	}

	results, err := surrealdb.Query[[]ledgerRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.LedgerEntry{}, nil
	}

	rows := (*results)[0].Result
	entries := make([]models.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}
