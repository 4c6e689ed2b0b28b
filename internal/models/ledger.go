package models

import (
	"fmt"
	"strings"
	"time"
)

// LedgerStatus is the lifecycle state of an idempotency ledger entry.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerCompleted LedgerStatus = "completed"
	LedgerFailed    LedgerStatus = "failed"
)

// LedgerKey identifies one action directive within a conversation.
type LedgerKey struct {
	ConversationID string     `json:"conversation_id" yaml:"conversation_id"`
	Action         ActionKind `json:"action" yaml:"action"`
	Fingerprint    string     `json:"fingerprint" yaml:"fingerprint"`
}

// String returns the "conversation:action:fingerprint" form used by stores.
func (k LedgerKey) String() string {
	return k.ConversationID + ":" + string(k.Action) + ":" + k.Fingerprint
}

// ParseLedgerKey parses the String form. The conversation ID may itself contain colons.
func ParseLedgerKey(s string) (LedgerKey, error) {
	last := strings.LastIndex(s, ":")
	if last <= 0 {
		return LedgerKey{}, fmt.Errorf("invalid ledger key %q", s)
	}
	rest, fp := s[:last], s[last+1:]
	mid := strings.LastIndex(rest, ":")
	if mid <= 0 || fp == "" {
		return LedgerKey{}, fmt.Errorf("invalid ledger key %q", s)
	}
	return LedgerKey{
		ConversationID: rest[:mid],
		Action:         ActionKind(rest[mid+1:]),
		Fingerprint:    fp,
	}, nil
}

// LedgerEntry records that a directive was observed and what it produced.
type LedgerEntry struct {
	Key              LedgerKey    `json:"key" yaml:"key"`
	Status           LedgerStatus `json:"status" yaml:"status"`
	ResultEntityID   string       `json:"result_entity_id,omitempty" yaml:"result_entity_id,omitempty"`
	ResultEntityKind EntityKind   `json:"result_entity_kind,omitempty" yaml:"result_entity_kind,omitempty"`
	Error            string       `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt        time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Result returns the recorded entity, if any.
func (e LedgerEntry) Result() (EntityRef, bool) {
	if e.ResultEntityID == "" {
		return EntityRef{}, false
	}
	return EntityRef{ID: e.ResultEntityID, Kind: e.ResultEntityKind}, true
}
