package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestWrapQueryError(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"record exists", &surrealdb.QueryError{Message: "Database record `action_ledger:x` already exists"}, ErrEntityAlreadyExists},
		{"unique index", &surrealdb.QueryError{Message: "Database index `action_ledger_key` already contains 'x'"}, ErrEntityAlreadyExists},
		{"wrapped", fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "record already exists"}), ErrEntityAlreadyExists},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: retry"}, ErrTransactionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Same(t, plain, wrapQueryError(plain), "unknown errors pass through")
}

func TestReservationLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"record exists", &surrealdb.QueryError{Message: "Database record `action_ledger:x` already exists"}, true},
		{"concurrent create", &surrealdb.QueryError{Message: "Transaction conflict: Resource busy"}, true},
		{"other query error", &surrealdb.QueryError{Message: "Parse error"}, false},
		{"connection", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reservationLost(wrapQueryError(tt.err)))
		})
	}
}
