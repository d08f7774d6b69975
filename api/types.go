package api

import (
	"context"

	"github.com/ferdipret/cred-task/board"
	"github.com/ferdipret/cred-task/domain"
)

// Board is the state engine the handlers drive. Every write goes through
// Exec so the response describes the board the write produced.
type Board interface {
	Snapshot() domain.Snapshot
	Exec(cmd domain.Command) (board.Result, error)
	Subscribe() (<-chan domain.Snapshot, func())
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the command was rejected.
	Remove(ctx context.Context, userID, key string) error
}
