package convo

import (
	"context"

	"github.com/eleni-ai/shepherd/internal/fault"
)

var (
	ErrNotFound      = fault.New(fault.KindNotFound, "session not found")
	ErrAlreadyExists = fault.New(fault.KindInvalidInput, "session already exists")
)

// Store is the shared session cache. Implementations must treat the backing
// store as external and shared across server instances; concurrent persists
// of the same session are last-write-wins (an accepted risk of this design,
// not a bug to paper over locally).
//
// An index of active session ids is maintained alongside the sessions and
// must stay consistent with Create/Delete.
type Store interface {
	// Create stores a fresh session, failing with ErrAlreadyExists when the
	// id is taken.
	Create(ctx context.Context, s *Session) error
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Put persists a mutated session. ErrNotFound when it no longer exists.
	Put(ctx context.Context, s *Session) error
	// Delete removes the session and its index entry. Idempotent.
	Delete(ctx context.Context, sessionID string) error
	// ListIDs enumerates the active-session index.
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}
