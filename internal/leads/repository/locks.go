package repository

import (
	"context"

	"github.com/google/uuid"
)

// LockLead takes a session-level advisory lock on the lead key so that
// webhook-driven and scheduler-driven transitions for the same lead are
// serialized in acceptance order. The returned release function must be
// called exactly once; it unlocks and returns the connection to the pool.
func (r *Repository) LockLead(ctx context.Context, leadID uuid.UUID) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1::text, 0))`, leadID); err != nil {
		conn.Release()
		return nil, err
	}

	release := func() {
		// Unlock on a background context: the lock must be released even
		// when the request context is already cancelled.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1::text, 0))`, leadID)
		conn.Release()
	}
	return release, nil
}
