package vectorstore

import "context"

// SearchHit is one retrieved chunk, ranked by similarity (highest first).
type SearchHit struct {
	SessionID uint    `json:"session_id"`
	Text      string  `json:"text"`
	Score     float32 `json:"score"`
}

// Index owns the shared collection holding every session's chunks, tagged
// with the session id so each query is scoped to exactly one session.
type Index interface {
	// EnsureCollection is idempotent and safe to race between processes.
	EnsureCollection(ctx context.Context) error
	// Upsert embeds the chunks and stores them tagged with sessionID. A
	// failure leaves the session's entries in an undefined partial state.
	Upsert(ctx context.Context, sessionID uint, chunks []string) error
	// Search returns the top-k entries whose session id matches, ranked by
	// similarity. No matches is an empty slice, not an error.
	Search(ctx context.Context, sessionID uint, queryText string, k int) ([]SearchHit, error)
	// DeleteSession removes every entry for the session; a session with no
	// entries is a no-op success.
	DeleteSession(ctx context.Context, sessionID uint) error
}
