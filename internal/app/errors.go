package app

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")

	// ErrIngest covers documents that cannot become a session: no
	// extractable text, or text that yields no chunks.
	ErrIngest = errors.New("document ingest failed")
)
