package domain

import "errors"

var (
	// ErrInvalidArgument is returned for malformed or missing request fields.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized is returned when the session token is missing or wrong,
	// or the session does not exist (existence is not leaked separately).
	ErrUnauthorized = errors.New("invalid session or token")
	// ErrSessionClosed is returned for mutating operations on an ended session.
	ErrSessionClosed = errors.New("session already ended")
	// ErrSessionNotFound is returned by stats lookups for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuestionNotFound indicates a question id outside the catalog.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrConflict indicates a cursor race, typically a duplicated submission.
	ErrConflict = errors.New("session cursor conflict")
	// ErrDuplicateToken signals the uniqueness constraint on session tokens
	// fired; callers regenerate and retry.
	ErrDuplicateToken = errors.New("session token already in use")
)
