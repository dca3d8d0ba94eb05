package recurrence

import "errors"

var (
	// ErrInvalidRule marks a malformed period configuration.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrPersistence marks a store failure; the work is retried on the next tick.
	ErrPersistence = errors.New("persistence failure")
	// ErrConflict means a cursor compare-and-swap lost against another writer.
	ErrConflict = errors.New("cursor conflict")
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks a bad request that is not about the period itself.
	ErrInvalidInput = errors.New("invalid input")
)

// Error kinds reported in run summaries.
const (
	KindInvalidRule  = "invalid-rule"
	KindPersistence  = "persistence"
	KindConflict     = "conflict"
	KindNotFound     = "not-found"
	KindInvalidInput = "invalid-input"
	KindUnknown      = "unknown"
)

// Kind maps err onto the taxonomy label surfaced to callers.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRule):
		return KindInvalidRule
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	}
	return KindUnknown
}
