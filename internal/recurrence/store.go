package recurrence

import (
	"context"
	"time"
)

// Store is the persistence the engine consumes. Implementations wrap
// failures other than ErrNotFound and ErrConflict in ErrPersistence.
type Store interface {
	// LoadActiveRules returns rules that are infinite or end after now.
	LoadActiveRules(ctx context.Context, now time.Time) ([]Rule, error)
	GetRule(ctx context.Context, id uint) (Rule, error)
	GetRuleByTask(ctx context.Context, taskID uint) (Rule, error)
	// UpsertRule creates or edits the rule of rule.TaskID. The stored cursor
	// is kept when it is later than the given one; Version is bumped.
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, id uint) error

	// CreateInstance copies the template task of rule with the given due
	// time. Repeating the call for the same (rule, dueAt) returns the
	// existing instance with Created=false.
	CreateInstance(ctx context.Context, rule Rule, dueAt time.Time) (Instance, error)
	// AdvanceCursor sets the cursor to next if the stored version still
	// equals version, otherwise it fails with ErrConflict.
	AdvanceCursor(ctx context.Context, ruleID uint, version int64, next time.Time) error

	// Atomically runs fn against a store bound to one transaction.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}
