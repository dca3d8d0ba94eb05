package recurrence

import (
	"fmt"
	"time"
)

// Rule is a repeat rule attached to one template task.
type Rule struct {
	ID     uint
	TaskID uint
	Period Period

	// EndDate is exclusive: no occurrence is generated at or after it.
	EndDate        *time.Time
	InfiniteRepeat bool
	AnchorDate     time.Time

	// LastMaterializedAt is the durable cursor. It only moves forward.
	LastMaterializedAt *time.Time

	// Version is bumped on every write and used for compare-and-swap.
	Version int64
}

// Occurrence is one computed due date of a rule. It is never persisted.
type Occurrence struct {
	RuleID uint      `json:"rule_id"`
	DueAt  time.Time `json:"due_at"`
}

// Instance is the concrete task created for an occurrence.
type Instance struct {
	TaskID         uint      `json:"task_id"`
	RuleID         uint      `json:"rule_id"`
	TemplateTaskID uint      `json:"template_task_id"`
	DueAt          time.Time `json:"due_at"`
	// Created is false when the instance already existed for (RuleID, DueAt).
	Created bool `json:"created"`
}

// Validate checks a rule at creation or edit time.
func (r Rule) Validate() error {
	if r.Period == nil {
		return fmt.Errorf("%w: period is required", ErrInvalidRule)
	}
	if r.Period.Every() < 1 {
		return fmt.Errorf("%w: period value must be >= 1, got %d", ErrInvalidRule, r.Period.Every())
	}
	if r.AnchorDate.IsZero() {
		return fmt.Errorf("%w: anchor date is required", ErrInvalidRule)
	}
	if r.InfiniteRepeat {
		return nil
	}
	if r.EndDate == nil {
		return fmt.Errorf("%w: end date is required unless the rule repeats forever", ErrInvalidRule)
	}
	if !r.EndDate.After(r.AnchorDate) {
		return fmt.Errorf("%w: end date %s is not after anchor %s", ErrInvalidRule,
			r.EndDate.Format(time.RFC3339), r.AnchorDate.Format(time.RFC3339))
	}
	return nil
}

// Bounded reports whether EndDate limits the rule.
func (r Rule) Bounded() bool { return !r.InfiniteRepeat && r.EndDate != nil }

// MissingEnd reports a finite rule stored without an end date. Such rules
// are processed as unbounded.
func (r Rule) MissingEnd() bool { return !r.InfiniteRepeat && r.EndDate == nil }

// Degraded reports a weekly rule without repeat days; it falls back to the
// anchor's weekday.
func (r Rule) Degraded() bool {
	p, ok := r.Period.(WeeklyPeriod)
	return ok && p.Days.Empty()
}

// Cursor is where occurrence computation resumes: max(anchor, cursor).
func (r Rule) Cursor() time.Time {
	if r.LastMaterializedAt != nil && r.LastMaterializedAt.After(r.AnchorDate) {
		return *r.LastMaterializedAt
	}
	return r.AnchorDate
}

// ActiveAt reports whether the rule can still produce occurrences after now.
func (r Rule) ActiveAt(now time.Time) bool {
	if !r.Bounded() {
		return true
	}
	return r.EndDate.After(now)
}

// WithCursor returns a copy with the cursor moved to at. Earlier values are ignored.
func (r Rule) WithCursor(at time.Time) Rule {
	if r.LastMaterializedAt != nil && !at.After(*r.LastMaterializedAt) {
		return r
	}
	t := at
	r.LastMaterializedAt = &t
	return r
}
