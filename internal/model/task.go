package model

import "time"

// Task represents a single item in the planner.
//
// A task that owns a RecurrenceRule is the template of its occurrences.
// Materialized instances copy the template fields and point back at the rule
// through RecurrenceRuleID/OccurrenceAt; that pair is unique so a retried
// materialization can never create a second row.
type Task struct {
	ID               uint  `gorm:"primaryKey"`
	CategoryID       *uint `gorm:"index"`
	Title            string
	Description      string
	Priority         int
	DueAt            *time.Time
	IsCompleted      bool       `gorm:"default:false"`
	RecurrenceRuleID *uint      `gorm:"uniqueIndex:idx_rule_occurrence"`
	OccurrenceAt     *time.Time `gorm:"uniqueIndex:idx_rule_occurrence"`
	TemplateTaskID   *uint      `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsInstance reports whether the task was created by the recurrence engine.
func (t Task) IsInstance() bool { return t.RecurrenceRuleID != nil }
