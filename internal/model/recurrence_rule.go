package model

import "time"

// RecurrenceRule is the stored form of a repeat rule, one per template task.
type RecurrenceRule struct {
	ID          uint   `gorm:"primaryKey"`
	TaskID      uint   `gorm:"uniqueIndex"`
	PeriodType  string `gorm:"size:16"`
	PeriodValue int    `gorm:"default:1"`
	// RepeatDays holds comma separated weekday labels, weekly rules only.
	RepeatDays         string
	EndDate            *time.Time
	InfiniteRepeat     bool `gorm:"default:false"`
	AnchorDate         time.Time
	LastMaterializedAt *time.Time
	Version            int64 `gorm:"default:1"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
