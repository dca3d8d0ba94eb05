package api

import (
	"time"

	"planner-engine/internal/recurrence"
	"planner-engine/internal/service"
)

type ruleView struct {
	ID                 uint       `json:"id"`
	TaskID             uint       `json:"task_id"`
	PeriodType         string     `json:"period_type"`
	PeriodValue        int        `json:"period_value"`
	RepeatDays         []string   `json:"repeat_days,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	InfiniteRepeat     bool       `json:"infinite_repeat"`
	AnchorDate         time.Time  `json:"anchor_date"`
	LastMaterializedAt *time.Time `json:"last_materialized_at,omitempty"`
	Version            int64      `json:"version"`
	Description        string     `json:"description"`
	RRule              string     `json:"rrule,omitempty"`
	Degraded           bool       `json:"degraded,omitempty"`
}

func newRuleView(rule recurrence.Rule) ruleView {
	v := ruleView{
		ID:                 rule.ID,
		TaskID:             rule.TaskID,
		EndDate:            rule.EndDate,
		InfiniteRepeat:     rule.InfiniteRepeat,
		AnchorDate:         rule.AnchorDate,
		LastMaterializedAt: rule.LastMaterializedAt,
		Version:            rule.Version,
		Description:        service.DescribePeriod(rule.Period),
		RRule:              rule.RRuleString(),
		Degraded:           rule.Degraded(),
	}
	if rule.Period != nil {
		v.PeriodType = string(rule.Period.Type())
		v.PeriodValue = rule.Period.Every()
	}
	if p, ok := rule.Period.(recurrence.WeeklyPeriod); ok {
		v.RepeatDays = p.Days.Labels()
	}
	return v
}
