package api

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"planner-engine/internal/recurrence"
	"planner-engine/internal/service"
)

const productID = "-//planner-engine//preview//EN"

// BuildCalendar renders upcoming occurrences as an iCalendar feed, one
// VEVENT per occurrence. Events are concrete dates, so no RRULE is attached;
// the rule is only named in the description.
func BuildCalendar(rule recurrence.Rule, title string, occs []recurrence.Occurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	summary := strings.TrimSpace(title)
	if summary == "" {
		summary = fmt.Sprintf("Task %d", rule.TaskID)
	}
	description := service.DescribePeriod(rule.Period)
	if rr := rule.RRuleString(); rr != "" {
		description += " (RRULE:" + rr + ")"
	}
	for _, occ := range occs {
		ev := cal.AddEvent(fmt.Sprintf("rule-%d-%d@planner-engine", rule.ID, occ.DueAt.Unix()))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(occ.DueAt.UTC())
		ev.SetSummary(summary)
		ev.SetDescription(description)
	}
	return cal.Serialize()
}
