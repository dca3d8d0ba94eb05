package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// RRule expresses the rule as an RFC 5545 recurrence for calendar clients.
//
// Month-end clamping has no direct RRULE form, so a day past the 28th is
// written as BYMONTHDAY=28..day with BYSETPOS=-1 (last matching day).
// EndDate is exclusive here and inclusive in RRULE; UNTIL is one second
// before it.
func (r Rule) RRule() (*rrule.RRule, error) {
	if err := r.validPeriod(); err != nil {
		return nil, err
	}
	anchor := r.AnchorDate
	opt := rrule.ROption{
		Dtstart:  anchor,
		Interval: r.Period.Every(),
		Wkst:     rrule.SU,
	}
	if r.Bounded() {
		opt.Until = r.EndDate.Add(-time.Second)
	}

	switch p := r.Period.(type) {
	case DailyPeriod:
		opt.Freq = rrule.DAILY
	case WeeklyPeriod:
		opt.Freq = rrule.WEEKLY
		days := p.Days.Days()
		if len(days) == 0 {
			days = []time.Weekday{anchor.Weekday()}
		}
		for _, d := range days {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	case MonthlyPeriod:
		opt.Freq = rrule.MONTHLY
		if anchor.Day() > 28 {
			opt.Bymonthday = dayRange(28, anchor.Day())
			opt.Bysetpos = []int{-1}
		}
	case YearlyPeriod:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(anchor.Month())}
		if anchor.Month() == time.February && anchor.Day() == 29 {
			opt.Bymonthday = []int{28, 29}
			opt.Bysetpos = []int{-1}
		} else {
			opt.Bymonthday = []int{anchor.Day()}
		}
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return rr, nil
}

// RRuleString renders the RRULE property value (no DTSTART line), or ""
// when the rule cannot be expressed.
func (r Rule) RRuleString() string {
	rr, err := r.RRule()
	if err != nil {
		return ""
	}
	parts := strings.Split(rr.OrigOptions.RRuleString(), ";")
	out := parts[:0]
	for _, part := range parts {
		if strings.HasPrefix(part, "DTSTART") {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, ";")
}

func (r Rule) validPeriod() error {
	if r.Period == nil || r.Period.Every() < 1 {
		return fmt.Errorf("%w: period is required", ErrInvalidRule)
	}
	return nil
}

func dayRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for d := from; d <= to; d++ {
		out = append(out, d)
	}
	return out
}
