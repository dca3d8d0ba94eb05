package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// PeriodType names the unit a rule repeats in.
type PeriodType string

const (
	Daily   PeriodType = "daily"
	Weekly  PeriodType = "weekly"
	Monthly PeriodType = "monthly"
	Yearly  PeriodType = "yearly"
)

// ParsePeriodType accepts the lower-case period names used in storage and the API.
func ParsePeriodType(raw string) (PeriodType, error) {
	switch PeriodType(strings.ToLower(strings.TrimSpace(raw))) {
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	case Yearly:
		return Yearly, nil
	}
	return "", fmt.Errorf("%w: unknown period type %q", ErrInvalidRule, raw)
}

// Period is a tagged variant: each period type carries only the fields it uses.
// Only the types in this package implement it.
type Period interface {
	Type() PeriodType
	// Every is the "every N periods" multiplier, always >= 1 for a constructed period.
	Every() int
	isPeriod()
}

type DailyPeriod struct{ N int }

type WeeklyPeriod struct {
	N    int
	Days WeekdaySet
}

type MonthlyPeriod struct{ N int }

type YearlyPeriod struct{ N int }

func (p DailyPeriod) Type() PeriodType   { return Daily }
func (p WeeklyPeriod) Type() PeriodType  { return Weekly }
func (p MonthlyPeriod) Type() PeriodType { return Monthly }
func (p YearlyPeriod) Type() PeriodType  { return Yearly }

func (p DailyPeriod) Every() int   { return p.N }
func (p WeeklyPeriod) Every() int  { return p.N }
func (p MonthlyPeriod) Every() int { return p.N }
func (p YearlyPeriod) Every() int  { return p.N }

func (DailyPeriod) isPeriod()   {}
func (WeeklyPeriod) isPeriod()  {}
func (MonthlyPeriod) isPeriod() {}
func (YearlyPeriod) isPeriod()  {}

// NewPeriod builds the variant for the given type. Weekday names are only
// read for weekly periods; for the other types they are ignored.
func NewPeriod(kind PeriodType, every int, days []string) (Period, error) {
	if every < 1 {
		return nil, fmt.Errorf("%w: period value must be >= 1, got %d", ErrInvalidRule, every)
	}
	switch kind {
	case Daily:
		return DailyPeriod{N: every}, nil
	case Weekly:
		set, err := ParseWeekdays(days)
		if err != nil {
			return nil, err
		}
		return WeeklyPeriod{N: every, Days: set}, nil
	case Monthly:
		return MonthlyPeriod{N: every}, nil
	case Yearly:
		return YearlyPeriod{N: every}, nil
	}
	return nil, fmt.Errorf("%w: unknown period type %q", ErrInvalidRule, kind)
}

// WeekdaySet is a bitmask of weekdays, bit i set for time.Weekday(i).
type WeekdaySet uint8

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekdays parses weekday labels ("monday", "thu", ...). Duplicates collapse.
func ParseWeekdays(labels []string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, raw := range labels {
		label := strings.ToLower(strings.TrimSpace(raw))
		if label == "" {
			continue
		}
		day, ok := weekdayNames[label]
		if !ok {
			return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, raw)
		}
		set = set.With(day)
	}
	return set, nil
}

// WeekdaysOf builds a set from time.Weekday values.
func WeekdaysOf(days ...time.Weekday) WeekdaySet {
	var set WeekdaySet
	for _, d := range days {
		set = set.With(d)
	}
	return set
}

func (s WeekdaySet) With(day time.Weekday) WeekdaySet { return s | 1<<uint(day) }

func (s WeekdaySet) Has(day time.Weekday) bool { return s&(1<<uint(day)) != 0 }

func (s WeekdaySet) Empty() bool { return s&0x7f == 0 }

// Days lists the set in weekday order, sunday first.
func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Labels returns lower-case weekday names in weekday order.
func (s WeekdaySet) Labels() []string {
	days := s.Days()
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, strings.ToLower(d.String()))
	}
	return out
}

func (s WeekdaySet) String() string { return strings.Join(s.Labels(), ",") }
