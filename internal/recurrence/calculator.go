package recurrence

import "time"

// MaxOccurrences caps a single Compute call when the caller passes no limit.
const MaxOccurrences = 5000

// Compute lists the occurrences of rule inside (from, to], in strictly
// increasing order, at most limit of them. It has no side effects: the same
// inputs always give the same output.
//
// Candidates are generated from max(anchor, cursor). A candidate is dropped
// when it is at or before from, at or before the cursor, or before the
// anchor. Generation stops past to, at the end date of a bounded rule, or
// once limit occurrences were collected.
func Compute(rule Rule, from, to time.Time, limit int) []Occurrence {
	if rule.Period == nil || rule.Period.Every() < 1 || rule.AnchorDate.IsZero() {
		return nil
	}
	if !to.After(from) {
		return nil
	}
	if limit <= 0 || limit > MaxOccurrences {
		limit = MaxOccurrences
	}

	floor := from
	if rule.LastMaterializedAt != nil && rule.LastMaterializedAt.After(floor) {
		floor = *rule.LastMaterializedAt
	}

	start := rule.Cursor()
	if from.After(start) {
		start = from
	}
	seq := newSequence(rule, start)
	var out []Occurrence
	for {
		at := seq.next()
		if at.After(to) {
			break
		}
		if rule.Bounded() && !at.Before(*rule.EndDate) {
			break
		}
		if at.Before(rule.AnchorDate) || !at.After(floor) {
			continue
		}
		out = append(out, Occurrence{RuleID: rule.ID, DueAt: at})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Next returns the first occurrence strictly after after, if any exists.
func Next(rule Rule, after time.Time) (Occurrence, bool) {
	// The horizon only has to cover one full period of the slowest variant.
	horizon := after.AddDate(rule.periodYears()+1, 0, 0)
	occ := Compute(rule, after, horizon, 1)
	if len(occ) == 0 {
		return Occurrence{}, false
	}
	return occ[0], true
}

func (r Rule) periodYears() int {
	switch p := r.Period.(type) {
	case YearlyPeriod:
		return p.N
	case MonthlyPeriod:
		return p.N/12 + 1
	case WeeklyPeriod:
		return p.N/52 + 1
	case DailyPeriod:
		return p.N/365 + 1
	}
	return 1
}

// sequence yields candidate dates of a rule in increasing order.
type sequence interface {
	next() time.Time
}

// newSequence positions the generator at or just before start so a rule
// with a far-away cursor does not replay its whole history.
func newSequence(rule Rule, start time.Time) sequence {
	anchor := rule.AnchorDate
	switch p := rule.Period.(type) {
	case DailyPeriod:
		idx := civilDays(anchor, start) / p.N
		return &dailySeq{anchor: anchor, step: p.N, idx: clampIndex(idx)}
	case WeeklyPeriod:
		days := p.Days.Days()
		if len(days) == 0 {
			days = []time.Weekday{anchor.Weekday()}
		}
		weekStart := startOfWeek(anchor)
		idx := civilDays(weekStart, startOfWeek(start)) / 7 / p.N
		return &weeklySeq{anchor: anchor, weekStart: weekStart, step: p.N, days: days, week: clampIndex(idx)}
	case MonthlyPeriod:
		months := (start.Year()-anchor.Year())*12 + int(start.Month()) - int(anchor.Month())
		return &monthlySeq{anchor: anchor, step: p.N, idx: clampIndex(months / p.N)}
	case YearlyPeriod:
		return &yearlySeq{anchor: anchor, step: p.N, idx: clampIndex((start.Year() - anchor.Year()) / p.N)}
	}
	return emptySeq{}
}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

type dailySeq struct {
	anchor time.Time
	step   int
	idx    int
}

func (s *dailySeq) next() time.Time {
	at := s.anchor.AddDate(0, 0, s.idx*s.step)
	s.idx++
	return at
}

// weeklySeq walks eligible weeks (every step-th week from the anchor's
// week, weeks starting on sunday) and emits each repeat day of a week
// before moving on.
type weeklySeq struct {
	anchor    time.Time
	weekStart time.Time
	step      int
	days      []time.Weekday
	week      int
	pos       int
}

func (s *weeklySeq) next() time.Time {
	if s.pos >= len(s.days) {
		s.pos = 0
		s.week++
	}
	base := s.weekStart.AddDate(0, 0, s.week*s.step*7)
	at := onDate(s.anchor, base.Year(), base.Month(), base.Day()+int(s.days[s.pos]))
	s.pos++
	return at
}

type monthlySeq struct {
	anchor time.Time
	step   int
	idx    int
}

func (s *monthlySeq) next() time.Time {
	at := addMonthsClamped(s.anchor, s.idx*s.step)
	s.idx++
	return at
}

type yearlySeq struct {
	anchor time.Time
	step   int
	idx    int
}

func (s *yearlySeq) next() time.Time {
	at := addMonthsClamped(s.anchor, s.idx*s.step*12)
	s.idx++
	return at
}

// emptySeq never produces a candidate inside any window.
type emptySeq struct{}

func (emptySeq) next() time.Time { return time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC) }

// addMonthsClamped moves anchor forward n months, keeping its day of month
// and clamping to the last day of shorter months. Each step is computed
// from the anchor so a 31st never drifts to the 28th.
func addMonthsClamped(anchor time.Time, n int) time.Time {
	total := int(anchor.Month()) - 1 + n
	year := anchor.Year() + total/12
	month := time.Month(total%12 + 1)
	day := anchor.Day()
	if last := daysInMonth(month, year); day > last {
		day = last
	}
	return onDate(anchor, year, month, day)
}

// onDate places anchor's wall-clock time on the given date.
func onDate(anchor time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
}

func startOfWeek(t time.Time) time.Time {
	return onDate(t, t.Year(), t.Month(), t.Day()-int(t.Weekday()))
}

// civilDays counts calendar days from a to b, ignoring the time of day.
func civilDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func daysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
