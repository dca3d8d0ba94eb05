package recurrence

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewPeriod(t *testing.T) {
	cases := []struct {
		name    string
		kind    PeriodType
		every   int
		days    []string
		want    Period
		wantErr bool
	}{
		{name: "daily", kind: Daily, every: 1, want: DailyPeriod{N: 1}},
		{name: "weekly with days", kind: Weekly, every: 2, days: []string{"Thursday", "mon", "monday"},
			want: WeeklyPeriod{N: 2, Days: WeekdaysOf(time.Monday, time.Thursday)}},
		{name: "monthly ignores days", kind: Monthly, every: 3, days: []string{"friday"}, want: MonthlyPeriod{N: 3}},
		{name: "yearly", kind: Yearly, every: 1, want: YearlyPeriod{N: 1}},
		{name: "zero multiplier", kind: Daily, every: 0, wantErr: true},
		{name: "unknown weekday", kind: Weekly, every: 1, days: []string{"someday"}, wantErr: true},
		{name: "unknown type", kind: PeriodType("hourly"), every: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewPeriod(tc.kind, tc.every, tc.days)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidRule) {
					t.Fatalf("expected ErrInvalidRule, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("new period: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestWeekdaySetOrder(t *testing.T) {
	set := WeekdaysOf(time.Saturday, time.Monday, time.Sunday)
	if got := set.String(); got != "sunday,monday,saturday" {
		t.Fatalf("unexpected labels %q", got)
	}
	if set.Has(time.Tuesday) || !set.Has(time.Saturday) {
		t.Fatalf("unexpected membership for %v", set.Labels())
	}
	if !WeekdaySet(0).Empty() {
		t.Fatalf("zero set should be empty")
	}
}

func TestParsePeriodType(t *testing.T) {
	if got, err := ParsePeriodType(" Weekly "); err != nil || got != Weekly {
		t.Fatalf("expected weekly, got %q (%v)", got, err)
	}
	if _, err := ParsePeriodType("fortnightly"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestRuleValidate(t *testing.T) {
	anchor := at(2024, time.January, 1, 9)
	end := at(2024, time.June, 1, 0)
	early := at(2023, time.June, 1, 0)
	cases := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{name: "infinite", rule: Rule{Period: DailyPeriod{N: 1}, AnchorDate: anchor, InfiniteRepeat: true}, ok: true},
		{name: "bounded", rule: Rule{Period: DailyPeriod{N: 1}, AnchorDate: anchor, EndDate: &end}, ok: true},
		{name: "finite without end", rule: Rule{Period: DailyPeriod{N: 1}, AnchorDate: anchor}},
		{name: "end before anchor", rule: Rule{Period: DailyPeriod{N: 1}, AnchorDate: anchor, EndDate: &early}},
		{name: "no period", rule: Rule{AnchorDate: anchor, InfiniteRepeat: true}},
		{name: "no anchor", rule: Rule{Period: DailyPeriod{N: 1}, InfiniteRepeat: true}},
		{name: "bad multiplier", rule: Rule{Period: MonthlyPeriod{N: 0}, AnchorDate: anchor, InfiniteRepeat: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid rule, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestRuleCursorAndActivity(t *testing.T) {
	anchor := at(2024, time.January, 1, 9)
	rule := Rule{Period: DailyPeriod{N: 1}, AnchorDate: anchor}
	if !rule.MissingEnd() || rule.Bounded() {
		t.Fatalf("finite rule without end date should be reported as missing end")
	}
	if !rule.Cursor().Equal(anchor) {
		t.Fatalf("cursor should default to anchor")
	}

	later := at(2024, time.January, 5, 9)
	rule = rule.WithCursor(later)
	if !rule.Cursor().Equal(later) {
		t.Fatalf("cursor should move forward to %s", later)
	}
	rule = rule.WithCursor(at(2024, time.January, 2, 9))
	if !rule.Cursor().Equal(later) {
		t.Fatalf("cursor must never move backward, got %s", rule.Cursor())
	}

	end := at(2024, time.February, 1, 0)
	rule.EndDate = &end
	if !rule.ActiveAt(at(2024, time.January, 31, 0)) || rule.ActiveAt(end) {
		t.Fatalf("unexpected activity around end date")
	}
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		KindInvalidRule: fmt.Errorf("upsert: %w", ErrInvalidRule),
		KindConflict:    fmt.Errorf("advance: %w", ErrConflict),
		KindNotFound:    ErrNotFound,
		KindPersistence: fmt.Errorf("%w: disk full", ErrPersistence),
		KindUnknown:     errors.New("boom"),
		"":              nil,
	}
	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
