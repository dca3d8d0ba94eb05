package recurrence

import (
	"strings"
	"testing"
	"time"
)

// The calculator and the RRULE export must describe the same dates.
func TestComputeAgreesWithRRule(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		span time.Duration
	}{
		{name: "every third day", rule: Rule{Period: DailyPeriod{N: 3}, AnchorDate: at(2024, time.January, 1, 9)}, span: 120 * 24 * time.Hour},
		{name: "biweekly mon thu", rule: Rule{
			Period:     WeeklyPeriod{N: 2, Days: WeekdaysOf(time.Monday, time.Thursday)},
			AnchorDate: at(2024, time.January, 1, 9),
		}, span: 200 * 24 * time.Hour},
		{name: "month end", rule: Rule{Period: MonthlyPeriod{N: 1}, AnchorDate: at(2024, time.January, 31, 10)}, span: 3 * 366 * 24 * time.Hour},
		{name: "every other month on the 30th", rule: Rule{Period: MonthlyPeriod{N: 2}, AnchorDate: at(2023, time.December, 30, 7)}, span: 2 * 366 * 24 * time.Hour},
		{name: "leap day", rule: Rule{Period: YearlyPeriod{N: 1}, AnchorDate: at(2024, time.February, 29, 12)}, span: 9 * 366 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := tc.rule
			rule.InfiniteRepeat = true
			end := rule.AnchorDate.Add(tc.span)

			rr, err := rule.RRule()
			if err != nil {
				t.Fatalf("rrule: %v", err)
			}
			want := rr.Between(rule.AnchorDate, end, true)
			got := Compute(rule, rule.AnchorDate.Add(-time.Second), end, 0)
			if len(got) != len(want) {
				t.Fatalf("expected %d dates, got %d\nwant %v\ngot  %v", len(want), len(got), want, dueDates(got))
			}
			for i := range want {
				if !got[i].DueAt.Equal(want[i]) {
					t.Fatalf("date %d: rrule %s, computed %s", i, want[i], got[i].DueAt)
				}
			}
		})
	}
}

func TestRRuleStringEncodesPeriod(t *testing.T) {
	end := at(2025, time.December, 31, 0)
	rule := Rule{
		Period:     WeeklyPeriod{N: 2, Days: WeekdaysOf(time.Thursday, time.Monday)},
		AnchorDate: at(2024, time.January, 1, 9),
		EndDate:    &end,
	}
	got := rule.RRuleString()
	for _, part := range []string{"FREQ=WEEKLY", "INTERVAL=2", "BYDAY=MO,TH", "UNTIL="} {
		if !strings.Contains(got, part) {
			t.Fatalf("expected %q in %q", part, got)
		}
	}

	if (Rule{}).RRuleString() != "" {
		t.Fatalf("rule without period should not render")
	}
}
