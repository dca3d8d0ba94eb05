package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"planner-engine/internal/recurrence"
)

func TestRunSummary(t *testing.T) {
	f := newFixture(t)
	start := day(2024, time.January, 2, 9)
	run := ProcessingRun{
		Status:                  RunCompleted,
		Trigger:                 TriggerManual,
		StartedAt:               start,
		FinishedAt:              start.Add(120 * time.Millisecond),
		RulesEvaluated:          3,
		OccurrencesMaterialized: 5,
		PerRuleErrors:           []RuleIssue{{RuleID: 7, Kind: recurrence.KindPersistence, Message: "disk <full>"}},
		Warnings:                []RuleIssue{{RuleID: 2, Kind: WarnDegradedRule, Message: "no days"}},
	}
	text := f.reports.RunSummary(run)
	for _, want := range []string{"⚠️ <b>Run completed</b>", "(manual)", "rules: 3", "created: 5", "rule 7", "disk &lt;full&gt;", "degraded-rule"} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}

	skipped := f.reports.RunSummary(ProcessingRun{Status: RunSkippedOverlap, StartedAt: start})
	if !strings.Contains(skipped, "still in progress") {
		t.Fatalf("skipped run not explained:\n%s", skipped)
	}
}

func TestStatusSummary(t *testing.T) {
	f := newFixture(t)
	if text := f.reports.StatusSummary(SchedulerState{Interval: "5m0s"}); !strings.Contains(text, "paused") || !strings.Contains(text, "no runs yet") {
		t.Fatalf("unexpected idle status:\n%s", text)
	}
	next := day(2024, time.January, 2, 9)
	last := ProcessingRun{Status: RunCompleted, StartedAt: next.Add(-5 * time.Minute), FinishedAt: next.Add(-5 * time.Minute)}
	text := f.reports.StatusSummary(SchedulerState{Running: true, Interval: "5m0s", NextRun: &next, LastRun: &last})
	for _, want := range []string{"running every 5m0s", "next run: 2024-01-02 09:00:00", "Run completed"} {
		if !strings.Contains(text, want) {
			t.Fatalf("status missing %q:\n%s", want, text)
		}
	}
}

func TestPreviewSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2024, time.January, 1, 9)
	tmpl := f.template(t, &due)
	rule, err := f.rules.Upsert(ctx, tmpl.ID, RuleInput{PeriodType: "monthly", PeriodValue: 1, InfiniteRepeat: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	occs := []recurrence.Occurrence{{RuleID: rule.ID, DueAt: day(2024, time.February, 1, 9)}}

	text, err := f.reports.PreviewSummary(ctx, rule, occs)
	if err != nil {
		t.Fatalf("preview summary: %v", err)
	}
	for _, want := range []string{"Water plants", "<i>(home)</i>", "every month", "nothing created yet", "Thu 2024-02-01 09:00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("preview missing %q:\n%s", want, text)
		}
	}

	empty, err := f.reports.PreviewSummary(ctx, rule, nil)
	if err != nil || !strings.Contains(empty, "no occurrences") {
		t.Fatalf("unexpected empty preview: %q %v", empty, err)
	}
}
