package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"planner-engine/internal/model"
	"planner-engine/internal/recurrence"
	"planner-engine/internal/repository"
)

// ReportService builds human-readable summaries for admin notifications.
type ReportService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	loc          *time.Location
}

func NewReportService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.Local
	}
	return &ReportService{taskRepo: taskRepo, categoryRepo: categoryRepo, loc: loc}
}

// RunSummary renders one processing run.
func (s *ReportService) RunSummary(run ProcessingRun) string {
	var builder strings.Builder

	icon := "✅"
	switch {
	case run.Status == RunSkippedOverlap:
		icon = "⏭"
	case run.Status == RunFailed:
		icon = "❌"
	case len(run.PerRuleErrors) > 0:
		icon = "⚠️"
	}
	builder.WriteString(fmt.Sprintf("%s <b>Run %s</b>", icon, html.EscapeString(string(run.Status))))
	if run.Trigger != "" {
		builder.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(run.Trigger)))
	}
	builder.WriteString(fmt.Sprintf("\n🗓 %s", run.StartedAt.In(s.loc).Format("2006-01-02 15:04:05")))
	if run.Status == RunSkippedOverlap {
		builder.WriteString("\n— another run was still in progress")
		return builder.String()
	}
	builder.WriteString(fmt.Sprintf("\n📋 rules: %d · created: %d · took %s",
		run.RulesEvaluated, run.OccurrencesMaterialized, run.Duration().Round(time.Millisecond)))

	if len(run.PerRuleErrors) > 0 {
		builder.WriteString("\n\n❗ <b>Errors</b>\n")
		for _, issue := range run.PerRuleErrors {
			builder.WriteString(formatIssue(issue))
		}
	}
	if len(run.Warnings) > 0 {
		builder.WriteString("\n⚠️ <b>Warnings</b>\n")
		for _, issue := range run.Warnings {
			builder.WriteString(formatIssue(issue))
		}
	}
	return strings.TrimSpace(builder.String())
}

// StatusSummary renders the scheduler state.
func (s *ReportService) StatusSummary(state SchedulerState) string {
	var builder strings.Builder
	builder.WriteString("🕒 <b>Scheduler</b>\n")
	if state.Running {
		builder.WriteString(fmt.Sprintf("▶️ running every %s\n", html.EscapeString(state.Interval)))
	} else {
		builder.WriteString("⏸ paused\n")
	}
	if state.InProgress {
		builder.WriteString("⏳ a run is in progress\n")
	}
	if state.NextRun != nil {
		builder.WriteString(fmt.Sprintf("⏭ next run: %s\n", state.NextRun.In(s.loc).Format("2006-01-02 15:04:05")))
	}
	if state.LastRun == nil {
		builder.WriteString("— no runs yet")
		return builder.String()
	}
	builder.WriteString("\n")
	builder.WriteString(s.RunSummary(*state.LastRun))
	return builder.String()
}

// PreviewSummary renders upcoming occurrences of a rule with its template task.
func (s *ReportService) PreviewSummary(ctx context.Context, rule recurrence.Rule, occs []recurrence.Occurrence) (string, error) {
	tmpl, err := s.taskRepo.FindByID(ctx, rule.TaskID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("♻️ %s", html.EscapeString(strings.TrimSpace(tmpl.Title))))
	if name := s.categoryName(ctx, tmpl); name != "" {
		builder.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
	}
	builder.WriteString(fmt.Sprintf("\n   🔁 %s", html.EscapeString(DescribePeriod(rule.Period))))
	if rule.Bounded() {
		builder.WriteString(fmt.Sprintf(" until %s", rule.EndDate.In(s.loc).Format("2006-01-02")))
	}
	if rule.LastMaterializedAt != nil {
		builder.WriteString(fmt.Sprintf("\n   ✅ last created: %s", rule.LastMaterializedAt.In(s.loc).Format("2006-01-02 15:04")))
	} else {
		builder.WriteString("\n   ✅ nothing created yet")
	}

	builder.WriteString("\n\n📆 <b>Upcoming</b>\n")
	if len(occs) == 0 {
		builder.WriteString("— no occurrences in the window")
		return builder.String(), nil
	}
	for _, occ := range occs {
		builder.WriteString(fmt.Sprintf("• %s\n", occ.DueAt.In(s.loc).Format("Mon 2006-01-02 15:04")))
	}
	return strings.TrimSpace(builder.String()), nil
}

func (s *ReportService) categoryName(ctx context.Context, task *model.Task) string {
	if task.CategoryID == nil {
		return ""
	}
	cat, err := s.categoryRepo.GetByID(ctx, *task.CategoryID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cat.Name)
}

func formatIssue(issue RuleIssue) string {
	return fmt.Sprintf("• rule %d <code>%s</code>: %s\n",
		issue.RuleID, html.EscapeString(issue.Kind), html.EscapeString(issue.Message))
}
