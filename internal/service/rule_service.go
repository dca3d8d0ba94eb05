package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"planner-engine/internal/logging"
	"planner-engine/internal/recurrence"
	"planner-engine/internal/repository"
)

// RuleInput is the recurrence configuration attached to a template task.
type RuleInput struct {
	PeriodType     string     `json:"period_type"`
	PeriodValue    int        `json:"period_value"`
	RepeatDays     []string   `json:"repeat_days"`
	EndDate        *time.Time `json:"end_date"`
	InfiniteRepeat bool       `json:"infinite_repeat"`
	// AnchorDate defaults to the template's due time.
	AnchorDate *time.Time `json:"anchor_date"`
}

type PreviewLimits struct {
	MaxWindowDays int
	MaxLimit      int
}

// RuleService creates, edits and inspects recurrence rules.
type RuleService struct {
	store  recurrence.Store
	tasks  *repository.TaskRepository
	limits PreviewLimits
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
}

func NewRuleService(store recurrence.Store, tasks *repository.TaskRepository, limits PreviewLimits, loc *time.Location, log zerolog.Logger) *RuleService {
	if limits.MaxWindowDays <= 0 {
		limits.MaxWindowDays = 366
	}
	if limits.MaxLimit <= 0 {
		limits.MaxLimit = 500
	}
	if loc == nil {
		loc = time.Local
	}
	return &RuleService{
		store:  store,
		tasks:  tasks,
		limits: limits,
		loc:    loc,
		now:    time.Now,
		log:    logging.Component(log, "rules"),
	}
}

// Upsert attaches a rule to taskID or replaces its configuration. The cursor
// of an existing rule is kept so edits never re-create past occurrences.
func (s *RuleService) Upsert(ctx context.Context, taskID uint, in RuleInput) (recurrence.Rule, error) {
	kind, err := recurrence.ParsePeriodType(in.PeriodType)
	if err != nil {
		return recurrence.Rule{}, err
	}
	period, err := recurrence.NewPeriod(kind, in.PeriodValue, in.RepeatDays)
	if err != nil {
		return recurrence.Rule{}, err
	}

	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return recurrence.Rule{}, err
	}
	if task.IsInstance() {
		return recurrence.Rule{}, fmt.Errorf("%w: task %d is an occurrence, attach the rule to its template", recurrence.ErrInvalidRule, taskID)
	}

	var anchor time.Time
	switch {
	case in.AnchorDate != nil:
		anchor = in.AnchorDate.In(s.loc)
	case task.DueAt != nil:
		anchor = task.DueAt.In(s.loc)
	default:
		return recurrence.Rule{}, fmt.Errorf("%w: anchor date is required when the task has no due time", recurrence.ErrInvalidRule)
	}

	rule := recurrence.Rule{
		TaskID:         taskID,
		Period:         period,
		InfiniteRepeat: in.InfiniteRepeat,
		AnchorDate:     anchor,
	}
	if in.EndDate != nil && !in.InfiniteRepeat {
		end := in.EndDate.In(s.loc)
		rule.EndDate = &end
	}
	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, err
	}

	saved, err := s.store.UpsertRule(ctx, rule)
	if err != nil {
		return recurrence.Rule{}, err
	}
	ev := s.log.Info()
	if saved.Degraded() {
		ev = s.log.Warn().Str("warning", WarnDegradedRule)
	}
	ev.Uint("rule_id", saved.ID).
		Uint("task_id", taskID).
		Str("period", DescribePeriod(saved.Period)).
		Int64("version", saved.Version).
		Msg("rule saved")
	return saved, nil
}

func (s *RuleService) Get(ctx context.Context, ruleID uint) (recurrence.Rule, error) {
	return s.store.GetRule(ctx, ruleID)
}

func (s *RuleService) GetByTask(ctx context.Context, taskID uint) (recurrence.Rule, error) {
	return s.store.GetRuleByTask(ctx, taskID)
}

// Delete stops a rule; instances created so far are kept.
func (s *RuleService) Delete(ctx context.Context, ruleID uint) error {
	if err := s.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	s.log.Info().Uint("rule_id", ruleID).Msg("rule deleted")
	return nil
}

// Preview lists the occurrences the processor will create within the next
// windowDays, without persisting anything. Window and limit are clamped to
// the configured maxima.
func (s *RuleService) Preview(ctx context.Context, ruleID uint, windowDays, limit int) (recurrence.Rule, []recurrence.Occurrence, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return recurrence.Rule{}, nil, err
	}
	if rule.Period == nil {
		return rule, nil, fmt.Errorf("%w: rule %d has an unreadable period", recurrence.ErrInvalidRule, ruleID)
	}
	windowDays = clamp(windowDays, 30, s.limits.MaxWindowDays)
	limit = clamp(limit, 50, s.limits.MaxLimit)

	now := s.now().In(s.loc)
	from := rule.AnchorDate
	if rule.LastMaterializedAt != nil {
		from = *rule.LastMaterializedAt
	}
	if now.After(from) {
		from = now
	}
	to := now.AddDate(0, 0, windowDays)
	return rule, recurrence.Compute(rule, from, to, limit), nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	return v
}

var periodUnits = map[recurrence.PeriodType]string{
	recurrence.Daily:   "day",
	recurrence.Weekly:  "week",
	recurrence.Monthly: "month",
	recurrence.Yearly:  "year",
}

// DescribePeriod renders a period as "every 2 weeks on monday,thursday".
func DescribePeriod(p recurrence.Period) string {
	if p == nil {
		return "invalid"
	}
	unit := periodUnits[p.Type()]
	var b strings.Builder
	if p.Every() == 1 {
		fmt.Fprintf(&b, "every %s", unit)
	} else {
		fmt.Fprintf(&b, "every %d %ss", p.Every(), unit)
	}
	if w, ok := p.(recurrence.WeeklyPeriod); ok && !w.Days.Empty() {
		fmt.Fprintf(&b, " on %s", w.Days)
	}
	return b.String()
}
