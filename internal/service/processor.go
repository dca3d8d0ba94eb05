package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"planner-engine/internal/logging"
	"planner-engine/internal/recurrence"
)

type RunStatus string

const (
	RunCompleted      RunStatus = "completed"
	RunSkippedOverlap RunStatus = "skipped-overlap"
	RunFailed         RunStatus = "failed"
)

// Warning kinds recorded for rules that were processed anyway.
const (
	WarnDegradedRule  = "degraded-rule"
	WarnUnboundedRule = "unbounded-rule"
)

// RuleIssue is one per-rule error or warning of a run.
type RuleIssue struct {
	RuleID  uint   `json:"rule_id"`
	TaskID  uint   `json:"task_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ProcessingRun summarizes one pass of the processor.
type ProcessingRun struct {
	ID                      string      `json:"id"`
	Trigger                 string      `json:"trigger,omitempty"`
	Status                  RunStatus   `json:"status"`
	StartedAt               time.Time   `json:"started_at"`
	FinishedAt              time.Time   `json:"finished_at"`
	RulesEvaluated          int         `json:"rules_evaluated"`
	OccurrencesMaterialized int         `json:"occurrences_materialized"`
	Warnings                []RuleIssue `json:"warnings,omitempty"`
	PerRuleErrors           []RuleIssue `json:"per_rule_errors,omitempty"`
}

func (r ProcessingRun) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// ProcessorOptions bound the work of a single run.
type ProcessorOptions struct {
	// BackfillLimit is the most occurrences one rule materializes per run.
	BackfillLimit int
	// Workers is how many rules are processed in parallel.
	Workers int
}

func (o ProcessorOptions) withDefaults() ProcessorOptions {
	if o.BackfillLimit <= 0 {
		o.BackfillLimit = 1
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Processor runs one materialization pass over all active rules.
type Processor struct {
	store recurrence.Store
	mat   *Materializer
	log   zerolog.Logger

	mu   sync.RWMutex
	opts ProcessorOptions
}

func NewProcessor(store recurrence.Store, mat *Materializer, opts ProcessorOptions, log zerolog.Logger) *Processor {
	return &Processor{
		store: store,
		mat:   mat,
		opts:  opts.withDefaults(),
		log:   logging.Component(log, "processor"),
	}
}

// SetOptions applies new limits; they take effect on the next run.
func (p *Processor) SetOptions(opts ProcessorOptions) {
	p.mu.Lock()
	p.opts = opts.withDefaults()
	p.mu.Unlock()
}

func (p *Processor) Options() ProcessorOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

type ruleOutcome struct {
	materialized int
	warnings     []RuleIssue
	err          *RuleIssue
}

// RunOnce materializes what is due at now. Failures of single rules are
// collected in the summary; an error is returned only when the rule list
// itself could not be loaded.
func (p *Processor) RunOnce(ctx context.Context, now time.Time) (ProcessingRun, error) {
	opts := p.Options()
	run := ProcessingRun{ID: uuid.NewString(), Status: RunCompleted, StartedAt: time.Now()}

	rules, err := p.store.LoadActiveRules(ctx, now)
	if err != nil {
		run.Status = RunFailed
		run.FinishedAt = time.Now()
		p.log.Error().Err(err).Str("run_id", run.ID).Msg("load rules failed")
		return run, fmt.Errorf("load rules: %w", err)
	}

	outcomes := make([]ruleOutcome, len(rules))
	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i := range rules {
		i := i
		g.Go(func() error {
			outcomes[i] = p.processRule(ctx, rules[i], now, opts.BackfillLimit)
			return nil
		})
	}
	_ = g.Wait()

	run.RulesEvaluated = len(rules)
	for _, out := range outcomes {
		run.OccurrencesMaterialized += out.materialized
		run.Warnings = append(run.Warnings, out.warnings...)
		if out.err != nil {
			run.PerRuleErrors = append(run.PerRuleErrors, *out.err)
		}
	}
	run.FinishedAt = time.Now()

	ev := p.log.Info()
	if len(run.PerRuleErrors) > 0 {
		ev = p.log.Warn()
	}
	ev.Str("run_id", run.ID).
		Int("rules", run.RulesEvaluated).
		Int("materialized", run.OccurrencesMaterialized).
		Int("errors", len(run.PerRuleErrors)).
		Int("warnings", len(run.Warnings)).
		Dur("took", run.Duration()).
		Msg("run completed")
	return run, nil
}

// processRule materializes the due occurrences of one rule in order and
// stops at the first failure so a later occurrence is never created before
// an earlier one.
func (p *Processor) processRule(ctx context.Context, rule recurrence.Rule, now time.Time, limit int) ruleOutcome {
	var out ruleOutcome
	issue := func(kind string, err error) RuleIssue {
		return RuleIssue{RuleID: rule.ID, TaskID: rule.TaskID, Kind: kind, Message: err.Error()}
	}

	if rule.Period == nil || rule.Period.Every() < 1 || rule.AnchorDate.IsZero() {
		e := issue(recurrence.KindInvalidRule, fmt.Errorf("%w: period configuration cannot be decoded", recurrence.ErrInvalidRule))
		out.err = &e
		p.log.Warn().Uint("rule_id", rule.ID).Msg("rule failed: invalid period")
		return out
	}
	if rule.Degraded() {
		out.warnings = append(out.warnings, issue(WarnDegradedRule,
			fmt.Errorf("weekly rule has no repeat days, using %s", rule.AnchorDate.Weekday())))
		p.log.Warn().Uint("rule_id", rule.ID).Msg("degraded-rule")
	}
	if rule.MissingEnd() {
		out.warnings = append(out.warnings, issue(WarnUnboundedRule,
			fmt.Errorf("finite rule without end date, treated as unbounded")))
		p.log.Warn().Uint("rule_id", rule.ID).Msg("unbounded-rule")
	}

	from := rule.AnchorDate
	if rule.LastMaterializedAt != nil {
		from = *rule.LastMaterializedAt
	}
	for _, occ := range recurrence.Compute(rule, from, now, limit) {
		if err := ctx.Err(); err != nil {
			e := issue(recurrence.KindPersistence, fmt.Errorf("%w: %v", recurrence.ErrPersistence, err))
			out.err = &e
			return out
		}
		_, next, err := p.mat.Materialize(ctx, rule, occ)
		if err != nil {
			e := issue(recurrence.Kind(err), err)
			out.err = &e
			p.log.Warn().Err(err).Uint("rule_id", rule.ID).Time("due_at", occ.DueAt).Str("kind", e.Kind).Msg("rule failed")
			return out
		}
		rule = next
		out.materialized++
	}
	return out
}
