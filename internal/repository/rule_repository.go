package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"planner-engine/internal/model"
	"planner-engine/internal/recurrence"
)

// RuleRepository is the gorm implementation of recurrence.Store.
// Times are stored in UTC and handed back in loc.
type RuleRepository struct {
	db  *gorm.DB
	loc *time.Location
}

var _ recurrence.Store = (*RuleRepository)(nil)

func NewRuleRepository(db *gorm.DB, loc *time.Location) *RuleRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &RuleRepository{db: db, loc: loc}
}

// LoadActiveRules returns every rule that is infinite, has no end date, or
// ends after now. A row whose period cannot be decoded is returned with a
// nil Period so the caller can report it instead of losing it.
func (r *RuleRepository) LoadActiveRules(ctx context.Context, now time.Time) ([]recurrence.Rule, error) {
	var rows []model.RecurrenceRule
	if err := r.db.WithContext(ctx).
		Where("infinite_repeat = ? OR end_date IS NULL OR end_date > ?", true, now.UTC()).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: load rules: %v", recurrence.ErrPersistence, err)
	}
	rules := make([]recurrence.Rule, 0, len(rows))
	for _, row := range rows {
		rule, _ := r.toDomain(row)
		if !rule.ActiveAt(now) {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *RuleRepository) GetRule(ctx context.Context, id uint) (recurrence.Rule, error) {
	var row model.RecurrenceRule
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return recurrence.Rule{}, notFoundOr(err, "rule %d", id)
	}
	return r.toDomain(row)
}

func (r *RuleRepository) GetRuleByTask(ctx context.Context, taskID uint) (recurrence.Rule, error) {
	var row model.RecurrenceRule
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&row).Error; err != nil {
		return recurrence.Rule{}, notFoundOr(err, "rule of task %d", taskID)
	}
	return r.toDomain(row)
}

func (r *RuleRepository) UpsertRule(ctx context.Context, rule recurrence.Rule) (recurrence.Rule, error) {
	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, err
	}
	var saved model.RecurrenceRule
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.First(&task, rule.TaskID).Error; err != nil {
			return notFoundOr(err, "task %d", rule.TaskID)
		}
		if task.IsInstance() {
			return fmt.Errorf("%w: task %d is an occurrence of rule %d", recurrence.ErrInvalidRule, task.ID, *task.RecurrenceRuleID)
		}

		next := fromDomain(rule)
		var current model.RecurrenceRule
		err := tx.Where("task_id = ?", rule.TaskID).First(&current).Error
		switch {
		case err == nil:
			next.ID = current.ID
			next.CreatedAt = current.CreatedAt
			next.Version = current.Version + 1
			next.LastMaterializedAt = laterOf(current.LastMaterializedAt, next.LastMaterializedAt)
			// The template stands for the anchor occurrence, so a moved anchor
			// is never materialized itself.
			if c := next.LastMaterializedAt; c != nil && c.Before(next.AnchorDate) {
				anchor := next.AnchorDate
				next.LastMaterializedAt = &anchor
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			next.ID = 0
			next.Version = 1
		default:
			return fmt.Errorf("%w: find rule: %v", recurrence.ErrPersistence, err)
		}

		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("%w: save rule: %v", recurrence.ErrPersistence, err)
		}
		saved = next
		return nil
	})
	if err != nil {
		return recurrence.Rule{}, err
	}
	return r.toDomain(saved)
}

func (r *RuleRepository) DeleteRule(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.RecurrenceRule{}, id)
	if res.Error != nil {
		return fmt.Errorf("%w: delete rule: %v", recurrence.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, recurrence.ErrNotFound)
	}
	return nil
}

func (r *RuleRepository) CreateInstance(ctx context.Context, rule recurrence.Rule, dueAt time.Time) (recurrence.Instance, error) {
	db := r.db.WithContext(ctx)
	due := dueAt.UTC()

	var existing model.Task
	err := db.Where("recurrence_rule_id = ? AND occurrence_at = ?", rule.ID, due).First(&existing).Error
	switch {
	case err == nil:
		return r.instanceOf(existing, rule, false), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return recurrence.Instance{}, fmt.Errorf("%w: find instance: %v", recurrence.ErrPersistence, err)
	}

	var tmpl model.Task
	if err := db.First(&tmpl, rule.TaskID).Error; err != nil {
		return recurrence.Instance{}, notFoundOr(err, "template task %d", rule.TaskID)
	}

	ruleID, tmplID := rule.ID, tmpl.ID
	inst := model.Task{
		CategoryID:       tmpl.CategoryID,
		Title:            tmpl.Title,
		Description:      tmpl.Description,
		Priority:         tmpl.Priority,
		DueAt:            &due,
		RecurrenceRuleID: &ruleID,
		OccurrenceAt:     &due,
		TemplateTaskID:   &tmplID,
	}
	if err := db.Create(&inst).Error; err != nil {
		return recurrence.Instance{}, fmt.Errorf("%w: create instance: %v", recurrence.ErrPersistence, err)
	}
	return r.instanceOf(inst, rule, true), nil
}

func (r *RuleRepository) AdvanceCursor(ctx context.Context, ruleID uint, version int64, next time.Time) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.RecurrenceRule{}).
		Where("id = ? AND version = ?", ruleID, version).
		Updates(map[string]any{
			"last_materialized_at": next.UTC(),
			"version":              gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("%w: advance cursor: %v", recurrence.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := db.Model(&model.RecurrenceRule{}).Where("id = ?", ruleID).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: advance cursor: %v", recurrence.ErrPersistence, err)
	}
	if count == 0 {
		return fmt.Errorf("rule %d: %w", ruleID, recurrence.ErrNotFound)
	}
	return fmt.Errorf("rule %d changed since version %d: %w", ruleID, version, recurrence.ErrConflict)
}

func (r *RuleRepository) Atomically(ctx context.Context, fn func(tx recurrence.Store) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RuleRepository{db: tx, loc: r.loc})
	})
	if err != nil && recurrence.Kind(err) == recurrence.KindUnknown {
		return fmt.Errorf("%w: transaction: %v", recurrence.ErrPersistence, err)
	}
	return err
}

func (r *RuleRepository) instanceOf(task model.Task, rule recurrence.Rule, created bool) recurrence.Instance {
	inst := recurrence.Instance{TaskID: task.ID, RuleID: rule.ID, TemplateTaskID: rule.TaskID, Created: created}
	if task.OccurrenceAt != nil {
		inst.DueAt = task.OccurrenceAt.In(r.loc)
	}
	return inst
}

// toDomain always returns the rule; on a decode error its Period is nil.
func (r *RuleRepository) toDomain(row model.RecurrenceRule) (recurrence.Rule, error) {
	rule := recurrence.Rule{
		ID:             row.ID,
		TaskID:         row.TaskID,
		InfiniteRepeat: row.InfiniteRepeat,
		AnchorDate:     row.AnchorDate.In(r.loc),
		Version:        row.Version,
	}
	if row.EndDate != nil {
		end := row.EndDate.In(r.loc)
		rule.EndDate = &end
	}
	if row.LastMaterializedAt != nil {
		last := row.LastMaterializedAt.In(r.loc)
		rule.LastMaterializedAt = &last
	}

	kind, err := recurrence.ParsePeriodType(row.PeriodType)
	if err != nil {
		return rule, fmt.Errorf("rule %d: %w", row.ID, err)
	}
	var days []string
	if row.RepeatDays != "" {
		days = strings.Split(row.RepeatDays, ",")
	}
	period, err := recurrence.NewPeriod(kind, row.PeriodValue, days)
	if err != nil {
		return rule, fmt.Errorf("rule %d: %w", row.ID, err)
	}
	rule.Period = period
	return rule, nil
}

func fromDomain(rule recurrence.Rule) model.RecurrenceRule {
	row := model.RecurrenceRule{
		ID:             rule.ID,
		TaskID:         rule.TaskID,
		PeriodType:     string(rule.Period.Type()),
		PeriodValue:    rule.Period.Every(),
		InfiniteRepeat: rule.InfiniteRepeat,
		AnchorDate:     rule.AnchorDate.UTC(),
		Version:        rule.Version,
	}
	if p, ok := rule.Period.(recurrence.WeeklyPeriod); ok {
		row.RepeatDays = p.Days.String()
	}
	if rule.EndDate != nil {
		end := rule.EndDate.UTC()
		row.EndDate = &end
	}
	if rule.LastMaterializedAt != nil {
		last := rule.LastMaterializedAt.UTC()
		row.LastMaterializedAt = &last
	}
	return row
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}

func notFoundOr(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, recurrence.ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %v", recurrence.ErrPersistence, what, err)
}
