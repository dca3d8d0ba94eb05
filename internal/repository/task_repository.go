package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"planner-engine/internal/model"
	"planner-engine/internal/recurrence"
)

// TaskRepository handles template tasks and lists their instances.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("%w: create task: %v", recurrence.ErrPersistence, err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).First(&task, taskID).Error
	switch {
	case err == nil:
		return &task, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("task %d: %w", taskID, recurrence.ErrNotFound)
	default:
		return nil, fmt.Errorf("%w: find task: %v", recurrence.ErrPersistence, err)
	}
}

// ListInstances returns the tasks materialized for a rule, oldest occurrence first.
func (r *TaskRepository) ListInstances(ctx context.Context, ruleID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("recurrence_rule_id = ?", ruleID).
		Order("occurrence_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("%w: list instances: %v", recurrence.ErrPersistence, err)
	}
	return tasks, nil
}

// Delete removes a task and, for a template, its recurrence rule.
// Instances already materialized stay; they are ordinary tasks.
func (r *TaskRepository) Delete(ctx context.Context, taskID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.RecurrenceRule{}).Error; err != nil {
			return fmt.Errorf("%w: delete rule: %v", recurrence.ErrPersistence, err)
		}
		res := tx.Delete(&model.Task{}, taskID)
		if res.Error != nil {
			return fmt.Errorf("%w: delete task: %v", recurrence.ErrPersistence, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task %d: %w", taskID, recurrence.ErrNotFound)
		}
		return nil
	})
	return err
}
