package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planner-engine/internal/model"
	"planner-engine/internal/recurrence"
	"planner-engine/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at"`
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
}

func NewTaskService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo, categoryRepo: categoryRepo}
}

func (s *TaskService) CreateTask(ctx context.Context, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", recurrence.ErrInvalidInput)
	}

	var categoryID *uint
	if name := strings.TrimSpace(input.Category); name != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, name)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	task := model.Task{
		CategoryID:  categoryID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    input.Priority,
	}
	if input.DueAt != nil {
		due := input.DueAt.UTC()
		task.DueAt = &due
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, taskID)
}

// Instances lists the tasks materialized for a rule.
func (s *TaskService) Instances(ctx context.Context, ruleID uint) ([]model.Task, error) {
	return s.taskRepo.ListInstances(ctx, ruleID)
}

// DeleteTask removes a task; deleting a template also deletes its rule so no
// further occurrences are produced.
func (s *TaskService) DeleteTask(ctx context.Context, taskID uint) error {
	return s.taskRepo.Delete(ctx, taskID)
}
