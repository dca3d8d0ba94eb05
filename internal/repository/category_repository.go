package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"planner-engine/internal/model"
	"planner-engine/internal/recurrence"
)

// CategoryRepository manages the boards/lists tasks belong to.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) GetOrCreate(ctx context.Context, name string) (*model.Category, error) {
	if name == "" {
		return nil, nil
	}

	var category model.Category
	db := r.db.WithContext(ctx)
	err := db.Where("name = ?", name).First(&category).Error
	switch {
	case err == nil:
		return &category, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		category = model.Category{Name: name}
		if err := db.Create(&category).Error; err != nil {
			return nil, fmt.Errorf("%w: create category: %v", recurrence.ErrPersistence, err)
		}
		return &category, nil
	default:
		return nil, fmt.Errorf("%w: find category: %v", recurrence.ErrPersistence, err)
	}
}

func (r *CategoryRepository) GetByID(ctx context.Context, id uint) (*model.Category, error) {
	var category model.Category
	err := r.db.WithContext(ctx).First(&category, id).Error
	switch {
	case err == nil:
		return &category, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("category %d: %w", id, recurrence.ErrNotFound)
	default:
		return nil, fmt.Errorf("%w: find category: %v", recurrence.ErrPersistence, err)
	}
}
