package courses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
)

// Repository reads the course catalog. Catalog writes happen in the admin
// tooling; this service only prices and syncs against existing rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a course repository bound to the provided gorm DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindActiveByID returns the course only when it is purchasable.
func (r *Repository) FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	if id == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}

	var course models.Course
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// FindByID returns the course regardless of active state. Resync paths need
// the LMS mapping even after a course is pulled from sale.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	if id == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}

	var course models.Course
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// FindBySlug resolves a storefront slug to its course row.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).
		Where("slug = ? AND active = ?", slug, true).
		First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}
