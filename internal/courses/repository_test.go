package courses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
)

func setupCoursesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  slug TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  description TEXT,
  price TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  lms_course_id TEXT NOT NULL,
  tags TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM courses`)
	})
	return db
}

func newCourse(t *testing.T, db *gorm.DB, slug string, active bool) *models.Course {
	t.Helper()

	course := &models.Course{
		ID:          uuid.New(),
		Slug:        slug,
		Title:       "Production Go",
		Price:       decimal.RequireFromString("499.00"),
		Currency:    "usd",
		LMSCourseID: "production-go",
		Active:      active,
	}
	require.NoError(t, db.Create(course).Error)
	return course
}

func TestFindActiveByID(t *testing.T) {
	db := setupCoursesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	active := newCourse(t, db, "production-go", true)
	retired := newCourse(t, db, "retired-course", false)

	found, err := repo.FindActiveByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)
	assert.True(t, found.Price.Equal(decimal.RequireFromString("499.00")))

	_, err = repo.FindActiveByID(ctx, retired.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.FindActiveByID(ctx, uuid.Nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindByIDIgnoresActiveFlag(t *testing.T) {
	db := setupCoursesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	retired := newCourse(t, db, "retired-but-owned", false)

	found, err := repo.FindByID(ctx, retired.ID)
	require.NoError(t, err)
	assert.Equal(t, retired.LMSCourseID, found.LMSCourseID)
}

func TestFindBySlug(t *testing.T) {
	db := setupCoursesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	course := newCourse(t, db, "distributed-systems", true)

	found, err := repo.FindBySlug(ctx, "distributed-systems")
	require.NoError(t, err)
	assert.Equal(t, course.ID, found.ID)

	_, err = repo.FindBySlug(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
