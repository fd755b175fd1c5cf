package enrollments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

func setupEnrollmentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	enrollmentsTable := `
CREATE TABLE IF NOT EXISTS enrollments (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  email TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  enrollment_type TEXT NOT NULL,
  original_price TEXT NOT NULL,
  discount_amount TEXT NOT NULL DEFAULT '0',
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  coupon_id TEXT,
  stripe_session_id TEXT,
  paid_at DATETIME,
  affiliate_id TEXT,
  commission_rate TEXT NOT NULL DEFAULT '0',
  commission_amount TEXT NOT NULL DEFAULT '0',
  commission_processed INTEGER NOT NULL DEFAULT 0,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  lms_enrollment_id TEXT,
  sync_attempts INTEGER NOT NULL DEFAULT 0,
  last_sync_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	activeIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_active_course_email
ON enrollments (course_id, email)
WHERE status IN ('pending', 'paid');`
	paymentEventsTable := `
CREATE TABLE IF NOT EXISTS payment_events (
  id TEXT PRIMARY KEY,
  enrollment_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  received_at DATETIME
);`
	paymentEventsIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_events_enrollment_event
ON payment_events (enrollment_id, event_id);`
	require.NoError(t, db.Exec(enrollmentsTable).Error)
	require.NoError(t, db.Exec(activeIndex).Error)
	require.NoError(t, db.Exec(paymentEventsTable).Error)
	require.NoError(t, db.Exec(paymentEventsIndex).Error)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM payment_events`)
		db.Exec(`DELETE FROM enrollments`)
	})
	return db
}

func seedEnrollment(t *testing.T, db *gorm.DB, status enums.EnrollmentStatus) *models.Enrollment {
	t.Helper()

	enrollment := &models.Enrollment{
		ID:             uuid.New(),
		CourseID:       uuid.New(),
		Email:          fmt.Sprintf("buyer-%s@example.com", uuid.NewString()[:8]),
		Status:         status,
		EnrollmentType: enums.EnrollmentTypePaid,
		OriginalPrice:  decimal.RequireFromString("499.00"),
		Amount:         decimal.RequireFromString("499.00"),
		Currency:       "usd",
		SyncStatus:     enums.SyncStatusPending,
	}
	require.NoError(t, db.Create(enrollment).Error)
	return enrollment
}

func TestInsertPaymentEventDeduplicates(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	enrollment := seedEnrollment(t, db, enums.EnrollmentStatusPending)

	inserted, err := repo.InsertPaymentEvent(ctx, enrollment.ID, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same event id inserts nothing.
	inserted, err = repo.InsertPaymentEvent(ctx, enrollment.ID, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.False(t, inserted)

	// A different event id is a new ledger entry.
	inserted, err = repo.InsertPaymentEvent(ctx, enrollment.ID, "evt_2", "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, inserted)

	var count int64
	require.NoError(t, db.Model(&models.PaymentEvent{}).Where("enrollment_id = ?", enrollment.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestMarkPaidTransitionsOnce(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	paidAt := time.Now().UTC()

	enrollment := seedEnrollment(t, db, enums.EnrollmentStatusPending)

	transitioned, err := repo.MarkPaid(ctx, enrollment.ID, paidAt, nil)
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = repo.MarkPaid(ctx, enrollment.ID, paidAt, nil)
	require.NoError(t, err)
	assert.False(t, transitioned)

	var reloaded models.Enrollment
	require.NoError(t, db.Where("id = ?", enrollment.ID).First(&reloaded).Error)
	assert.Equal(t, enums.EnrollmentStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaidAt)
}

func TestMarkPaidAppliesAuthoritativeAmount(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	enrollment := seedEnrollment(t, db, enums.EnrollmentStatusPending)
	charged := decimal.RequireFromString("399.20")

	transitioned, err := repo.MarkPaid(ctx, enrollment.ID, time.Now().UTC(), &charged)
	require.NoError(t, err)
	require.True(t, transitioned)

	var reloaded models.Enrollment
	require.NoError(t, db.Where("id = ?", enrollment.ID).First(&reloaded).Error)
	assert.True(t, reloaded.Amount.Equal(charged))
}

func TestDeletePendingSparesPaidRows(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	pending := seedEnrollment(t, db, enums.EnrollmentStatusPending)
	paid := seedEnrollment(t, db, enums.EnrollmentStatusPaid)

	deleted, err := repo.DeletePending(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeletePending(ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	var count int64
	require.NoError(t, db.Model(&models.Enrollment{}).Where("id = ?", paid.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAttachStripeSessionPendingOnly(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	pending := seedEnrollment(t, db, enums.EnrollmentStatusPending)
	paid := seedEnrollment(t, db, enums.EnrollmentStatusPaid)

	attached, err := repo.AttachStripeSession(ctx, pending.ID, "cs_test_123")
	require.NoError(t, err)
	assert.True(t, attached)

	attached, err = repo.AttachStripeSession(ctx, paid.ID, "cs_test_456")
	require.NoError(t, err)
	assert.False(t, attached)

	var reloaded models.Enrollment
	require.NoError(t, db.Where("id = ?", pending.ID).First(&reloaded).Error)
	require.NotNil(t, reloaded.StripeSessionID)
	assert.Equal(t, "cs_test_123", *reloaded.StripeSessionID)
}

func TestFindActiveByCourseAndEmail(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	enrollment := seedEnrollment(t, db, enums.EnrollmentStatusPending)

	found, err := repo.FindActiveByCourseAndEmail(ctx, enrollment.CourseID, enrollment.Email)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, found.ID)

	// Cancelled and failed attempts do not count as active.
	require.NoError(t, db.Model(&models.Enrollment{}).
		Where("id = ?", enrollment.ID).
		Update("status", enums.EnrollmentStatusCancelled).Error)
	_, err = repo.FindActiveByCourseAndEmail(ctx, enrollment.CourseID, enrollment.Email)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSyncProgressWriters(t *testing.T) {
	db := setupEnrollmentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	enrollment := seedEnrollment(t, db, enums.EnrollmentStatusPaid)

	lastErr := "lms timeout"
	require.NoError(t, repo.UpdateSyncProgress(ctx, enrollment.ID, enums.SyncStatusRetrying, 2, &lastErr))

	var reloaded models.Enrollment
	require.NoError(t, db.Where("id = ?", enrollment.ID).First(&reloaded).Error)
	assert.Equal(t, enums.SyncStatusRetrying, reloaded.SyncStatus)
	assert.Equal(t, 2, reloaded.SyncAttempts)
	require.NotNil(t, reloaded.LastSyncError)
	assert.Equal(t, "lms timeout", *reloaded.LastSyncError)

	require.NoError(t, repo.MarkSyncSucceeded(ctx, enrollment.ID, "lms-enrollment-9"))
	require.NoError(t, db.Where("id = ?", enrollment.ID).First(&reloaded).Error)
	assert.Equal(t, enums.SyncStatusSuccess, reloaded.SyncStatus)
	require.NotNil(t, reloaded.LMSEnrollmentID)
	assert.Equal(t, "lms-enrollment-9", *reloaded.LMSEnrollmentID)
	assert.Nil(t, reloaded.LastSyncError)
}
