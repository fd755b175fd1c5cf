package coupons

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

func setupCouponsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS coupons (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  owner_email TEXT NOT NULL,
  course_id TEXT NOT NULL,
  discount_percent INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  used INTEGER NOT NULL DEFAULT 0,
  reserved_by TEXT,
  reserved_at DATETIME,
  reservation_expiry DATETIME,
  used_at DATETIME,
  used_by TEXT,
  enrollment_id TEXT,
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM coupons`)
	})
	return db
}

type couponSeed struct {
	percent   int
	status    enums.CouponStatus
	used      bool
	expiresAt *time.Time
}

func newCoupon(t *testing.T, db *gorm.DB, owner string, courseID uuid.UUID, seed couponSeed) *models.Coupon {
	t.Helper()

	if seed.status == "" {
		seed.status = enums.CouponStatusApproved
	}
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            fmt.Sprintf("GRANT-%s", uuid.NewString()[:8]),
		OwnerEmail:      owner,
		CourseID:        courseID,
		DiscountPercent: seed.percent,
		Status:          seed.status,
		Used:            seed.used,
		ExpiresAt:       seed.expiresAt,
	}
	require.NoError(t, db.Create(coupon).Error)
	return coupon
}

func TestFindRedeemableMatchesCaseInsensitively(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	courseID := uuid.New()

	coupon := newCoupon(t, db, "student@example.com", courseID, couponSeed{percent: 20})

	found, err := repo.FindRedeemable(ctx, coupon.Code, "student@example.com", courseID)
	require.NoError(t, err)
	assert.Equal(t, coupon.ID, found.ID)

	// Wrong owner or wrong course both miss.
	_, err = repo.FindRedeemable(ctx, coupon.Code, "other@example.com", courseID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindRedeemable(ctx, coupon.Code, "student@example.com", uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindRedeemableRequiresApproval(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	courseID := uuid.New()

	pending := newCoupon(t, db, "student@example.com", courseID, couponSeed{percent: 20, status: enums.CouponStatusPending})
	rejected := newCoupon(t, db, "student@example.com", courseID, couponSeed{percent: 20, status: enums.CouponStatusRejected})

	_, err := repo.FindRedeemable(ctx, pending.Code, "student@example.com", courseID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindRedeemable(ctx, rejected.Code, "student@example.com", courseID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestClaimFullIsSingleWinner(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	coupon := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 100})

	won, err := repo.ClaimFull(ctx, coupon.ID, "student@example.com", now)
	require.NoError(t, err)
	assert.True(t, won)

	// The second attempt hits used=true and loses.
	won, err = repo.ClaimFull(ctx, coupon.ID, "student@example.com", now)
	require.NoError(t, err)
	assert.False(t, won)

	reloaded, err := repo.FindByID(ctx, coupon.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Used)
	require.NotNil(t, reloaded.UsedBy)
	assert.Equal(t, "student@example.com", *reloaded.UsedBy)
}

func TestReserveContention(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	expiry := now.Add(30 * time.Minute)

	coupon := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 20})

	won, err := repo.Reserve(ctx, coupon.ID, "first@example.com", now, expiry)
	require.NoError(t, err)
	assert.True(t, won)

	// A live reservation held by someone else blocks the second caller.
	won, err = repo.Reserve(ctx, coupon.ID, "second@example.com", now, expiry)
	require.NoError(t, err)
	assert.False(t, won)

	// The original holder can refresh their own reservation.
	won, err = repo.Reserve(ctx, coupon.ID, "first@example.com", now.Add(time.Minute), expiry.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, won)
}

func TestReserveReclaimableExactlyAtExpiry(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	expiry := now.Add(30 * time.Minute)

	coupon := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 20})

	won, err := repo.Reserve(ctx, coupon.ID, "first@example.com", now, expiry)
	require.NoError(t, err)
	require.True(t, won)

	// reservation_expiry <= now admits the exact expiry instant.
	won, err = repo.Reserve(ctx, coupon.ID, "second@example.com", expiry, expiry.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	reloaded, err := repo.FindByID(ctx, coupon.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ReservedBy)
	assert.Equal(t, "second@example.com", *reloaded.ReservedBy)
}

func TestClearReservationIsIdempotent(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	coupon := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 20})

	won, err := repo.Reserve(ctx, coupon.ID, "student@example.com", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, repo.ClearReservation(ctx, coupon.ID))
	require.NoError(t, repo.ClearReservation(ctx, coupon.ID))

	reloaded, err := repo.FindByID(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.ReservedBy)
	assert.Nil(t, reloaded.ReservationExpiry)
	assert.False(t, reloaded.Used)
}

func TestMarkUsedOnlyOnce(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	enrollmentID := uuid.New()

	coupon := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 20})

	won, err := repo.Reserve(ctx, coupon.ID, "student@example.com", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	used, err := repo.MarkUsed(ctx, coupon.ID, enrollmentID, "student@example.com", now)
	require.NoError(t, err)
	assert.True(t, used)

	used, err = repo.MarkUsed(ctx, coupon.ID, uuid.New(), "student@example.com", now)
	require.NoError(t, err)
	assert.False(t, used)

	reloaded, err := repo.FindByID(ctx, coupon.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Used)
	require.NotNil(t, reloaded.EnrollmentID)
	assert.Equal(t, enrollmentID, *reloaded.EnrollmentID)
	assert.Nil(t, reloaded.ReservedBy)
}

func TestUnsetUsedLeavesFinalizedRows(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	claimed := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 100})
	won, err := repo.ClaimFull(ctx, claimed.ID, "student@example.com", now)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, repo.UnsetUsed(ctx, claimed.ID))
	reloaded, err := repo.FindByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Used)

	// Once an enrollment is attached the claim is permanent.
	finalized := newCoupon(t, db, "student@example.com", uuid.New(), couponSeed{percent: 20})
	wonFinal, err := repo.Reserve(ctx, finalized.ID, "student@example.com", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, wonFinal)
	used, err := repo.MarkUsed(ctx, finalized.ID, uuid.New(), "student@example.com", now)
	require.NoError(t, err)
	require.True(t, used)

	require.NoError(t, repo.UnsetUsed(ctx, finalized.ID))
	reloaded, err = repo.FindByID(ctx, finalized.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Used)
}

func TestReleaseExpiredSweepsOnlyLapsed(t *testing.T) {
	db := setupCouponsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	lapsed := newCoupon(t, db, "a@example.com", uuid.New(), couponSeed{percent: 20})
	live := newCoupon(t, db, "b@example.com", uuid.New(), couponSeed{percent: 20})

	won, err := repo.Reserve(ctx, lapsed.ID, "a@example.com", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, won)
	won, err = repo.Reserve(ctx, live.ID, "b@example.com", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	released, err := repo.ReleaseExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)

	stillLive, err := repo.FindByID(ctx, live.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillLive.ReservedBy)

	cleared, err := repo.FindByID(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.ReservedBy)
}
