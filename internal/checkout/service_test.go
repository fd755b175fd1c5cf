package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/internal/affiliates"
	"github.com/learnlyhq/learnly-backend/internal/commissions"
	"github.com/learnlyhq/learnly-backend/internal/coupons"
	"github.com/learnlyhq/learnly-backend/internal/courses"
	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubSessionClient struct {
	sess   *stripe.CheckoutSession
	err    error
	params []*stripe.CheckoutSessionParams
}

func (c *stubSessionClient) CreateSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	c.params = append(c.params, params)
	if c.err != nil {
		return nil, c.err
	}
	return c.sess, nil
}

type recordingNotifier struct {
	notified []uuid.UUID
}

func (n *recordingNotifier) EnrollmentPaid(ctx context.Context, enrollment *models.Enrollment, course *models.Course) {
	n.notified = append(n.notified, enrollment.ID)
}

type recordingSyncer struct {
	synced []uuid.UUID
	err    error
}

func (r *recordingSyncer) SyncNow(ctx context.Context, enrollment *models.Enrollment, course *models.Course) error {
	r.synced = append(r.synced, enrollment.ID)
	return r.err
}

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
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
);`, `
CREATE TABLE IF NOT EXISTS affiliates (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  referral_code TEXT NOT NULL UNIQUE,
  commission_rate TEXT NOT NULL,
  total_earned TEXT NOT NULL DEFAULT '0',
  total_paid_out TEXT NOT NULL DEFAULT '0',
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
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
);`, `
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
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_active_course_email
ON enrollments (course_id, email)
WHERE status IN ('pending', 'paid');`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM outbox_events`)
		db.Exec(`DELETE FROM enrollments`)
		db.Exec(`DELETE FROM coupons`)
		db.Exec(`DELETE FROM affiliates`)
		db.Exec(`DELETE FROM courses`)
	})
	return db
}

func checkoutTestConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		SuccessURL:      "https://learnly.test/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       "https://learnly.test/checkout/cancel",
		FreeRedirectURL: "https://learnly.test/learn/welcome",
		Currency:        "usd",
	}
}

func newCheckoutService(t *testing.T, db *gorm.DB, stripeClient StripeSessionClient) (Service, *recordingNotifier, *recordingSyncer) {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})

	couponSvc, err := coupons.NewService(coupons.ServiceParams{
		Repo:           coupons.NewRepository(db),
		ReservationTTL: 30 * time.Minute,
	})
	require.NoError(t, err)

	commissionSvc, err := commissions.NewService(commissions.ServiceParams{
		DB:         db,
		Affiliates: affiliates.NewRepository(db),
	})
	require.NoError(t, err)

	enrollmentSvc, err := enrollments.NewService(enrollments.ServiceParams{
		Repo:        enrollments.NewRepository(db),
		TxRunner:    testTxRunner{db: db},
		Coupons:     couponSvc,
		Commissions: commissionSvc,
		Events:      outbox.NewService(outbox.NewRepository(db), logg),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	syncer := &recordingSyncer{}

	svc, err := NewService(ServiceParams{
		Courses:     courses.NewRepository(db),
		Affiliates:  affiliates.NewRepository(db),
		Coupons:     couponSvc,
		Enrollments: enrollmentSvc,
		Commissions: commissionSvc,
		Notifier:    notifier,
		Sync:        syncer,
		Stripe:      stripeClient,
		Logger:      logg,
		Config:      checkoutTestConfig(),
	})
	require.NoError(t, err)
	return svc, notifier, syncer
}

func defaultSessionStub() *stubSessionClient {
	return &stubSessionClient{
		sess: &stripe.CheckoutSession{
			ID:  "cs_test_checkout",
			URL: "https://checkout.stripe.com/c/pay/cs_test_checkout",
		},
	}
}

func seedCheckoutCourse(t *testing.T, db *gorm.DB) *models.Course {
	t.Helper()
	course := &models.Course{
		ID:          uuid.New(),
		Slug:        fmt.Sprintf("go-foundations-%s", uuid.NewString()[:8]),
		Title:       "Go Foundations",
		Description: "From zero to production services.",
		Price:       decimal.RequireFromString("499.00"),
		Currency:    "usd",
		LMSCourseID: "EDU-GO-101",
		Active:      true,
	}
	require.NoError(t, db.Create(course).Error)
	return course
}

func seedCheckoutAffiliate(t *testing.T, db *gorm.DB, email string) *models.Affiliate {
	t.Helper()
	partner := &models.Affiliate{
		ID:             uuid.New(),
		Email:          email,
		Name:           "Partner",
		ReferralCode:   fmt.Sprintf("REF-%s", uuid.NewString()[:8]),
		CommissionRate: decimal.RequireFromString("20.00"),
		Active:         true,
	}
	require.NoError(t, db.Create(partner).Error)
	return partner
}

func seedCheckoutCoupon(t *testing.T, db *gorm.DB, owner string, courseID uuid.UUID, percent int) *models.Coupon {
	t.Helper()
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            fmt.Sprintf("GRANT-%s", uuid.NewString()[:8]),
		OwnerEmail:      owner,
		CourseID:        courseID,
		DiscountPercent: percent,
		Status:          enums.CouponStatusApproved,
	}
	require.NoError(t, db.Create(coupon).Error)
	return coupon
}

func reloadCheckoutEnrollment(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Enrollment {
	t.Helper()
	var enrollment models.Enrollment
	require.NoError(t, db.Where("id = ?", id).First(&enrollment).Error)
	return &enrollment
}

func TestBeginOpensSessionForDiscountedPrice(t *testing.T) {
	db := setupCheckoutTestDB(t)
	stub := defaultSessionStub()
	svc, notifier, syncer := newCheckoutService(t, db, stub)
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	partner := seedCheckoutAffiliate(t, db, "partner@example.com")
	coupon := seedCheckoutCoupon(t, db, "buyer@example.com", course.ID, 20)

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID:       course.ID,
		Email:          "Buyer@Example.com",
		CouponCode:     coupon.Code,
		AffiliateEmail: partner.Email,
	})
	require.NoError(t, err)

	created, ok := outcome.(PaymentSessionCreated)
	require.True(t, ok, "outcome = %T", outcome)
	assert.Equal(t, "cs_test_checkout", created.SessionID)
	assert.Equal(t, stub.sess.URL, created.CheckoutURL)

	// 499.00 minus the 20% grant is 399.20, charged as 39920 minor units.
	require.Len(t, stub.params, 1)
	params := stub.params[0]
	require.Len(t, params.LineItems, 1)
	assert.EqualValues(t, 39920, *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, "Go Foundations", *params.LineItems[0].PriceData.ProductData.Name)
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "buyer@example.com", *params.CustomerEmail)
	assert.Equal(t, checkoutTestConfig().SuccessURL, *params.SuccessURL)
	assert.Equal(t, checkoutTestConfig().CancelURL, *params.CancelURL)
	assert.Equal(t, created.EnrollmentID.String(), params.Metadata["enrollment_id"])

	enrollment := reloadCheckoutEnrollment(t, db, created.EnrollmentID)
	assert.Equal(t, enums.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, enums.EnrollmentTypePartialGrant, enrollment.EnrollmentType)
	assert.True(t, enrollment.Amount.Equal(decimal.RequireFromString("399.20")))
	assert.True(t, enrollment.DiscountAmount.Equal(decimal.RequireFromString("99.80")))
	require.NotNil(t, enrollment.StripeSessionID)
	assert.Equal(t, "cs_test_checkout", *enrollment.StripeSessionID)
	require.NotNil(t, enrollment.AffiliateID)
	assert.Equal(t, partner.ID, *enrollment.AffiliateID)

	// The grant is only held until the webhook confirms payment.
	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.False(t, reloadedCoupon.Used)
	require.NotNil(t, reloadedCoupon.ReservedBy)
	assert.Equal(t, "buyer@example.com", *reloadedCoupon.ReservedBy)

	assert.Empty(t, notifier.notified)
	assert.Empty(t, syncer.synced)
	var events int64
	require.NoError(t, db.Table("outbox_events").Count(&events).Error)
	assert.Zero(t, events, "nothing is paid yet")
}

func TestBeginFullGrantEnrollsDirectly(t *testing.T) {
	db := setupCheckoutTestDB(t)
	stub := defaultSessionStub()
	svc, notifier, syncer := newCheckoutService(t, db, stub)
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	partner := seedCheckoutAffiliate(t, db, "partner@example.com")
	coupon := seedCheckoutCoupon(t, db, "grantee@example.com", course.ID, 100)

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID:       course.ID,
		Email:          "grantee@example.com",
		CouponCode:     coupon.Code,
		AffiliateEmail: partner.Email,
	})
	require.NoError(t, err)

	free, ok := outcome.(FreeEnrollment)
	require.True(t, ok, "outcome = %T", outcome)
	assert.Equal(t, checkoutTestConfig().FreeRedirectURL, free.RedirectURL)
	assert.Empty(t, stub.params, "no payment session for a full grant")

	enrollment := reloadCheckoutEnrollment(t, db, free.EnrollmentID)
	assert.Equal(t, enums.EnrollmentStatusPaid, enrollment.Status)
	assert.Equal(t, enums.EnrollmentTypeFreeGrant, enrollment.EnrollmentType)
	assert.True(t, enrollment.Amount.IsZero())
	assert.True(t, enrollment.DiscountAmount.Equal(decimal.RequireFromString("499.00")))
	require.NotNil(t, enrollment.PaidAt)
	assert.Nil(t, enrollment.StripeSessionID)
	assert.True(t, enrollment.CommissionProcessed)
	assert.True(t, enrollment.CommissionAmount.IsZero())

	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.True(t, reloadedCoupon.Used)
	require.NotNil(t, reloadedCoupon.EnrollmentID)
	assert.Equal(t, free.EnrollmentID, *reloadedCoupon.EnrollmentID)

	assert.Equal(t, []uuid.UUID{free.EnrollmentID}, notifier.notified)
	assert.Equal(t, []uuid.UUID{free.EnrollmentID}, syncer.synced)

	var paidEvents int64
	require.NoError(t, db.Table("outbox_events").
		Where("event_type = ? AND aggregate_id = ?", enums.EventEnrollmentPaid, free.EnrollmentID.String()).
		Count(&paidEvents).Error)
	assert.EqualValues(t, 1, paidEvents)
}

func TestBeginRejectsSelfReferral(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	coupon := seedCheckoutCoupon(t, db, "buyer@example.com", course.ID, 20)

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID:       course.ID,
		Email:          "buyer@example.com",
		CouponCode:     coupon.Code,
		AffiliateEmail: "  Buyer@Example.COM ",
	})
	require.NoError(t, err)

	rejected, ok := outcome.(Rejected)
	require.True(t, ok, "outcome = %T", outcome)
	assert.Equal(t, pkgerrors.CodeSelfReferral, rejected.Code)

	var enrollmentCount int64
	require.NoError(t, db.Model(&models.Enrollment{}).Count(&enrollmentCount).Error)
	assert.Zero(t, enrollmentCount)

	// The guard fires before the coupon is touched.
	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.Nil(t, reloadedCoupon.ReservedBy)
	assert.False(t, reloadedCoupon.Used)
}

func TestBeginRejectsUnknownOrInactiveCourse(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID: uuid.New(),
		Email:    "buyer@example.com",
	})
	require.NoError(t, err)
	rejected, ok := outcome.(Rejected)
	require.True(t, ok, "outcome = %T", outcome)
	assert.Equal(t, pkgerrors.CodeCourseNotFound, rejected.Code)

	retired := seedCheckoutCourse(t, db)
	require.NoError(t, db.Model(&models.Course{}).Where("id = ?", retired.ID).Update("active", false).Error)

	outcome, err = svc.Begin(ctx, BeginInput{
		CourseID: retired.ID,
		Email:    "buyer@example.com",
	})
	require.NoError(t, err)
	rejected, ok = outcome.(Rejected)
	require.True(t, ok, "outcome = %T", outcome)
	assert.Equal(t, pkgerrors.CodeCourseNotFound, rejected.Code)
}

func TestBeginUnknownAffiliateProceedsUnattributed(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID:       course.ID,
		Email:          "buyer@example.com",
		AffiliateEmail: "nobody@example.com",
	})
	require.NoError(t, err)

	created, ok := outcome.(PaymentSessionCreated)
	require.True(t, ok, "outcome = %T", outcome)

	enrollment := reloadCheckoutEnrollment(t, db, created.EnrollmentID)
	assert.Nil(t, enrollment.AffiliateID)
	assert.True(t, enrollment.Amount.Equal(decimal.RequireFromString("499.00")), "full price without a grant")
}

func TestBeginCouponConflictsBecomeOutcomes(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()
	course := seedCheckoutCourse(t, db)
	buyer := "buyer@example.com"

	used := seedCheckoutCoupon(t, db, buyer, course.ID, 20)
	usedAt := time.Now().UTC()
	require.NoError(t, db.Model(&models.Coupon{}).Where("id = ?", used.ID).Updates(map[string]any{
		"used": true, "used_at": usedAt, "used_by": "someone@example.com",
	}).Error)

	held := seedCheckoutCoupon(t, db, buyer, course.ID, 20)
	holder := "rival@example.com"
	reservedAt := time.Now().UTC()
	expiry := reservedAt.Add(30 * time.Minute)
	require.NoError(t, db.Model(&models.Coupon{}).Where("id = ?", held.ID).Updates(map[string]any{
		"reserved_by": holder, "reserved_at": reservedAt, "reservation_expiry": expiry,
	}).Error)

	lapsed := seedCheckoutCoupon(t, db, buyer, course.ID, 20)
	pastExpiry := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Coupon{}).Where("id = ?", lapsed.ID).Update("expires_at", pastExpiry).Error)

	cases := []struct {
		name string
		code string
		want pkgerrors.Code
	}{
		{name: "already used", code: used.Code, want: pkgerrors.CodeCouponUnavailable},
		{name: "held by another checkout", code: held.Code, want: pkgerrors.CodeCouponReserved},
		{name: "past its expiry", code: lapsed.Code, want: pkgerrors.CodeCouponExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := svc.Begin(ctx, BeginInput{
				CourseID:   course.ID,
				Email:      buyer,
				CouponCode: tc.code,
			})
			require.NoError(t, err)
			rejected, ok := outcome.(Rejected)
			require.True(t, ok, "outcome = %T", outcome)
			assert.Equal(t, tc.want, rejected.Code)
		})
	}

	var enrollmentCount int64
	require.NoError(t, db.Model(&models.Enrollment{}).Count(&enrollmentCount).Error)
	assert.Zero(t, enrollmentCount, "rejections leave no rows behind")
}

func TestBeginDuplicateReleasesCouponHold(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	buyer := "buyer@example.com"

	first, err := svc.Begin(ctx, BeginInput{CourseID: course.ID, Email: buyer})
	require.NoError(t, err)
	require.IsType(t, PaymentSessionCreated{}, first)

	coupon := seedCheckoutCoupon(t, db, buyer, course.ID, 20)
	second, err := svc.Begin(ctx, BeginInput{
		CourseID:   course.ID,
		Email:      buyer,
		CouponCode: coupon.Code,
	})
	require.NoError(t, err)

	rejected, ok := second.(Rejected)
	require.True(t, ok, "outcome = %T", second)
	assert.Equal(t, pkgerrors.CodeDuplicateEnrollment, rejected.Code)

	// The reservation taken before the duplicate check must not linger.
	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.Nil(t, reloadedCoupon.ReservedBy)
	assert.Nil(t, reloadedCoupon.ReservationExpiry)
}

func TestBeginSessionFailureRollsBack(t *testing.T) {
	db := setupCheckoutTestDB(t)
	stub := &stubSessionClient{err: errors.New("stripe: api unavailable")}
	svc, _, _ := newCheckoutService(t, db, stub)
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	coupon := seedCheckoutCoupon(t, db, "buyer@example.com", course.ID, 20)

	_, err := svc.Begin(ctx, BeginInput{
		CourseID:   course.ID,
		Email:      "buyer@example.com",
		CouponCode: coupon.Code,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	var enrollmentCount int64
	require.NoError(t, db.Model(&models.Enrollment{}).Count(&enrollmentCount).Error)
	assert.Zero(t, enrollmentCount, "pending row is removed with the failed session")

	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.Nil(t, reloadedCoupon.ReservedBy)
	assert.False(t, reloadedCoupon.Used)
}

func TestBeginValidatesInput(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	_, err := svc.Begin(ctx, BeginInput{Email: "buyer@example.com"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Begin(ctx, BeginInput{CourseID: uuid.New(), Email: "   "})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCancelAbandonsPendingCheckout(t *testing.T) {
	db := setupCheckoutTestDB(t)
	svc, _, _ := newCheckoutService(t, db, defaultSessionStub())
	ctx := context.Background()

	course := seedCheckoutCourse(t, db)
	coupon := seedCheckoutCoupon(t, db, "buyer@example.com", course.ID, 20)

	outcome, err := svc.Begin(ctx, BeginInput{
		CourseID:   course.ID,
		Email:      "buyer@example.com",
		CouponCode: coupon.Code,
	})
	require.NoError(t, err)
	created := outcome.(PaymentSessionCreated)

	require.NoError(t, svc.Cancel(ctx, created.EnrollmentID))

	var enrollmentCount int64
	require.NoError(t, db.Model(&models.Enrollment{}).Where("id = ?", created.EnrollmentID).Count(&enrollmentCount).Error)
	assert.Zero(t, enrollmentCount)

	var reloadedCoupon models.Coupon
	require.NoError(t, db.Where("id = ?", coupon.ID).First(&reloadedCoupon).Error)
	assert.Nil(t, reloadedCoupon.ReservedBy)

	assert.NoError(t, svc.Cancel(ctx, created.EnrollmentID), "cancel is idempotent")
	assert.NoError(t, svc.Cancel(ctx, uuid.New()))
}
