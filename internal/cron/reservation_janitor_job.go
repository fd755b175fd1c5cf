package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

// ReservationJanitorJobParams configure the coupon reservation sweep.
type ReservationJanitorJobParams struct {
	Logger       *logger.Logger
	Reservations reservationSweeper
}

type reservationSweeper interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewReservationJanitorJob builds the job that clears lapsed coupon holds.
// Claim-time predicates already treat an expired hold as free, so this only
// keeps the table tidy and the held coupons visible as available.
func NewReservationJanitorJob(params ReservationJanitorJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation sweeper required")
	}
	return &reservationJanitorJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		now:          time.Now,
	}, nil
}

type reservationJanitorJob struct {
	logg         *logger.Logger
	reservations reservationSweeper
	now          func() time.Time
}

func (j *reservationJanitorJob) Name() string { return "reservation-janitor" }

func (j *reservationJanitorJob) Run(ctx context.Context) error {
	released, err := j.reservations.ReleaseExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("release expired reservations: %w", err)
	}
	if released > 0 {
		logCtx := j.logg.WithField(ctx, "released", released)
		j.logg.Info(logCtx, "expired coupon reservations released")
	}
	return nil
}
