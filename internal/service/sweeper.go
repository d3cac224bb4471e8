package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/metrics"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// ProcessExpiredReservations transitions lapsed ACTIVE reservations to
// EXPIRED and refunds their held points from escrow back to available.
// Each flip and its refund legs commit in one storage transaction, so a
// failure leaves the reservation ACTIVE and the next sweep retries the
// whole step. The conditional update means a concurrent commit or release
// wins cleanly and the sweep skips that reservation. Returns the number
// of reservations expired.
func (s *DefaultService) ProcessExpiredReservations(ctx context.Context) (int, error) {
	now := s.now()
	lapsed, err := s.repo.ListLapsedReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiry sweep failed: %w", err)
	}

	refund := models.BucketTransition{From: models.BalanceEscrow, To: models.BalanceAvailable}
	var expired int
	for _, res := range lapsed {
		requestID := uuid.New().String()
		debit, credit, err := s.buildMovePair(ctx, res.UserID, models.AccountTypeUser, res.Amount, refund,
			models.ReasonReservationExpired, "expire:"+res.ID, requestID)
		if err != nil {
			s.logger.Error("expiry refund for reservation %s not built: %v", res.ID, err)
			continue
		}

		updated, err := s.repo.TransitionReservationWithMove(ctx, res.ID, models.ReservationExpired, now, debit, credit)
		if err != nil {
			s.logger.Error("expiry failed for reservation %s, will retry next sweep: %v", res.ID, err)
			continue
		}
		if updated == nil {
			// Committed or released between the listing and the flip.
			continue
		}

		expired++
		metrics.ExpiredReservationsTotal.Inc()
		s.publishMove(res.UserID, models.AccountTypeUser, res.Amount, refund,
			models.ReasonReservationExpired, requestID, now)
	}

	return expired, nil
}

// Sweeper periodically expires lapsed reservations and purges idempotency
// records past retention. It may run concurrently with user-initiated
// commit and release calls on any process instance.
type Sweeper struct {
	svc      *DefaultService
	interval time.Duration
}

// NewSweeper creates a sweeper with the given tick interval.
func NewSweeper(svc *DefaultService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	n, err := w.svc.ProcessExpiredReservations(ctx)
	if err != nil {
		w.svc.logger.Error("reservation expiry sweep failed: %v", err)
	} else if n > 0 {
		w.svc.logger.Info("expired %d reservations", n)
	}

	purged, err := w.svc.idem.PurgeExpired(ctx)
	if err != nil {
		w.svc.logger.Error("idempotency purge failed: %v", err)
	} else if purged > 0 {
		w.svc.logger.Info("purged %d idempotency records", purged)
	}
}
