package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/metrics"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
)

// Reserve places a hold on points: it creates an ACTIVE reservation and
// moves the amount from available to escrow. The idempotency claim on
// (key, RESERVE) guarantees that concurrent duplicates produce exactly
// one reservation and identical responses.
func (s *DefaultService) Reserve(ctx context.Context, req models.ReserveRequest) (*models.ReserveResponse, error) {
	key := req.PointsIdempotencyKey
	if err := idempotency.ValidateKey(key); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonReservationHold
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown reason %q", models.ErrValidation, reason)
	}
	if err := auditMetadata(req.Metadata); err != nil {
		return nil, err
	}

	claim, err := s.idem.Claim(ctx, key, models.ScopeReserve)
	if err != nil {
		return nil, err
	}
	if claim.Replay != nil {
		metrics.IdempotentReplaysTotal.WithLabelValues(string(models.ScopeReserve)).Inc()
		var resp models.ReserveResponse
		if err := json.Unmarshal(claim.Replay.StoredResult, &resp); err != nil {
			return nil, fmt.Errorf("stored reserve result decode failed: %w", err)
		}
		return &resp, nil
	}
	if !claim.Acquired {
		return nil, models.ErrRequestInProgress
	}

	resp, err := s.reserve(ctx, req, reason, key)
	if err != nil {
		s.releaseClaim(ctx, key, models.ScopeReserve)
		return nil, err
	}

	if err := s.idem.Complete(ctx, key, models.ScopeReserve, resp, http.StatusOK, s.opts.IdempotencyRetention); err != nil {
		// The reservation is durably created; a failed completion only
		// delays replay until the claim deadline passes.
		s.logger.Error("reserve idempotency completion failed: %v", err)
	}

	return resp, nil
}

func (s *DefaultService) reserve(ctx context.Context, req models.ReserveRequest, reason models.Reason, key string) (*models.ReserveResponse, error) {
	now := s.now()
	ttl := s.clampTTL(req.TTLSeconds)

	reservationID := req.ReservationID
	if reservationID == "" {
		// Deterministic per key, so a retry after a crash between the
		// write and the idempotency completion targets the same row.
		reservationID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("reservation:"+key)).String()
	}
	correlationID := req.SourceCorrelationID
	if correlationID == "" {
		correlationID = req.RequestID
	}

	res := &models.Reservation{
		ID:                  reservationID,
		UserID:              req.UserID,
		Amount:              req.Amount,
		Status:              models.ReservationActive,
		ExpiresAt:           now.Add(ttl),
		SourceCorrelationID: correlationID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	transactionID := uuid.New().String()
	hold := models.BucketTransition{From: models.BalanceAvailable, To: models.BalanceEscrow}
	debit, credit, err := s.buildMovePair(ctx, req.UserID, models.AccountTypeUser, req.Amount, hold, reason, key, transactionID)
	if err != nil {
		return nil, err
	}

	// Reservation row and hold legs land in one storage transaction. A
	// failure here leaves no partial state for the expiry sweep to refund.
	err = s.repo.InsertReservationWithHold(ctx, res, debit, credit)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return s.recoverReserve(ctx, req, reason, key, reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("reservation insert failed: %w", err)
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	s.publishMove(req.UserID, models.AccountTypeUser, req.Amount, hold, reason, transactionID, now)

	return &models.ReserveResponse{
		Status:         "success",
		ReservationID:  res.ID,
		TransactionID:  transactionID,
		ReservedAmount: res.Amount,
		ExpiresAt:      res.ExpiresAt,
		Timestamp:      now,
	}, nil
}

// recoverReserve rebuilds the response for a hold an earlier attempt of
// this same operation already wrote (a crash between the storage write
// and the idempotency completion). A conflicting reservation from a
// different operation is a validation error.
func (s *DefaultService) recoverReserve(ctx context.Context, req models.ReserveRequest, reason models.Reason, key, reservationID string) (*models.ReserveResponse, error) {
	res, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("reservation lookup failed: %w", err)
	}
	if res == nil || res.UserID != req.UserID || res.Amount != req.Amount {
		return nil, fmt.Errorf("%w: reservation %q already exists", models.ErrValidation, reservationID)
	}

	transactionID := ""
	leg, err := s.repo.GetLedgerEntryByKey(ctx, deriveKey(key, reason, "debit"))
	if err != nil {
		return nil, fmt.Errorf("ledger entry lookup failed: %w", err)
	}
	if leg != nil {
		transactionID = leg.RequestID
	}

	return &models.ReserveResponse{
		Status:         "success",
		ReservationID:  res.ID,
		TransactionID:  transactionID,
		ReservedAmount: res.Amount,
		ExpiresAt:      res.ExpiresAt,
		Timestamp:      res.CreatedAt,
	}, nil
}

// Commit settles an ACTIVE reservation: the held amount moves from escrow
// to earned. The state transition is a single conditional update, so at
// most one of commit, release and the expiry sweep ever wins.
func (s *DefaultService) Commit(ctx context.Context, req models.CommitRequest) (*models.CommitResponse, error) {
	key := req.PointsIdempotencyKey
	if err := idempotency.ValidateKey(key); err != nil {
		return nil, err
	}
	if req.ReservationID == "" {
		return nil, fmt.Errorf("%w: reservationId is required", models.ErrValidation)
	}

	claim, err := s.idem.Claim(ctx, key, models.ScopeCommit)
	if err != nil {
		return nil, err
	}
	if claim.Replay != nil {
		metrics.IdempotentReplaysTotal.WithLabelValues(string(models.ScopeCommit)).Inc()
		var resp models.CommitResponse
		if err := json.Unmarshal(claim.Replay.StoredResult, &resp); err != nil {
			return nil, fmt.Errorf("stored commit result decode failed: %w", err)
		}
		return &resp, nil
	}
	if !claim.Acquired {
		return nil, models.ErrRequestInProgress
	}

	resp, err := s.commit(ctx, req, key)
	if err != nil {
		// Error outcomes are never cached; a corrected retry re-evaluates.
		s.releaseClaim(ctx, key, models.ScopeCommit)
		return nil, err
	}

	if err := s.idem.Complete(ctx, key, models.ScopeCommit, resp, http.StatusOK, s.opts.IdempotencyRetention); err != nil {
		s.logger.Error("commit idempotency completion failed: %v", err)
	}

	return resp, nil
}

func (s *DefaultService) commit(ctx context.Context, req models.CommitRequest, key string) (*models.CommitResponse, error) {
	now := s.now()
	res, err := s.repo.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("reservation lookup failed: %w", err)
	}
	if res == nil {
		return nil, models.ErrReservationNotFound
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	settle := models.BucketTransition{From: models.BalanceEscrow, To: models.BalanceEarned}
	debit, credit, err := s.buildMovePair(ctx, res.UserID, models.AccountTypeUser, res.Amount, settle, models.ReasonReservationCommit, key, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.TransitionReservationWithMove(ctx, req.ReservationID, models.ReservationCommitted, now, debit, credit)
	if err != nil {
		return nil, fmt.Errorf("reservation transition failed: %w", err)
	}
	if updated == nil {
		current, err := s.repo.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return nil, fmt.Errorf("reservation lookup failed: %w", err)
		}
		if current == nil {
			return nil, models.ErrReservationNotFound
		}
		// An earlier attempt of this same operation may have settled the
		// reservation already; its derived-key legs prove which key won.
		if current.Status == models.ReservationCommitted {
			settled, err := s.repo.GetLedgerEntryByKey(ctx, credit.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("ledger entry lookup failed: %w", err)
			}
			if settled != nil {
				return &models.CommitResponse{
					Status:          "success",
					ReservationID:   current.ID,
					CommittedAmount: current.Amount,
				}, nil
			}
		}
		return nil, classifyTransitionConflict(current, now)
	}

	metrics.ReservationsTotal.WithLabelValues("committed").Inc()
	s.publishMove(updated.UserID, models.AccountTypeUser, updated.Amount, settle, models.ReasonReservationCommit, requestID, now)

	return &models.CommitResponse{
		Status:          "success",
		ReservationID:   updated.ID,
		CommittedAmount: updated.Amount,
	}, nil
}

// Release returns a held amount from escrow to available. Symmetric to
// Commit, under the RELEASE scope.
func (s *DefaultService) Release(ctx context.Context, req models.ReleaseRequest) (*models.ReleaseResponse, error) {
	key := req.PointsIdempotencyKey
	if err := idempotency.ValidateKey(key); err != nil {
		return nil, err
	}
	if req.ReservationID == "" {
		return nil, fmt.Errorf("%w: reservationId is required", models.ErrValidation)
	}

	claim, err := s.idem.Claim(ctx, key, models.ScopeRelease)
	if err != nil {
		return nil, err
	}
	if claim.Replay != nil {
		metrics.IdempotentReplaysTotal.WithLabelValues(string(models.ScopeRelease)).Inc()
		var resp models.ReleaseResponse
		if err := json.Unmarshal(claim.Replay.StoredResult, &resp); err != nil {
			return nil, fmt.Errorf("stored release result decode failed: %w", err)
		}
		return &resp, nil
	}
	if !claim.Acquired {
		return nil, models.ErrRequestInProgress
	}

	resp, err := s.release(ctx, req, key)
	if err != nil {
		s.releaseClaim(ctx, key, models.ScopeRelease)
		return nil, err
	}

	if err := s.idem.Complete(ctx, key, models.ScopeRelease, resp, http.StatusOK, s.opts.IdempotencyRetention); err != nil {
		s.logger.Error("release idempotency completion failed: %v", err)
	}

	return resp, nil
}

func (s *DefaultService) release(ctx context.Context, req models.ReleaseRequest, key string) (*models.ReleaseResponse, error) {
	now := s.now()
	res, err := s.repo.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("reservation lookup failed: %w", err)
	}
	if res == nil {
		return nil, models.ErrReservationNotFound
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	refund := models.BucketTransition{From: models.BalanceEscrow, To: models.BalanceAvailable}
	debit, credit, err := s.buildMovePair(ctx, res.UserID, models.AccountTypeUser, res.Amount, refund, models.ReasonReservationRelease, key, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.TransitionReservationWithMove(ctx, req.ReservationID, models.ReservationReleased, now, debit, credit)
	if err != nil {
		return nil, fmt.Errorf("reservation transition failed: %w", err)
	}
	if updated == nil {
		current, err := s.repo.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return nil, fmt.Errorf("reservation lookup failed: %w", err)
		}
		if current == nil {
			return nil, models.ErrReservationNotFound
		}
		if current.Status == models.ReservationReleased {
			refunded, err := s.repo.GetLedgerEntryByKey(ctx, credit.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("ledger entry lookup failed: %w", err)
			}
			if refunded != nil {
				return &models.ReleaseResponse{
					Status:         "success",
					ReservationID:  current.ID,
					ReleasedAmount: current.Amount,
				}, nil
			}
		}
		return nil, classifyTransitionConflict(current, now)
	}

	metrics.ReservationsTotal.WithLabelValues("released").Inc()
	s.publishMove(updated.UserID, models.AccountTypeUser, updated.Amount, refund, models.ReasonReservationRelease, requestID, now)

	return &models.ReleaseResponse{
		Status:         "success",
		ReservationID:  updated.ID,
		ReleasedAmount: updated.Amount,
	}, nil
}

// GetReservation retrieves a reservation by ID.
func (s *DefaultService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: reservationId is required", models.ErrValidation)
	}
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation lookup failed: %w", err)
	}
	if res == nil {
		return nil, models.ErrReservationNotFound
	}
	return res, nil
}

// classifyTransitionConflict explains why a conditional transition
// affected zero records.
func classifyTransitionConflict(res *models.Reservation, now time.Time) error {
	// A lapsed ACTIVE reservation counts as expired even before the sweep
	// flips its status.
	if res.Status == models.ReservationExpired ||
		(res.Status == models.ReservationActive && !res.ExpiresAt.After(now)) {
		return models.ErrReservationExpired
	}
	return models.ErrReservationAlreadyProcessed
}

// releaseClaim abandons an idempotency claim after a failure.
func (s *DefaultService) releaseClaim(ctx context.Context, key string, scope models.EventScope) {
	if err := s.idem.Release(ctx, key, scope); err != nil {
		s.logger.Error("idempotency claim release failed: %v", err)
	}
}
