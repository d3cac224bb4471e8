package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
)

// DefaultClaimTTL bounds how long an unfinished claim blocks other
// callers. A crashed owner loses the claim after this deadline.
const DefaultClaimTTL = 30 * time.Second

// Store is the durable record of "this (key, scope) operation already
// ran". All methods fail closed: a storage outage is reported to the
// caller, because skipping deduplication could double-process a
// financial operation.
type Store struct {
	repo      repository.Repository
	retention time.Duration
	claimTTL  time.Duration
	now       func() time.Time
}

// NewStore creates a Store with the given result retention period.
func NewStore(repo repository.Repository, retention time.Duration) *Store {
	return &Store{
		repo:      repo,
		retention: retention,
		claimTTL:  DefaultClaimTTL,
		now:       time.Now,
	}
}

// CheckResult reports whether a (key, scope) pair has already completed
// and, if so, the result the first run produced.
type CheckResult struct {
	IsDuplicate       bool
	StoredResult      json.RawMessage
	StatusCode        int
	OriginalTimestamp time.Time
}

// ClaimResult reports the outcome of a claim attempt. Exactly one of the
// three shapes occurs: Acquired, a completed Replay, or neither (another
// caller is still working).
type ClaimResult struct {
	Acquired bool
	Replay   *CheckResult
}

// Check looks up the (key, scope) pair without side effects. An
// in-progress claim does not count as a duplicate; only completed results
// replay.
func (s *Store) Check(ctx context.Context, key string, scope models.EventScope) (*CheckResult, error) {
	rec, err := s.repo.GetIdempotencyRecord(ctx, key, scope)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if rec == nil || rec.Status != models.IdempotencyCompleted || !rec.ExpiresAt.After(s.now()) {
		return &CheckResult{}, nil
	}
	return &CheckResult{
		IsDuplicate:       true,
		StoredResult:      rec.StoredResult,
		StatusCode:        rec.StatusCode,
		OriginalTimestamp: rec.CreatedAt,
	}, nil
}

// Store persists a completed result for the pair. Safe to call
// concurrently for the same pair: when the unique constraint rejects the
// write because another writer already stored a record, the duplicate
// write is swallowed and the first writer's result stays authoritative.
func (s *Store) Store(ctx context.Context, key string, scope models.EventScope, result interface{}, statusCode int, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency result encode failed: %w", err)
	}

	now := s.now()
	rec := &models.IdempotencyRecord{
		IdempotencyKey: key,
		EventScope:     scope,
		Status:         models.IdempotencyCompleted,
		StoredResult:   payload,
		StatusCode:     statusCode,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttlOrDefault(ttl)),
	}

	err = s.repo.InsertIdempotencyRecord(ctx, rec)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// First writer wins; this write is defined to be a no-op.
		return nil
	}
	if err != nil {
		return fmt.Errorf("idempotency store failed: %w", err)
	}
	return nil
}

// Claim inserts an in-progress marker so that exactly one caller performs
// the work for a (key, scope) pair. On conflict the existing record is
// classified: a completed record replays, a live claim reports
// in-progress, and a stale claim from a crashed owner is taken over.
func (s *Store) Claim(ctx context.Context, key string, scope models.EventScope) (*ClaimResult, error) {
	now := s.now()
	rec := &models.IdempotencyRecord{
		IdempotencyKey: key,
		EventScope:     scope,
		Status:         models.IdempotencyInProgress,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.claimTTL),
	}

	err := s.repo.InsertIdempotencyRecord(ctx, rec)
	if err == nil {
		return &ClaimResult{Acquired: true}, nil
	}
	if !errors.Is(err, repository.ErrDuplicateKey) {
		return nil, fmt.Errorf("idempotency claim failed: %w", err)
	}

	existing, err := s.repo.GetIdempotencyRecord(ctx, key, scope)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if existing == nil {
		// Record vanished between insert and read (purged); the retry
		// carries the same key, so report in-progress and let it.
		return &ClaimResult{}, nil
	}

	// A result past retention never replays, matching Check; like a stale
	// claim, it falls through to takeover.
	if existing.Status == models.IdempotencyCompleted && existing.ExpiresAt.After(now) {
		return &ClaimResult{
			Replay: &CheckResult{
				IsDuplicate:       true,
				StoredResult:      existing.StoredResult,
				StatusCode:        existing.StatusCode,
				OriginalTimestamp: existing.CreatedAt,
			},
		}, nil
	}

	taken, err := s.repo.TakeOverIdempotencyClaim(ctx, key, scope, now, now.Add(s.claimTTL))
	if err != nil {
		return nil, fmt.Errorf("idempotency claim takeover failed: %w", err)
	}
	return &ClaimResult{Acquired: taken}, nil
}

// Complete finalizes a held claim with the operation's result.
func (s *Store) Complete(ctx context.Context, key string, scope models.EventScope, result interface{}, statusCode int, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency result encode failed: %w", err)
	}

	ok, err := s.repo.CompleteIdempotencyRecord(ctx, key, scope, payload, statusCode, s.now().Add(s.ttlOrDefault(ttl)))
	if err != nil {
		return fmt.Errorf("idempotency complete failed: %w", err)
	}
	if !ok {
		// The claim lapsed and another caller took it over. Their result
		// is authoritative, same as losing the first-writer race.
		return nil
	}
	return nil
}

// Release abandons a held claim after a failed operation so a corrected
// retry can re-evaluate. Error outcomes are never cached.
func (s *Store) Release(ctx context.Context, key string, scope models.EventScope) error {
	if err := s.repo.DeleteIdempotencyRecord(ctx, key, scope); err != nil {
		return fmt.Errorf("idempotency claim release failed: %w", err)
	}
	return nil
}

// PurgeExpired removes records past their retention deadline.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredIdempotencyRecords(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("idempotency purge failed: %w", err)
	}
	return n, nil
}

func (s *Store) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.retention
	}
	return ttl
}
