package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/metrics"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// Metadata keys that name contact or identity information, plus an
// email-shaped value check. A defense-in-depth audit rule, not a full
// PII scanner.
var (
	piiKeyPattern   = regexp.MustCompile(`(?i)^(e[-_]?mail|phone([-_]?number)?|(first|last|full)[-_]?name|address|ssn|social[-_]?security([-_]?number)?|passport([-_]?number)?|date[-_]?of[-_]?birth|dob)$`)
	emailValueShape = regexp.MustCompile(`[^@\s]+@[^@\s]+\.[A-Za-z]{2,}`)
)

// CreateEntry validates and appends one immutable ledger entry. Two calls
// with the same idempotency key produce one stored entry; the second call
// returns the first call's entry unchanged.
func (s *DefaultService) CreateEntry(ctx context.Context, req models.CreateEntryRequest) (*models.LedgerEntry, error) {
	if err := idempotency.ValidateKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := validateEntryRequest(req); err != nil {
		return nil, err
	}
	transition, err := resolveTransition(req)
	if err != nil {
		return nil, err
	}
	if err := auditMetadata(req.Metadata); err != nil {
		return nil, err
	}

	check, err := s.idem.Check(ctx, req.IdempotencyKey, models.ScopeLedgerEntry)
	if err != nil {
		return nil, err
	}
	if check.IsDuplicate {
		metrics.IdempotentReplaysTotal.WithLabelValues(string(models.ScopeLedgerEntry)).Inc()
		return s.replayEntry(ctx, req.IdempotencyKey, check.StoredResult)
	}

	now := s.now()
	snap, err := s.repo.SumBalances(ctx, req.AccountID, req.AccountType, now)
	if err != nil {
		return nil, fmt.Errorf("balance snapshot failed: %w", err)
	}
	before := bucketBalance(snap, req.BalanceState)

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	entry := &models.LedgerEntry{
		ID:              uuid.New().String(),
		AccountID:       req.AccountID,
		AccountType:     req.AccountType,
		Amount:          req.Amount,
		Type:            req.Type,
		BalanceState:    req.BalanceState,
		StateTransition: transition,
		Reason:          req.Reason,
		IdempotencyKey:  req.IdempotencyKey,
		RequestID:       requestID,
		BalanceBefore:   before,
		BalanceAfter:    before + req.Amount,
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}

	err = s.repo.InsertLedgerEntry(ctx, entry)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// Lost the write race; the winner's entry is the result.
		return s.replayEntry(ctx, req.IdempotencyKey, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger entry insert failed: %w", err)
	}

	// The idempotency write happens second, keyed off the durably written
	// entry. A crash before this point re-attempts safely: the retry hits
	// the ledger's own key constraint and returns the winner.
	if err := s.idem.Store(ctx, req.IdempotencyKey, models.ScopeLedgerEntry, entry, http.StatusOK, s.opts.IdempotencyRetention); err != nil {
		s.logger.Error("idempotency store after ledger write failed: %v", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(entry.Reason)).Inc()
	s.publisher.PublishBalanceChanged(events.BalanceChanged{
		AccountID:   entry.AccountID,
		AccountType: entry.AccountType,
		Deltas:      []events.BucketDelta{{Bucket: entry.BalanceState, Amount: entry.Amount}},
		Reason:      entry.Reason,
		RequestID:   entry.RequestID,
		OccurredAt:  now,
	})

	return entry, nil
}

// replayEntry returns the previously written entry for a duplicate key.
func (s *DefaultService) replayEntry(ctx context.Context, key string, stored json.RawMessage) (*models.LedgerEntry, error) {
	existing, err := s.repo.GetLedgerEntryByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ledger entry lookup failed: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	if len(stored) > 0 {
		var entry models.LedgerEntry
		if err := json.Unmarshal(stored, &entry); err == nil {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("duplicate ledger entry for key has no stored record")
}

// QueryEntries returns a read-only page of entries matching the filter.
func (s *DefaultService) QueryEntries(ctx context.Context, filter models.EntryFilter) (*models.QueryEntriesResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown entry type %q", models.ErrValidation, filter.Type)
	}

	entries, total, err := s.repo.QueryLedgerEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	return &models.QueryEntriesResponse{
		Status:     "success",
		Entries:    entries,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// GetBalanceSnapshot folds all entries for the account with timestamp <=
// asOf (default now) into per-bucket signed sums. This is the canonical
// way to compute a balance; nothing else is authoritative.
func (s *DefaultService) GetBalanceSnapshot(ctx context.Context, accountID string, accountType models.AccountType, asOf time.Time) (*models.BalanceSnapshot, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountId is required", models.ErrValidation)
	}
	if !accountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", models.ErrValidation, accountType)
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	snap, err := s.repo.SumBalances(ctx, accountID, accountType, asOf)
	if err != nil {
		return nil, fmt.Errorf("balance snapshot failed: %w", err)
	}
	return snap, nil
}

// GenerateReconciliationReport compares the ledger-derived balance with
// the externally reported wallet balance over a time range.
func (s *DefaultService) GenerateReconciliationReport(ctx context.Context, accountID string, accountType models.AccountType, start, end time.Time) (*models.ReconciliationReport, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountId is required", models.ErrValidation)
	}
	if !accountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", models.ErrValidation, accountType)
	}
	if end.IsZero() {
		end = s.now()
	}
	if !start.IsZero() && start.After(end) {
		return nil, fmt.Errorf("%w: range start after range end", models.ErrValidation)
	}

	snap, err := s.repo.SumBalances(ctx, accountID, accountType, end)
	if err != nil {
		return nil, fmt.Errorf("balance snapshot failed: %w", err)
	}

	credits, debits, err := s.repo.SumEntryTypes(ctx, accountID, accountType, start, end)
	if err != nil {
		return nil, fmt.Errorf("entry totals failed: %w", err)
	}

	actual, err := s.wallet.Balance(ctx, accountID, accountType)
	if err != nil {
		return nil, fmt.Errorf("wallet balance fetch failed: %w", err)
	}

	calculated := snap.Total()
	diff := calculated - actual

	return &models.ReconciliationReport{
		AccountID:         accountID,
		AccountType:       accountType,
		RangeStart:        start,
		RangeEnd:          end,
		CalculatedBalance: calculated,
		ActualBalance:     actual,
		Difference:        diff,
		Reconciled:        diff == 0,
		TotalCredits:      credits,
		TotalDebits:       debits,
		GeneratedAt:       s.now(),
	}, nil
}

// buildMovePair constructs both legs of a bucket transition: a debit on
// the source bucket and a credit on the destination, sharing the
// transition string and request id. Idempotency keys are derived from the
// parent operation's key, so the legs of a replayed operation collide on
// the ledger's key constraint instead of double-applying. The legs are
// only built here; the caller persists them atomically alongside its own
// state change.
func (s *DefaultService) buildMovePair(ctx context.Context, accountID string, accountType models.AccountType, amount int64, t models.BucketTransition, reason models.Reason, parentKey, requestID string) (debit, credit *models.LedgerEntry, err error) {
	if !t.Legal() {
		return nil, nil, fmt.Errorf("%w: %s", models.ErrInvalidStateTransition, t)
	}
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: move amount must be positive", models.ErrValidation)
	}

	now := s.now()
	snap, err := s.repo.SumBalances(ctx, accountID, accountType, now)
	if err != nil {
		return nil, nil, fmt.Errorf("balance snapshot failed: %w", err)
	}
	fromBefore := bucketBalance(snap, t.From)
	toBefore := bucketBalance(snap, t.To)

	debit = &models.LedgerEntry{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		AccountType:     accountType,
		Amount:          -amount,
		Type:            models.EntryTypeDebit,
		BalanceState:    t.From,
		StateTransition: t.String(),
		Reason:          reason,
		IdempotencyKey:  deriveKey(parentKey, reason, "debit"),
		RequestID:       requestID,
		BalanceBefore:   fromBefore,
		BalanceAfter:    fromBefore - amount,
		CreatedAt:       now,
	}
	credit = &models.LedgerEntry{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		AccountType:     accountType,
		Amount:          amount,
		Type:            models.EntryTypeCredit,
		BalanceState:    t.To,
		StateTransition: t.String(),
		Reason:          reason,
		IdempotencyKey:  deriveKey(parentKey, reason, "credit"),
		RequestID:       requestID,
		BalanceBefore:   toBefore,
		BalanceAfter:    toBefore + amount,
		CreatedAt:       now,
	}
	return debit, credit, nil
}

// publishMove emits the metrics and the balance-changed event for a
// persisted bucket move.
func (s *DefaultService) publishMove(accountID string, accountType models.AccountType, amount int64, t models.BucketTransition, reason models.Reason, requestID string, occurredAt time.Time) {
	metrics.LedgerEntriesTotal.WithLabelValues(string(reason)).Add(2)
	s.publisher.PublishBalanceChanged(events.BalanceChanged{
		AccountID:   accountID,
		AccountType: accountType,
		Deltas: []events.BucketDelta{
			{Bucket: t.From, Amount: -amount},
			{Bucket: t.To, Amount: amount},
		},
		Reason:     reason,
		RequestID:  requestID,
		OccurredAt: occurredAt,
	})
}

func deriveKey(parentKey string, reason models.Reason, leg string) string {
	return parentKey + ":" + strings.ToLower(string(reason)) + ":" + leg
}

func bucketBalance(snap *models.BalanceSnapshot, bucket models.BalanceState) int64 {
	switch bucket {
	case models.BalanceAvailable:
		return snap.AvailableBalance
	case models.BalanceEscrow:
		return snap.EscrowBalance
	case models.BalanceEarned:
		return snap.EarnedBalance
	default:
		return 0
	}
}

func validateEntryRequest(req models.CreateEntryRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("%w: accountId is required", models.ErrValidation)
	}
	if !req.AccountType.Valid() {
		return fmt.Errorf("%w: unknown account type %q", models.ErrValidation, req.AccountType)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", models.ErrValidation, req.Type)
	}
	if !req.BalanceState.Valid() {
		return fmt.Errorf("%w: unknown balance state %q", models.ErrValidation, req.BalanceState)
	}
	if !req.Reason.Valid() {
		return fmt.Errorf("%w: unknown reason %q", models.ErrValidation, req.Reason)
	}
	if req.Amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", models.ErrValidation)
	}
	// CREDIT entries carry positive amounts, DEBIT entries negative ones.
	// Mismatches are rejected, never normalized.
	if req.Type == models.EntryTypeCredit && req.Amount < 0 {
		return fmt.Errorf("%w: CREDIT requires a positive amount", models.ErrAmountSignMismatch)
	}
	if req.Type == models.EntryTypeDebit && req.Amount > 0 {
		return fmt.Errorf("%w: DEBIT requires a negative amount", models.ErrAmountSignMismatch)
	}
	return nil
}

// resolveTransition validates a requested stateTransition against the
// allow-list and returns the canonical string for the entry.
func resolveTransition(req models.CreateEntryRequest) (string, error) {
	if req.StateTransition == "" || !strings.Contains(req.StateTransition, "->") {
		return models.DirectTransition(req.BalanceState, req.Amount), nil
	}

	t, err := models.ParseTransition(req.StateTransition)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if !t.Legal() {
		return "", fmt.Errorf("%w: %s", models.ErrInvalidStateTransition, t)
	}
	if t.From != req.BalanceState && t.To != req.BalanceState {
		return "", fmt.Errorf("%w: transition %s does not involve bucket %s", models.ErrValidation, t, req.BalanceState)
	}
	return t.String(), nil
}

// auditMetadata rejects entries whose metadata contains recognizable
// personal-identifying fields.
func auditMetadata(md models.Metadata) error {
	for k, v := range md {
		if piiKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: metadata key %q", models.ErrPIIDetected, k)
		}
		if emailValueShape.MatchString(v) {
			return fmt.Errorf("%w: metadata value under %q", models.ErrPIIDetected, k)
		}
	}
	return nil
}
