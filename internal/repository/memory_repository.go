package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// MemoryRepository is an in-memory Repository used by the test suite and
// local development. It reproduces the storage semantics the core relies
// on: the (key, scope) uniqueness constraint, the idempotency-key
// constraint on ledger entries, and conditional reservation updates.
// A single mutex stands in for the database's atomicity.
type MemoryRepository struct {
	mu           sync.Mutex
	entries      []models.LedgerEntry
	entriesByKey map[string]int
	reservations map[string]models.Reservation
	idempotency  map[idemKey]models.IdempotencyRecord
}

type idemKey struct {
	key   string
	scope models.EventScope
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entriesByKey: make(map[string]int),
		reservations: make(map[string]models.Reservation),
		idempotency:  make(map[idemKey]models.IdempotencyRecord),
	}
}

// Ledger entry methods

func (r *MemoryRepository) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertEntryLocked(entry)
}

func (r *MemoryRepository) insertEntryLocked(entry *models.LedgerEntry) error {
	if _, exists := r.entriesByKey[entry.IdempotencyKey]; exists {
		return ErrDuplicateKey
	}
	r.entries = append(r.entries, *entry)
	r.entriesByKey[entry.IdempotencyKey] = len(r.entries) - 1
	return nil
}

func (r *MemoryRepository) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.entriesByKey[idempotencyKey]
	if !exists {
		return nil, nil
	}
	entry := r.entries[idx]
	return &entry, nil
}

func (r *MemoryRepository) QueryLedgerEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.LedgerEntry
	for _, e := range r.entries {
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		if filter.AccountType != "" && e.AccountType != filter.AccountType {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if !filter.StartDate.IsZero() && e.CreatedAt.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && e.CreatedAt.After(filter.EndDate) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []models.LedgerEntry{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	page := make([]models.LedgerEntry, len(matched))
	copy(page, matched)
	return page, total, nil
}

func (r *MemoryRepository) SumBalances(ctx context.Context, accountID string, accountType models.AccountType, asOf time.Time) (*models.BalanceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &models.BalanceSnapshot{
		AccountID:   accountID,
		AccountType: accountType,
		AsOf:        asOf,
	}
	for _, e := range r.entries {
		if e.AccountID != accountID || e.AccountType != accountType || e.CreatedAt.After(asOf) {
			continue
		}
		switch e.BalanceState {
		case models.BalanceAvailable:
			snap.AvailableBalance += e.Amount
		case models.BalanceEscrow:
			snap.EscrowBalance += e.Amount
		case models.BalanceEarned:
			snap.EarnedBalance += e.Amount
		}
	}
	return snap, nil
}

func (r *MemoryRepository) SumEntryTypes(ctx context.Context, accountID string, accountType models.AccountType, from, to time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var credits, debits int64
	for _, e := range r.entries {
		if e.AccountID != accountID || e.AccountType != accountType {
			continue
		}
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		if e.Type == models.EntryTypeCredit {
			credits += e.Amount
		} else {
			debits += e.Amount
		}
	}
	return credits, debits, nil
}

// Reservation methods

func (r *MemoryRepository) InsertReservation(ctx context.Context, res *models.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reservations[res.ID]; exists {
		return ErrDuplicateKey
	}
	r.reservations[res.ID] = *res
	return nil
}

func (r *MemoryRepository) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, exists := r.reservations[id]
	if !exists {
		return nil, nil
	}
	return &res, nil
}

// InsertReservationWithHold mirrors the transactional write: every
// uniqueness check runs before any mutation, so either the reservation and
// both legs land or nothing does.
func (r *MemoryRepository) InsertReservationWithHold(ctx context.Context, res *models.Reservation, debit, credit *models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reservations[res.ID]; exists {
		return ErrDuplicateKey
	}
	if _, exists := r.entriesByKey[debit.IdempotencyKey]; exists {
		return ErrDuplicateKey
	}
	if _, exists := r.entriesByKey[credit.IdempotencyKey]; exists {
		return ErrDuplicateKey
	}

	r.reservations[res.ID] = *res
	r.insertEntryLocked(debit)
	r.insertEntryLocked(credit)
	return nil
}

func (r *MemoryRepository) TransitionReservationWithMove(ctx context.Context, id string, to models.ReservationStatus, now time.Time, debit, credit *models.LedgerEntry) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, exists := r.reservations[id]
	if !exists || res.Status != models.ReservationActive {
		return nil, nil
	}
	lapsed := !res.ExpiresAt.After(now)
	if to == models.ReservationExpired {
		if !lapsed {
			return nil, nil
		}
	} else if lapsed {
		return nil, nil
	}
	if _, exists := r.entriesByKey[debit.IdempotencyKey]; exists {
		return nil, ErrDuplicateKey
	}
	if _, exists := r.entriesByKey[credit.IdempotencyKey]; exists {
		return nil, ErrDuplicateKey
	}

	res.Status = to
	res.UpdatedAt = now
	r.reservations[id] = res
	r.insertEntryLocked(debit)
	r.insertEntryLocked(credit)
	return &res, nil
}

func (r *MemoryRepository) ListLapsedReservations(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lapsed []models.Reservation
	for _, res := range r.reservations {
		if res.Status == models.ReservationActive && !res.ExpiresAt.After(now) {
			lapsed = append(lapsed, res)
		}
	}
	return lapsed, nil
}

// Idempotency record methods

func (r *MemoryRepository) InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idemKey{key: rec.IdempotencyKey, scope: rec.EventScope}
	if _, exists := r.idempotency[k]; exists {
		return ErrDuplicateKey
	}
	r.idempotency[k] = *rec
	return nil
}

func (r *MemoryRepository) GetIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) (*models.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.idempotency[idemKey{key: key, scope: scope}]
	if !exists {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRepository) CompleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope, result []byte, statusCode int, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idemKey{key: key, scope: scope}
	rec, exists := r.idempotency[k]
	if !exists || rec.Status != models.IdempotencyInProgress {
		return false, nil
	}
	rec.Status = models.IdempotencyCompleted
	rec.StoredResult = append([]byte(nil), result...)
	rec.StatusCode = statusCode
	rec.ExpiresAt = expiresAt
	r.idempotency[k] = rec
	return true, nil
}

func (r *MemoryRepository) TakeOverIdempotencyClaim(ctx context.Context, key string, scope models.EventScope, now, newExpiry time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idemKey{key: key, scope: scope}
	rec, exists := r.idempotency[k]
	if !exists || rec.ExpiresAt.After(now) {
		return false, nil
	}
	rec.Status = models.IdempotencyInProgress
	rec.StoredResult = nil
	rec.StatusCode = 0
	rec.CreatedAt = now
	rec.ExpiresAt = newExpiry
	r.idempotency[k] = rec
	return true, nil
}

func (r *MemoryRepository) DeleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idemKey{key: key, scope: scope}
	rec, exists := r.idempotency[k]
	if exists && rec.Status == models.IdempotencyInProgress {
		delete(r.idempotency, k)
	}
	return nil
}

func (r *MemoryRepository) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, rec := range r.idempotency {
		if !rec.ExpiresAt.After(now) {
			delete(r.idempotency, k)
			n++
		}
	}
	return n, nil
}
