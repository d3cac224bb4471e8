package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// ErrDuplicateKey signals a uniqueness-constraint violation. Callers use it
// to recognize that another writer won the race for the same key; it is a
// recoverable signal, never surfaced to API callers as-is.
var ErrDuplicateKey = errors.New("duplicate key")

// Repository interface defines the storage operations the points core
// depends on. All exactly-once guarantees derive from the atomicity of
// these operations, not from in-process locks: multiple process instances
// may run against the same store.
type Repository interface {
	// Ledger entry operations. Entries are append-only; there is no update
	// or delete. InsertLedgerEntry returns ErrDuplicateKey when another
	// entry already holds the idempotency key.
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error)
	QueryLedgerEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int64, error)
	SumBalances(ctx context.Context, accountID string, accountType models.AccountType, asOf time.Time) (*models.BalanceSnapshot, error)
	SumEntryTypes(ctx context.Context, accountID string, accountType models.AccountType, from, to time.Time) (credits int64, debits int64, err error)

	// Reservation operations. A reservation row and its ledger legs always
	// change together in one storage transaction: a crash can never leave a
	// hold without its escrow entries, or a settled status without the
	// settle entries.
	InsertReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	// InsertReservationWithHold writes the ACTIVE reservation and both legs
	// of its available->escrow hold atomically. Any uniqueness conflict
	// (reservation ID or either leg's key) rolls the whole write back and
	// returns ErrDuplicateKey.
	InsertReservationWithHold(ctx context.Context, r *models.Reservation, debit, credit *models.LedgerEntry) error
	// TransitionReservationWithMove conditionally transitions an ACTIVE
	// reservation and writes both legs of the accompanying bucket move in
	// the same transaction. For terminal settlement (COMMITTED, RELEASED)
	// the reservation must be unexpired; for EXPIRED it must be lapsed.
	// Returns (nil, nil) when the condition did not hold so the caller can
	// classify the conflict.
	TransitionReservationWithMove(ctx context.Context, id string, to models.ReservationStatus, now time.Time, debit, credit *models.LedgerEntry) (*models.Reservation, error)
	// ListLapsedReservations returns ACTIVE reservations whose deadline has
	// passed, without modifying them.
	ListLapsedReservations(ctx context.Context, now time.Time) ([]models.Reservation, error)

	// Idempotency record operations. The (idempotency_key, event_scope)
	// primary key is the sole source of exactly-once semantics.
	InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error
	GetIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) (*models.IdempotencyRecord, error)
	CompleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope, result []byte, statusCode int, expiresAt time.Time) (bool, error)
	// TakeOverIdempotencyClaim resets any record whose deadline has lapsed
	// (a stale claim or a result past retention) back to a fresh in-progress
	// claim owned by the caller.
	TakeOverIdempotencyClaim(ctx context.Context, key string, scope models.EventScope, now, newExpiry time.Time) (bool, error)
	DeleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) error
	DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)
}
