package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// isUniqueViolation classifies a Postgres unique-constraint error (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Ledger entry repository methods

const insertEntryQuery = `
	INSERT INTO ledger_entries
		(id, account_id, account_type, amount, entry_type, balance_state,
		 state_transition, reason, idempotency_key, request_id,
		 balance_before, balance_after, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

func insertEntryArgs(e *models.LedgerEntry) []interface{} {
	return []interface{}{
		e.ID, e.AccountID, e.AccountType, e.Amount, e.Type, e.BalanceState,
		e.StateTransition, e.Reason, e.IdempotencyKey, e.RequestID,
		e.BalanceBefore, e.BalanceAfter, e.Metadata, e.CreatedAt,
	}
}

func (r *PostgresRepository) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, insertEntryQuery, insertEntryArgs(entry)...)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *PostgresRepository) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error) {
	query := `SELECT * FROM ledger_entries WHERE idempotency_key = $1`

	var entry models.LedgerEntry
	err := r.db.GetContext(ctx, &entry, query, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Entry not found
		}
		return nil, err
	}

	return &entry, nil
}

func (r *PostgresRepository) QueryLedgerEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	appendCond := func(cond string, val interface{}) {
		args = append(args, val)
		where += cond + placeholder(len(args))
	}

	if filter.AccountID != "" {
		appendCond(` AND account_id = `, filter.AccountID)
	}
	if filter.AccountType != "" {
		appendCond(` AND account_type = `, filter.AccountType)
	}
	if filter.Type != "" {
		appendCond(` AND entry_type = `, filter.Type)
	}
	if !filter.StartDate.IsZero() {
		appendCond(` AND created_at >= `, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		appendCond(` AND created_at <= `, filter.EndDate)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM ledger_entries` + where + ` ORDER BY created_at DESC, id DESC`
	args = append(args, filter.Limit)
	query += ` LIMIT ` + placeholder(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET ` + placeholder(len(args))

	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func (r *PostgresRepository) SumBalances(ctx context.Context, accountID string, accountType models.AccountType, asOf time.Time) (*models.BalanceSnapshot, error) {
	query := `
		SELECT balance_state, COALESCE(SUM(amount), 0) AS total
		FROM ledger_entries
		WHERE account_id = $1 AND account_type = $2 AND created_at <= $3
		GROUP BY balance_state
	`

	rows, err := r.db.QueryxContext(ctx, query, accountID, accountType, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &models.BalanceSnapshot{
		AccountID:   accountID,
		AccountType: accountType,
		AsOf:        asOf,
	}
	for rows.Next() {
		var state models.BalanceState
		var total int64
		if err := rows.Scan(&state, &total); err != nil {
			return nil, err
		}
		switch state {
		case models.BalanceAvailable:
			snap.AvailableBalance = total
		case models.BalanceEscrow:
			snap.EscrowBalance = total
		case models.BalanceEarned:
			snap.EarnedBalance = total
		}
	}

	return snap, rows.Err()
}

func (r *PostgresRepository) SumEntryTypes(ctx context.Context, accountID string, accountType models.AccountType, from, to time.Time) (int64, int64, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE 0 END), 0) AS credits,
			COALESCE(SUM(CASE WHEN entry_type = 'DEBIT' THEN amount ELSE 0 END), 0) AS debits
		FROM ledger_entries
		WHERE account_id = $1 AND account_type = $2 AND created_at >= $3 AND created_at <= $4
	`

	var credits, debits int64
	err := r.db.QueryRowxContext(ctx, query, accountID, accountType, from, to).Scan(&credits, &debits)
	if err != nil {
		return 0, 0, err
	}

	return credits, debits, nil
}

// Reservation repository methods

const insertReservationQuery = `
	INSERT INTO reservations
		(id, user_id, amount, status, expires_at, source_correlation_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func insertReservationArgs(res *models.Reservation) []interface{} {
	return []interface{}{
		res.ID, res.UserID, res.Amount, res.Status, res.ExpiresAt,
		res.SourceCorrelationID, res.CreatedAt, res.UpdatedAt,
	}
}

func (r *PostgresRepository) InsertReservation(ctx context.Context, res *models.Reservation) error {
	_, err := r.db.ExecContext(ctx, insertReservationQuery, insertReservationArgs(res)...)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// InsertReservationWithHold writes the reservation row and both hold legs
// in one transaction. Either everything lands or nothing does, so a crash
// mid-reserve can never leave an ACTIVE reservation without its escrow
// entries.
func (r *PostgresRepository) InsertReservationWithHold(ctx context.Context, res *models.Reservation, debit, credit *models.LedgerEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	_, err = tx.ExecContext(ctx, insertReservationQuery, insertReservationArgs(res)...)
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateKey
		}
		return err
	}

	for _, e := range []*models.LedgerEntry{debit, credit} {
		_, err = tx.ExecContext(ctx, insertEntryQuery, insertEntryArgs(e)...)
		if err != nil {
			if isUniqueViolation(err) {
				err = ErrDuplicateKey
			}
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	query := `SELECT * FROM reservations WHERE id = $1`

	var res models.Reservation
	err := r.db.GetContext(ctx, &res, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Reservation not found
		}
		return nil, err
	}

	return &res, nil
}

// TransitionReservationWithMove is the single atomic operation that makes
// commit, release and the expiry sweep race-safe: the conditional status
// flip and both ledger legs of the accompanying bucket move commit (or roll
// back) together, and only one caller can ever observe the ACTIVE row.
func (r *PostgresRepository) TransitionReservationWithMove(ctx context.Context, id string, to models.ReservationStatus, now time.Time, debit, credit *models.LedgerEntry) (*models.Reservation, error) {
	// Settlement requires an unexpired hold; expiry requires a lapsed one.
	deadline := `expires_at > $2`
	if to == models.ReservationExpired {
		deadline = `expires_at <= $2`
	}
	query := `
		UPDATE reservations
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND ` + deadline + `
		RETURNING *
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	var res models.Reservation
	err = tx.QueryRowxContext(ctx, query, to, now, id, models.ReservationActive).StructScan(&res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			tx.Rollback()
			return nil, nil // Condition did not hold
		}
		return nil, err
	}

	for _, e := range []*models.LedgerEntry{debit, credit} {
		_, err = tx.ExecContext(ctx, insertEntryQuery, insertEntryArgs(e)...)
		if err != nil {
			if isUniqueViolation(err) {
				err = ErrDuplicateKey
			}
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *PostgresRepository) ListLapsedReservations(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	query := `SELECT * FROM reservations WHERE status = $1 AND expires_at <= $2`

	var lapsed []models.Reservation
	err := r.db.SelectContext(ctx, &lapsed, query, models.ReservationActive, now)
	if err != nil {
		return nil, err
	}

	return lapsed, nil
}

// Idempotency record repository methods

func (r *PostgresRepository) InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records
			(idempotency_key, event_scope, status, stored_result, status_code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.IdempotencyKey, rec.EventScope, rec.Status, []byte(rec.StoredResult),
		rec.StatusCode, rec.CreatedAt, rec.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *PostgresRepository) GetIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) (*models.IdempotencyRecord, error) {
	query := `SELECT * FROM idempotency_records WHERE idempotency_key = $1 AND event_scope = $2`

	var rec models.IdempotencyRecord
	err := r.db.GetContext(ctx, &rec, query, key, scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Record not found
		}
		return nil, err
	}

	return &rec, nil
}

func (r *PostgresRepository) CompleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope, result []byte, statusCode int, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET status = $1, stored_result = $2, status_code = $3, expires_at = $4
		WHERE idempotency_key = $5 AND event_scope = $6 AND status = $7
	`

	res, err := r.db.ExecContext(ctx, query,
		models.IdempotencyCompleted, result, statusCode, expiresAt,
		key, scope, models.IdempotencyInProgress)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// TakeOverIdempotencyClaim resets a lapsed record to a fresh in-progress
// claim: either a claim whose owner crashed before completing, or a stored
// result past its retention deadline (which no longer replays).
func (r *PostgresRepository) TakeOverIdempotencyClaim(ctx context.Context, key string, scope models.EventScope, now, newExpiry time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET status = $1, stored_result = NULL, status_code = 0, expires_at = $2, created_at = $3
		WHERE idempotency_key = $4 AND event_scope = $5 AND expires_at <= $3
	`

	res, err := r.db.ExecContext(ctx, query, models.IdempotencyInProgress, newExpiry, now, key, scope)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) DeleteIdempotencyRecord(ctx context.Context, key string, scope models.EventScope) error {
	query := `DELETE FROM idempotency_records WHERE idempotency_key = $1 AND event_scope = $2 AND status = $3`

	_, err := r.db.ExecContext(ctx, query, key, scope, models.IdempotencyInProgress)
	return err
}

func (r *PostgresRepository) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM idempotency_records WHERE expires_at <= $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// placeholder renders the $N positional argument marker.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
