package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AccountType identifies which side of the platform an account belongs to
type AccountType string

const (
	AccountTypeUser  AccountType = "user"
	AccountTypeModel AccountType = "model"
)

// Valid reports whether the account type is one of the known values
func (a AccountType) Valid() bool {
	return a == AccountTypeUser || a == AccountTypeModel
}

// EntryType classifies a ledger entry as a credit or a debit
type EntryType string

const (
	EntryTypeCredit EntryType = "CREDIT"
	EntryTypeDebit  EntryType = "DEBIT"
)

func (e EntryType) Valid() bool {
	return e == EntryTypeCredit || e == EntryTypeDebit
}

// BalanceState names the balance bucket an entry applies to
type BalanceState string

const (
	BalanceAvailable BalanceState = "available"
	BalanceEscrow    BalanceState = "escrow"
	BalanceEarned    BalanceState = "earned"
)

func (b BalanceState) Valid() bool {
	return b == BalanceAvailable || b == BalanceEscrow || b == BalanceEarned
}

// ReservationStatus is the lifecycle state of a points hold
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are permitted
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCommitted || s == ReservationReleased || s == ReservationExpired
}

// EventScope qualifies an idempotency key so the same raw key can be
// reused across unrelated operation kinds without collision
type EventScope string

const (
	ScopeReserve     EventScope = "RESERVE"
	ScopeCommit      EventScope = "COMMIT"
	ScopeRelease     EventScope = "RELEASE"
	ScopeLedgerEntry EventScope = "ledger_entry"
)

// Reason is the enumerated business reason code attached to ledger entries
type Reason string

const (
	ReasonPurchase           Reason = "PURCHASE"
	ReasonReward             Reason = "REWARD"
	ReasonRedemption         Reason = "REDEMPTION"
	ReasonAdjustment         Reason = "ADJUSTMENT"
	ReasonReservationHold    Reason = "RESERVATION_HOLD"
	ReasonReservationCommit  Reason = "RESERVATION_COMMIT"
	ReasonReservationRelease Reason = "RESERVATION_RELEASE"
	ReasonReservationExpired Reason = "RESERVATION_EXPIRED"
)

var knownReasons = map[Reason]bool{
	ReasonPurchase:           true,
	ReasonReward:             true,
	ReasonRedemption:         true,
	ReasonAdjustment:         true,
	ReasonReservationHold:    true,
	ReasonReservationCommit:  true,
	ReasonReservationRelease: true,
	ReasonReservationExpired: true,
}

func (r Reason) Valid() bool {
	return knownReasons[r]
}

// Metadata is a free-form string map persisted as JSON. Only primitive
// string values are representable, which keeps structured query operators
// out of the storage layer.
type Metadata map[string]string

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
}

// LedgerEntry is one immutable record of a balance change. Entries are
// append-only: a correction is a new entry, never an edit of a prior one.
type LedgerEntry struct {
	ID              string       `db:"id" json:"entryId"`
	AccountID       string       `db:"account_id" json:"accountId"`
	AccountType     AccountType  `db:"account_type" json:"accountType"`
	Amount          int64        `db:"amount" json:"amount"`
	Type            EntryType    `db:"entry_type" json:"type"`
	BalanceState    BalanceState `db:"balance_state" json:"balanceState"`
	StateTransition string       `db:"state_transition" json:"stateTransition"`
	Reason          Reason       `db:"reason" json:"reason"`
	IdempotencyKey  string       `db:"idempotency_key" json:"idempotencyKey"`
	RequestID       string       `db:"request_id" json:"requestId"`
	BalanceBefore   int64        `db:"balance_before" json:"balanceBefore"`
	BalanceAfter    int64        `db:"balance_after" json:"balanceAfter"`
	Metadata        Metadata     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"timestamp"`
}

// Reservation is a temporary hold on points pending a commit or release
// decision. Once the status reaches a terminal value it never changes.
type Reservation struct {
	ID                  string            `db:"id" json:"reservationId"`
	UserID              string            `db:"user_id" json:"userId"`
	Amount              int64             `db:"amount" json:"amount"`
	Status              ReservationStatus `db:"status" json:"status"`
	ExpiresAt           time.Time         `db:"expires_at" json:"expiresAt"`
	SourceCorrelationID string            `db:"source_correlation_id" json:"sourceCorrelationId,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updatedAt"`
}

// Idempotency record statuses. A record starts in progress when a caller
// claims the key and becomes completed once the result is stored.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// IdempotencyRecord is the durable proof that an operation identified by
// (idempotency_key, event_scope) has already run, together with the result
// it produced. At most one record exists per pair, enforced by the storage
// layer's uniqueness constraint rather than application logic.
type IdempotencyRecord struct {
	IdempotencyKey string          `db:"idempotency_key" json:"idempotencyKey"`
	EventScope     EventScope      `db:"event_scope" json:"eventScope"`
	Status         string          `db:"status" json:"status"`
	StoredResult   json.RawMessage `db:"stored_result" json:"storedResult,omitempty"`
	StatusCode     int             `db:"status_code" json:"statusCode"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expiresAt"`
}
