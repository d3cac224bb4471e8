package models

import "time"

// Request models
type CreateEntryRequest struct {
	AccountID       string       `json:"accountId" binding:"required"`
	AccountType     AccountType  `json:"accountType" binding:"required"`
	Amount          int64        `json:"amount" binding:"required"`
	Type            EntryType    `json:"type" binding:"required"`
	BalanceState    BalanceState `json:"balanceState" binding:"required"`
	StateTransition string       `json:"stateTransition,omitempty"`
	Reason          Reason       `json:"reason" binding:"required"`
	IdempotencyKey  string       `json:"pointsIdempotencyKey"`
	RequestID       string       `json:"requestId"`
	Metadata        Metadata     `json:"metadata,omitempty"`
}

// EntryFilter selects ledger entries for a paginated query.
type EntryFilter struct {
	AccountID   string
	AccountType AccountType
	Type        EntryType
	StartDate   time.Time
	EndDate     time.Time
	Limit       int
	Offset      int
}

type ReserveRequest struct {
	PointsIdempotencyKey string   `json:"pointsIdempotencyKey"`
	EventScope           string   `json:"eventScope,omitempty"`
	RequestID            string   `json:"requestId"`
	Timestamp            time.Time `json:"timestamp,omitempty"`
	UserID               string   `json:"userId" binding:"required"`
	Amount               int64    `json:"amount" binding:"required"`
	Reason               Reason   `json:"reason"`
	ReservationID        string   `json:"reservationId,omitempty"`
	TTLSeconds           int      `json:"ttlSeconds,omitempty"`
	SourceCorrelationID  string   `json:"sourceCorrelationId,omitempty"`
	Metadata             Metadata `json:"metadata,omitempty"`
}

// ReservationID comes from the URL path; a body value is overridden.
type CommitRequest struct {
	PointsIdempotencyKey string `json:"pointsIdempotencyKey"`
	RequestID            string `json:"requestId"`
	ReservationID        string `json:"reservationId,omitempty"`
}

type ReleaseRequest struct {
	PointsIdempotencyKey string `json:"pointsIdempotencyKey"`
	RequestID            string `json:"requestId"`
	ReservationID        string `json:"reservationId,omitempty"`
}

// Response models
type ReserveResponse struct {
	Status         string    `json:"status"`
	ReservationID  string    `json:"reservationId"`
	TransactionID  string    `json:"transactionId"`
	ReservedAmount int64     `json:"reservedAmount"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Timestamp      time.Time `json:"timestamp"`
}

type CommitResponse struct {
	Status          string `json:"status"`
	ReservationID   string `json:"reservationId"`
	CommittedAmount int64  `json:"committedAmount"`
}

type ReleaseResponse struct {
	Status         string `json:"status"`
	ReservationID  string `json:"reservationId"`
	ReleasedAmount int64  `json:"releasedAmount"`
}

type QueryEntriesResponse struct {
	Status     string        `json:"status"`
	Entries    []LedgerEntry `json:"entries"`
	TotalCount int64         `json:"totalCount"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// BalanceSnapshot is the per-bucket signed sum of all entries for an
// account at a point in time. The ledger fold is the canonical balance;
// no mutable balance field exists to drift from it.
type BalanceSnapshot struct {
	AccountID        string      `json:"accountId"`
	AccountType      AccountType `json:"accountType"`
	AvailableBalance int64       `json:"availableBalance"`
	EscrowBalance    int64       `json:"escrowBalance"`
	EarnedBalance    int64       `json:"earnedBalance"`
	AsOf             time.Time   `json:"asOf"`
}

// Total is the sum across all three buckets.
func (s BalanceSnapshot) Total() int64 {
	return s.AvailableBalance + s.EscrowBalance + s.EarnedBalance
}

// ReconciliationReport compares the ledger-derived balance against the
// externally reported wallet balance over a time range.
type ReconciliationReport struct {
	AccountID         string      `json:"accountId"`
	AccountType       AccountType `json:"accountType"`
	RangeStart        time.Time   `json:"rangeStart"`
	RangeEnd          time.Time   `json:"rangeEnd"`
	CalculatedBalance int64       `json:"calculatedBalance"`
	ActualBalance     int64       `json:"actualBalance"`
	Difference        int64       `json:"difference"`
	Reconciled        bool        `json:"reconciled"`
	TotalCredits      int64       `json:"totalCredits"`
	TotalDebits       int64       `json:"totalDebits"`
	GeneratedAt       time.Time   `json:"generatedAt"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
