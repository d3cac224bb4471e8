package service

import (
	"context"
	"time"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
)

// Service defines all the business logic operations of the points core
type Service interface {
	// Ledger operations
	CreateEntry(ctx context.Context, req models.CreateEntryRequest) (*models.LedgerEntry, error)
	QueryEntries(ctx context.Context, filter models.EntryFilter) (*models.QueryEntriesResponse, error)
	GetBalanceSnapshot(ctx context.Context, accountID string, accountType models.AccountType, asOf time.Time) (*models.BalanceSnapshot, error)
	GenerateReconciliationReport(ctx context.Context, accountID string, accountType models.AccountType, start, end time.Time) (*models.ReconciliationReport, error)

	// Reservation operations
	Reserve(ctx context.Context, req models.ReserveRequest) (*models.ReserveResponse, error)
	Commit(ctx context.Context, req models.CommitRequest) (*models.CommitResponse, error)
	Release(ctx context.Context, req models.ReleaseRequest) (*models.ReleaseResponse, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ProcessExpiredReservations(ctx context.Context) (int, error)
}

// BalanceFetcher reads the externally reported wallet balance used by
// reconciliation. The wallet cache implements it; reconciliation never
// treats it as authoritative.
type BalanceFetcher interface {
	Balance(ctx context.Context, accountID string, accountType models.AccountType) (int64, error)
}

// Options holds the tunable windows of the core.
type Options struct {
	// DefaultReservationTTL applies when a reserve request carries no TTL.
	DefaultReservationTTL time.Duration
	// MaxReservationTTL is the hard ceiling; longer requests are silently
	// capped, not rejected.
	MaxReservationTTL time.Duration
	// IdempotencyRetention bounds how long stored results replay.
	IdempotencyRetention time.Duration
}

const (
	defaultReservationTTL = 5 * time.Minute
	maxReservationTTL     = time.Hour
	defaultRetention      = 24 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.DefaultReservationTTL <= 0 {
		o.DefaultReservationTTL = defaultReservationTTL
	}
	if o.MaxReservationTTL <= 0 {
		o.MaxReservationTTL = maxReservationTTL
	}
	if o.IdempotencyRetention <= 0 {
		o.IdempotencyRetention = defaultRetention
	}
	return o
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo      repository.Repository
	idem      *idempotency.Store
	publisher events.Publisher
	wallet    BalanceFetcher
	logger    *utils.Logger
	opts      Options
	now       func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, idem *idempotency.Store, publisher events.Publisher, wallet BalanceFetcher, logger *utils.Logger, opts Options) *DefaultService {
	return &DefaultService{
		repo:      repo,
		idem:      idem,
		publisher: publisher,
		wallet:    wallet,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// clampTTL resolves the reservation window for a requested ttlSeconds.
func (s *DefaultService) clampTTL(seconds int) time.Duration {
	ttl := time.Duration(seconds) * time.Second
	if ttl <= 0 {
		return s.opts.DefaultReservationTTL
	}
	if ttl > s.opts.MaxReservationTTL {
		return s.opts.MaxReservationTTL
	}
	return ttl
}
