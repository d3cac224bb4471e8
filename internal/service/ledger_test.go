package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/wallet"
)

// newTestService wires a full service against the in-memory repository,
// with the wallet cache fed by the event fan-out the way main does it.
func newTestService() (*DefaultService, *repository.MemoryRepository, *wallet.Cache) {
	repo := repository.NewMemoryRepository()
	svc, cache := newTestServiceOn(repo)
	return svc, repo, cache
}

// newTestServiceOn wires the service on an arbitrary repository, so tests
// can interpose fault-injecting wrappers.
func newTestServiceOn(repo repository.Repository) (*DefaultService, *wallet.Cache) {
	idem := idempotency.NewStore(repo, time.Hour)
	cache := wallet.NewCache()
	logger := utils.NewLogger()
	svc := NewDefaultService(repo, idem, events.Fanout{cache}, cache, logger, Options{})
	return svc, cache
}

func creditRequest(accountID string, amount int64) models.CreateEntryRequest {
	return models.CreateEntryRequest{
		AccountID:      accountID,
		AccountType:    models.AccountTypeUser,
		Amount:         amount,
		Type:           models.EntryTypeCredit,
		BalanceState:   models.BalanceAvailable,
		Reason:         models.ReasonPurchase,
		IdempotencyKey: uuid.New().String(),
	}
}

func TestCreateEntryComputesRunningBalance(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	account := uuid.New().String()

	first, err := svc.CreateEntry(ctx, creditRequest(account, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.BalanceBefore)
	assert.Equal(t, int64(100), first.BalanceAfter)

	debit := models.CreateEntryRequest{
		AccountID:      account,
		AccountType:    models.AccountTypeUser,
		Amount:         -30,
		Type:           models.EntryTypeDebit,
		BalanceState:   models.BalanceAvailable,
		Reason:         models.ReasonRedemption,
		IdempotencyKey: uuid.New().String(),
	}
	second, err := svc.CreateEntry(ctx, debit)
	require.NoError(t, err)
	assert.Equal(t, int64(100), second.BalanceBefore)
	assert.Equal(t, int64(70), second.BalanceAfter)

	snap, err := svc.GetBalanceSnapshot(ctx, account, models.AccountTypeUser, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(70), snap.AvailableBalance)
}

func TestCreateEntryIdempotentReplay(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	req := creditRequest(uuid.New().String(), 100)

	first, err := svc.CreateEntry(ctx, req)
	require.NoError(t, err)

	second, err := svc.CreateEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	resp, err := svc.QueryEntries(ctx, models.EntryFilter{AccountID: req.AccountID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.TotalCount)
}

func TestCreateEntryRejectsSignMismatch(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	account := uuid.New().String()

	negCredit := creditRequest(account, -100)
	_, err := svc.CreateEntry(ctx, negCredit)
	assert.ErrorIs(t, err, models.ErrAmountSignMismatch)

	posDebit := models.CreateEntryRequest{
		AccountID:      account,
		AccountType:    models.AccountTypeUser,
		Amount:         50,
		Type:           models.EntryTypeDebit,
		BalanceState:   models.BalanceAvailable,
		Reason:         models.ReasonRedemption,
		IdempotencyKey: uuid.New().String(),
	}
	_, err = svc.CreateEntry(ctx, posDebit)
	assert.ErrorIs(t, err, models.ErrAmountSignMismatch)

	// Nothing was written.
	snap, err := svc.GetBalanceSnapshot(ctx, account, models.AccountTypeUser, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Total())
}

func TestCreateEntryRejectsInvalidKey(t *testing.T) {
	svc, _, _ := newTestService()
	req := creditRequest(uuid.New().String(), 100)
	req.IdempotencyKey = "not-a-uuid"

	_, err := svc.CreateEntry(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidIdempotencyKey)
}

func TestCreateEntryTransitionAllowList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	legal := models.CreateEntryRequest{
		AccountID:       uuid.New().String(),
		AccountType:     models.AccountTypeUser,
		Amount:          -50,
		Type:            models.EntryTypeDebit,
		BalanceState:    models.BalanceAvailable,
		StateTransition: "available->escrow",
		Reason:          models.ReasonReservationHold,
		IdempotencyKey:  uuid.New().String(),
	}
	entry, err := svc.CreateEntry(ctx, legal)
	require.NoError(t, err)
	assert.Equal(t, "available->escrow", entry.StateTransition)

	illegal := legal
	illegal.BalanceState = models.BalanceEarned
	illegal.StateTransition = "earned->escrow"
	illegal.IdempotencyKey = uuid.New().String()
	_, err = svc.CreateEntry(ctx, illegal)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	skip := legal
	skip.StateTransition = "available->earned"
	skip.IdempotencyKey = uuid.New().String()
	_, err = svc.CreateEntry(ctx, skip)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestCreateEntryRejectsPIIMetadata(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	byKey := creditRequest(uuid.New().String(), 100)
	byKey.Metadata = models.Metadata{"email": "redacted"}
	_, err := svc.CreateEntry(ctx, byKey)
	assert.ErrorIs(t, err, models.ErrPIIDetected)

	byValue := creditRequest(uuid.New().String(), 100)
	byValue.Metadata = models.Metadata{"contact": "someone@example.com"}
	_, err = svc.CreateEntry(ctx, byValue)
	assert.ErrorIs(t, err, models.ErrPIIDetected)

	clean := creditRequest(uuid.New().String(), 100)
	clean.Metadata = models.Metadata{"campaign": "spring-promo"}
	_, err = svc.CreateEntry(ctx, clean)
	assert.NoError(t, err)
}

func TestBalanceSnapshotAsOf(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	account := uuid.New().String()

	current := time.Now()
	svc.now = func() time.Time { return current }

	_, err := svc.CreateEntry(ctx, creditRequest(account, 100))
	require.NoError(t, err)
	cutoff := current

	current = current.Add(time.Hour)
	_, err = svc.CreateEntry(ctx, creditRequest(account, 50))
	require.NoError(t, err)

	// The historical snapshot is unaffected by the later entry.
	past, err := svc.GetBalanceSnapshot(ctx, account, models.AccountTypeUser, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(100), past.AvailableBalance)

	latest, err := svc.GetBalanceSnapshot(ctx, account, models.AccountTypeUser, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(150), latest.AvailableBalance)
}

func TestQueryEntriesPagination(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	account := uuid.New().String()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateEntry(ctx, creditRequest(account, 10))
		require.NoError(t, err)
	}

	page, err := svc.QueryEntries(ctx, models.EntryFilter{AccountID: account, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Len(t, page.Entries, 2)

	rest, err := svc.QueryEntries(ctx, models.EntryFilter{AccountID: account, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest.Entries, 1)
}

func TestReconciliationReport(t *testing.T) {
	svc, _, cache := newTestService()
	ctx := context.Background()
	account := uuid.New().String()

	_, err := svc.CreateEntry(ctx, creditRequest(account, 100))
	require.NoError(t, err)

	debit := models.CreateEntryRequest{
		AccountID:      account,
		AccountType:    models.AccountTypeUser,
		Amount:         -30,
		Type:           models.EntryTypeDebit,
		BalanceState:   models.BalanceAvailable,
		Reason:         models.ReasonRedemption,
		IdempotencyKey: uuid.New().String(),
	}
	_, err = svc.CreateEntry(ctx, debit)
	require.NoError(t, err)

	report, err := svc.GenerateReconciliationReport(ctx, account, models.AccountTypeUser, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, report.Reconciled)
	assert.Equal(t, int64(70), report.CalculatedBalance)
	assert.Equal(t, int64(70), report.ActualBalance)
	assert.Equal(t, int64(0), report.Difference)
	assert.Equal(t, int64(100), report.TotalCredits)
	assert.Equal(t, int64(-30), report.TotalDebits)

	// A skewed wallet balance surfaces as a non-zero difference.
	cache.Set(account, models.AccountTypeUser, 40)
	skewed, err := svc.GenerateReconciliationReport(ctx, account, models.AccountTypeUser, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, skewed.Reconciled)
	assert.Equal(t, int64(30), skewed.Difference)
}
