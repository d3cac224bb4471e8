package tests

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/api/testutils"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

func entryBody(accountID string, amount int64) models.CreateEntryRequest {
	entryType := models.EntryTypeCredit
	reason := models.ReasonPurchase
	if amount < 0 {
		entryType = models.EntryTypeDebit
		reason = models.ReasonRedemption
	}
	return models.CreateEntryRequest{
		AccountID:      accountID,
		AccountType:    models.AccountTypeUser,
		Amount:         amount,
		Type:           entryType,
		BalanceState:   models.BalanceAvailable,
		Reason:         reason,
		IdempotencyKey: uuid.New().String(),
	}
}

func TestCreateEntryEndpoint(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	account := uuid.New().String()

	w := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", entryBody(account, 100), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entry models.LedgerEntry
	testutils.DecodeResponse(t, w, &entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, int64(100), entry.Amount)
	assert.Equal(t, int64(100), entry.BalanceAfter)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestCreateEntryEndpointReplay(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	body := entryBody(uuid.New().String(), 100)

	first := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body, nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body, nil)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b models.LedgerEntry
	testutils.DecodeResponse(t, first, &a)
	testutils.DecodeResponse(t, second, &b)
	assert.Equal(t, a.ID, b.ID)

	// One entry stored, not two.
	q := testutils.PerformRequest(tc.Router, http.MethodGet, "/api/ledger/entries?accountId="+body.AccountID, nil, nil)
	require.Equal(t, http.StatusOK, q.Code)
	var page models.QueryEntriesResponse
	testutils.DecodeResponse(t, q, &page)
	assert.Equal(t, int64(1), page.TotalCount)
}

func TestCreateEntryEndpointKeyFromHeader(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	body := entryBody(uuid.New().String(), 100)
	body.IdempotencyKey = ""

	w := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body,
		map[string]string{"Idempotency-Key": uuid.New().String()})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateEntryEndpointMissingKey(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	body := entryBody(uuid.New().String(), 100)
	body.IdempotencyKey = ""

	w := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeResponse(t, w, &resp)
	assert.Equal(t, "INVALID_IDEMPOTENCY_KEY", resp.Code)
}

// A structured value in the key field must fail request parsing; it can
// never reach the lookup path as a query object.
func TestCreateEntryEndpointStructuredKeyRejected(t *testing.T) {
	tc := testutils.SetupTestContext(t)

	body := map[string]interface{}{
		"accountId":            uuid.New().String(),
		"accountType":          "user",
		"amount":               100,
		"type":                 "CREDIT",
		"balanceState":         "available",
		"reason":               "PURCHASE",
		"pointsIdempotencyKey": map[string]interface{}{"$ne": nil},
	}
	w := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeResponse(t, w, &resp)
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestCreateEntryEndpointSignMismatch(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	body := entryBody(uuid.New().String(), 100)
	body.Type = models.EntryTypeDebit

	w := testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeResponse(t, w, &resp)
	assert.Equal(t, "AMOUNT_SIGN_MISMATCH", resp.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	account := uuid.New().String()

	require.Equal(t, http.StatusOK,
		testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", entryBody(account, 100), nil).Code)
	require.Equal(t, http.StatusOK,
		testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", entryBody(account, -30), nil).Code)

	w := testutils.PerformRequest(tc.Router, http.MethodGet, "/api/accounts/"+account+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.BalanceSnapshot
	testutils.DecodeResponse(t, w, &snap)
	assert.Equal(t, int64(70), snap.AvailableBalance)
	assert.Equal(t, int64(70), snap.Total())
}

func TestBalanceEndpointBadAsOf(t *testing.T) {
	tc := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(tc.Router, http.MethodGet,
		"/api/accounts/acc-1/balance?asOf=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconciliationEndpoint(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	account := uuid.New().String()

	require.Equal(t, http.StatusOK,
		testutils.PerformRequest(tc.Router, http.MethodPost, "/api/ledger/entries", entryBody(account, 100), nil).Code)

	w := testutils.PerformRequest(tc.Router, http.MethodGet, "/api/accounts/"+account+"/reconciliation", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.ReconciliationReport
	testutils.DecodeResponse(t, w, &report)
	assert.True(t, report.Reconciled)
	assert.Equal(t, int64(100), report.CalculatedBalance)
}

func TestHealthEndpoint(t *testing.T) {
	tc := testutils.SetupTestContext(t)
	w := testutils.PerformRequest(tc.Router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
