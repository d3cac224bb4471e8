package testutils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/api"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/service"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/wallet"
)

// TestContext bundles a fully wired router backed by the in-memory
// repository, mirroring the production wiring in main.
type TestContext struct {
	Router  *gin.Engine
	Repo    *repository.MemoryRepository
	Service service.Service
	Wallet  *wallet.Cache
}

// SetupTestContext creates a test server with all routes registered.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepository()
	idem := idempotency.NewStore(repo, time.Hour)
	cache := wallet.NewCache()
	logger := utils.NewLogger()
	svc := service.NewDefaultService(repo, idem, events.Fanout{cache}, cache, logger, service.Options{})

	router := gin.New()
	router.Use(api.RequestIDMiddleware())
	api.NewHandler(svc, logger).SetupRoutes(router)

	return &TestContext{
		Router:  router,
		Repo:    repo,
		Service: svc,
		Wallet:  cache,
	}
}

// PerformRequest executes an HTTP request against the router and returns
// the recorder. A non-nil body is JSON encoded.
func PerformRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// DecodeResponse unmarshals the recorded body into out.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}
