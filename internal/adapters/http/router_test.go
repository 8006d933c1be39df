package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/app/orch"
	"github.com/dkeye/tempvoice/internal/config"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu         sync.Mutex
	masters    map[domain.CommunityID]domain.RoomID
	cleanups   []domain.CommunityID
	sweeps     int
	setErr     error
	disableErr error
	sweepErr   error
}

func newFakeService() *fakeService {
	return &fakeService{masters: make(map[domain.CommunityID]domain.RoomID)}
}

func (f *fakeService) SetMasterRoom(_ context.Context, c domain.CommunityID, r domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.masters[c] = r
	return nil
}

func (f *fakeService) Disable(_ context.Context, c domain.CommunityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disableErr != nil {
		return f.disableErr
	}
	delete(f.masters, c)
	return nil
}

func (f *fakeService) GetStatus(_ context.Context, c domain.CommunityID) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.masters[c]
	return domain.Status{CommunityID: c, MasterRoomID: m, Enabled: ok, LiveRoomCount: 3}, nil
}

func (f *fakeService) BulkCleanup(_ context.Context, c domain.CommunityID) (domain.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, c)
	return domain.SweepResult{Checked: 3, Deleted: 2}, nil
}

func (f *fakeService) Sweep(context.Context) (domain.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return domain.SweepResult{Checked: 5}, f.sweepErr
}

func (f *fakeService) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleanups)
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		AdminToken: "admin",
		Lifecycle:  config.LifecycleConfig{ConfirmTimeout: 20 * time.Second},
	}
}

// testClient replays cookies between requests like a browser would.
type testClient struct {
	t       *testing.T
	r       *gin.Engine
	cookies map[string]*http.Cookie
	token   string
}

func newTestClient(t *testing.T, cfg *config.Config, svc Service) *testClient {
	return &testClient{t: t, r: SetupRouter(cfg, svc), cookies: make(map[string]*http.Cookie), token: cfg.AdminToken}
}

func (tc *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	tc.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(tc.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	for _, c := range tc.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	tc.r.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		tc.cookies[c.Name] = c
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthzIsPublic(t *testing.T) {
	tc := newTestClient(t, testConfig(), newFakeService())
	tc.token = ""

	w := tc.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminTokenRequired(t *testing.T) {
	tc := newTestClient(t, testConfig(), newFakeService())

	tc.token = ""
	assert.Equal(t, http.StatusUnauthorized, tc.do(http.MethodGet, "/api/communities/c1/status", nil).Code)
	tc.token = "wrong"
	assert.Equal(t, http.StatusUnauthorized, tc.do(http.MethodGet, "/api/communities/c1/status", nil).Code)
	tc.token = "admin"
	assert.Equal(t, http.StatusOK, tc.do(http.MethodGet, "/api/communities/c1/status", nil).Code)
}

func TestSetMasterAndDisable(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	w := tc.do(http.MethodPut, "/api/communities/c1/master", SetMasterRequest{RoomID: "lobby"})
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[domain.Status](t, w)
	assert.Equal(t, domain.RoomID("lobby"), st.MasterRoomID)
	assert.True(t, st.Enabled)

	w = tc.do(http.MethodDelete, "/api/communities/c1/master", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[domain.Status](t, w).Enabled)

	assert.Equal(t, http.StatusBadRequest, tc.do(http.MethodPut, "/api/communities/c1/master", map[string]string{}).Code)
}

func TestCommandErrorMapping(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	svc.setErr = orch.ErrEphemeralMaster
	assert.Equal(t, http.StatusUnprocessableEntity, tc.do(http.MethodPut, "/api/communities/c1/master", SetMasterRequest{RoomID: "r"}).Code)
	svc.setErr = app.ErrMasterRoomMissing
	assert.Equal(t, http.StatusNotFound, tc.do(http.MethodPut, "/api/communities/c1/master", SetMasterRequest{RoomID: "r"}).Code)

	svc.disableErr = core.ErrNotConfigured
	assert.Equal(t, http.StatusNotFound, tc.do(http.MethodDelete, "/api/communities/c1/master", nil).Code)

	svc.sweepErr = app.ErrSweepInProgress
	assert.Equal(t, http.StatusConflict, tc.do(http.MethodPost, "/api/sweep", nil).Code)
}

func TestSweep(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	w := tc.do(http.MethodPost, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.SweepResult{Checked: 5}, decode[domain.SweepResult](t, w))
}

func TestCleanupConfirmFlow(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	w := tc.do(http.MethodPost, "/api/communities/c1/cleanup", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	pending := decode[CleanupPendingResponse](t, w)
	assert.NotEmpty(t, pending.ConfirmationID)
	assert.Equal(t, 3, pending.LiveRoomCount)
	assert.Zero(t, svc.cleanupCount(), "nothing runs before confirmation")

	w = tc.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: "bogus"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = tc.do(http.MethodPost, "/api/communities/c2/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	assert.Equal(t, http.StatusConflict, w.Code, "pending cleanup belongs to c1")

	w = tc.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.SweepResult{Checked: 3, Deleted: 2}, decode[domain.SweepResult](t, w))
	assert.Equal(t, 1, svc.cleanupCount())

	w = tc.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	assert.Equal(t, http.StatusConflict, w.Code, "confirmation is single use")
	assert.Equal(t, 1, svc.cleanupCount())
}

func TestCleanupConfirmationExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Lifecycle.ConfirmTimeout = time.Millisecond
	svc := newFakeService()
	tc := newTestClient(t, cfg, svc)

	w := tc.do(http.MethodPost, "/api/communities/c1/cleanup", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	pending := decode[CleanupPendingResponse](t, w)

	time.Sleep(10 * time.Millisecond)
	w = tc.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Zero(t, svc.cleanupCount())
}

func TestCleanupCancel(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	assert.Equal(t, http.StatusConflict, tc.do(http.MethodPost, "/api/communities/c1/cleanup/cancel", nil).Code)

	w := tc.do(http.MethodPost, "/api/communities/c1/cleanup", nil)
	pending := decode[CleanupPendingResponse](t, w)
	assert.Equal(t, http.StatusOK, tc.do(http.MethodPost, "/api/communities/c1/cleanup/cancel", nil).Code)

	w = tc.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, svc.cleanupCount())
}

func TestCleanupNeedsSession(t *testing.T) {
	svc := newFakeService()
	tc := newTestClient(t, testConfig(), svc)

	w := tc.do(http.MethodPost, "/api/communities/c1/cleanup", nil)
	pending := decode[CleanupPendingResponse](t, w)

	// A different client (no session cookie) cannot confirm it.
	other := newTestClient(t, testConfig(), svc)
	other.r = tc.r
	w = other.do(http.MethodPost, "/api/communities/c1/cleanup/confirm", ConfirmRequest{ConfirmationID: pending.ConfirmationID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCommandsAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.CommandLimit = 2
	cfg.CommandWindow = time.Minute
	tc := newTestClient(t, cfg, newFakeService())

	assert.Equal(t, http.StatusOK, tc.do(http.MethodPost, "/api/sweep", nil).Code)
	assert.Equal(t, http.StatusOK, tc.do(http.MethodPost, "/api/sweep", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, tc.do(http.MethodPost, "/api/sweep", nil).Code)
	// Reads are not limited.
	assert.Equal(t, http.StatusOK, tc.do(http.MethodGet, "/api/communities/c1/status", nil).Code)
}
