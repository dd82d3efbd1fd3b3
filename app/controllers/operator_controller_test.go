package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/engine"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/fakes"
)

type apiHarness struct {
	app    *fiber.App
	db     *fakes.DB
	router *fakes.Router
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	cfg := &config.Config{
		WorkerCount: 2,
		Retry: config.Retry{
			MaxRetries:    3,
			BackoffBase:   time.Minute,
			BackoffFactor: 2,
			BackoffMax:    time.Hour,
			Retention:     7 * 24 * time.Hour,
			BatchSize:     50,
		},
	}
	db := fakes.NewDB()
	router := fakes.NewRouter()
	e := engine.New(cfg, db.Repositories(), fakes.NewAAA(), router, clock.Fake(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)))

	app := fiber.New()
	NewOperatorController(e.Operator, e.Runner).RegisterRoutes(app.Group("/api/v1"))
	return &apiHarness{app: app, db: db, router: router}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (h *apiHarness) seed(t *testing.T, username string, withPolicy bool) *models.Subscriber {
	t.Helper()
	ctx := context.Background()
	sub := &models.Subscriber{Username: username, Password: "pw"}
	if withPolicy {
		p := &models.Policy{Name: "Basic", BandwidthDownMbps: 10, BandwidthUpMbps: 2, QuotaType: models.QuotaTypeUnlimited, IsActive: true}
		require.NoError(t, h.db.Repositories().Policy.Create(ctx, p))
		sub.PolicyID = &p.ID
	}
	require.NoError(t, h.db.Repositories().Subscriber.Create(ctx, sub))
	return sub
}

func TestActivateEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	sub := h.seed(t, "alice", true)

	status, _ := h.do(t, http.MethodPost, "/api/v1/subscribers/"+itoa(sub.ID)+"/activate", "")
	assert.Equal(t, http.StatusOK, status)
	_, ok := h.router.User("alice")
	assert.True(t, ok)

	status, body := h.do(t, http.MethodPost, "/api/v1/subscribers/"+itoa(sub.ID)+"/activate", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error"])
}

func TestActivateEndpointErrors(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.do(t, http.MethodPost, "/api/v1/subscribers/abc/activate", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := h.do(t, http.MethodPost, "/api/v1/subscribers/99/activate", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	sub := h.seed(t, "bob", false)
	status, _ = h.do(t, http.MethodPost, "/api/v1/subscribers/"+itoa(sub.ID)+"/activate", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestActivateEndpointProviderFailure(t *testing.T) {
	h := newAPIHarness(t)
	sub := h.seed(t, "carol", true)
	h.router.Fail("UpsertUser", errors.New("router offline"))

	status, body := h.do(t, http.MethodPost, "/api/v1/subscribers/"+itoa(sub.ID)+"/activate", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "sync_failed", body["error"])
	assert.NotZero(t, body["failure_id"])
	assert.Len(t, h.db.Failures(), 1)
}

func TestAssignPolicyEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	sub := h.seed(t, "dave", false)

	status, _ := h.do(t, http.MethodPut, "/api/v1/subscribers/"+itoa(sub.ID)+"/policy", `{"policy_id": 42}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodPut, "/api/v1/subscribers/"+itoa(sub.ID)+"/policy", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSyncAllRejectsUnknownScope(t *testing.T) {
	h := newAPIHarness(t)
	status, _ := h.do(t, http.MethodPost, "/api/v1/sync?scope=galaxy", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestListFailuresEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(t, http.MethodGet, "/api/v1/sync-failures?status=pending", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])

	status, _ = h.do(t, http.MethodGet, "/api/v1/sync-failures?status=bogus", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestJobEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/v1/jobs/usage-cycle/run", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "usage_cycle", body["job"])

	status, _ = h.do(t, http.MethodPost, "/api/v1/jobs/defrag/run", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodGet, "/api/v1/jobs/stats", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestVerifyAllRouterDown(t *testing.T) {
	h := newAPIHarness(t)
	h.router.Fail("ListSessions", errors.New("timeout"))

	status, body := h.do(t, http.MethodGet, "/api/v1/verify", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "provider_error", body["error"])
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
