package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/studiodesk/studiodesk/internal/app"
	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/realtime"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

type testEnv struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "handler-test-secret"
	cfg.Reminders.Enabled = false
	cfg.Server.AuthRatePerSec = 1000
	cfg.Server.AuthBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.New(app.Stores{}, cfg, nil, logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = application.Stop(context.Background())
	})

	return &testEnv{t: t, app: application, handler: NewHandler(ctx, application, nil, logger.Discard())}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) registerOwner(username string) (string, string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[sessionResponse](e.t, rec)
	return session.Token, session.Owner.ID
}

func (e *testEnv) createClient(token string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/clients", token, map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"phone":      "0170 123",
		"email":      "ada@example.com",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[map[string]any](e.t, rec)["id"].(string)
}

func (e *testEnv) createService(token string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/services", token, map[string]any{
		"name":             "Massage",
		"duration_minutes": 60,
		"price_cents":      6000,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[map[string]any](e.t, rec)["id"].(string)
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format(appointment.DateLayout)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studiodesk_http_requests_total")
}

func TestOwnerAuthFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerOwner("studio")

	rec := env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"username": "studio", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"username": "studio", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[sessionResponse](t, rec).Token

	rec = env.do(http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "studio", decode[map[string]any](t, rec)["username"])

	rec = env.do(http.MethodGet, "/api/clients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[map[string]any](t, rec)["code"])

	rec = env.do(http.MethodPost, "/api/auth/register", "", map[string]any{"username": "studio", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/register", "", map[string]any{"username": "x", "password": "pw", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulingFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.registerOwner("studio")
	clientID := env.createClient(token)
	serviceID := env.createService(token)
	date := futureDate(2)

	rec := env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": date, "start_time": "09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[appointment.Appointment](t, rec)
	assert.Equal(t, "10:00", appt.EndTime)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)

	rec = env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": date, "start_time": "09:30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": date, "start_time": "10:00",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, "back-to-back slots do not overlap")

	rec = env.do(http.MethodGet, "/api/appointments?date="+date, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]appointment.Details](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "Massage", list[0].Service.Name)

	rec = env.do(http.MethodGet, "/api/appointments?start="+date+"&end="+futureDate(1), token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPatch, "/api/appointments/"+appt.ID+"/status", token, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPatch, "/api/appointments/"+appt.ID+"/status", token, map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/clients/"+clientID+"/appointments", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[appointment.ClientWithAppointments](t, rec).Appointments, 2)

	rec = env.do(http.MethodDelete, "/api/services/"+serviceID, token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "upcoming appointments block deletion")
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenA, _ := env.registerOwner("alpha")
	tokenB, _ := env.registerOwner("beta")
	clientID := env.createClient(tokenA)

	for _, path := range []string{
		"/api/clients/" + clientID,
		"/api/clients/" + clientID + "/export",
		"/api/clients/" + clientID + "/consents",
	} {
		rec := env.do(http.MethodGet, path, tokenB, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := env.do(http.MethodDelete, "/api/clients/"+clientID, tokenB, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/clients?q=ada", tokenB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]map[string]any](t, rec))

	rec = env.do(http.MethodGet, "/api/clients?q=ada", tokenA, nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestClientPortalFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.registerOwner("studio")
	clientID := env.createClient(token)

	rec := env.do(http.MethodPost, "/api/clients/"+clientID+"/activation?format=png", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
	assert.Contains(t, rec.Header().Get("X-Activation-Link"), "/activate?token=")

	rec = env.do(http.MethodPost, "/api/clients/"+clientID+"/activation", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	raw := decode[map[string]any](t, rec)["token"].(string)

	rec = env.do(http.MethodPost, "/api/client/activate", "", map[string]any{"token": raw, "username": "ada", "password": "analytical"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[map[string]any](t, rec)
	clientToken := session["token"].(string)

	rec = env.do(http.MethodPost, "/api/client/activate", "", map[string]any{"token": raw, "username": "ada2", "password": "analytical"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "activation tokens are single use")

	rec = env.do(http.MethodGet, "/api/client/me", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, clientID, decode[map[string]any](t, rec)["id"])

	rec = env.do(http.MethodGet, "/api/client/appointments", clientToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/clients", clientToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "client tokens do not open owner routes")

	rec = env.do(http.MethodGet, "/api/client/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "owner tokens do not open the portal")

	rec = env.do(http.MethodPost, "/api/client/login", "", map[string]any{"username": "ada", "password": "analytical", "pwa": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/client/link-login?username=ada&client_id="+clientID+"&token="+clientToken, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodDelete, "/api/clients/"+clientID+"/activation", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/client/me", clientToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked tokens stop working")
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerToken, _ := env.registerOwner("studio")

	rec := env.do(http.MethodGet, "/api/admin/owners", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.registerOwner("root")
	_, err := env.app.Tenants.PromoteAdmin(context.Background(), "root")
	require.NoError(t, err)
	rec = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"username": "root", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	adminToken := decode[sessionResponse](t, rec).Token

	rec = env.do(http.MethodGet, "/api/admin/owners", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = env.do(http.MethodPost, "/api/admin/payouts/2026-01", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/admin/payouts/pending", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPatch, "/api/admin/payouts/missing", adminToken, map[string]any{"status": "paid"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/jobs/"+app.JobTokenPurge+"/run", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/admin/jobs/nope/run", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/admin/monitor", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/admin/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntry](t, rec)
	require.NotEmpty(t, entries)
	assert.Equal(t, http.MethodPost, entries[0].Method)
}

func TestRestartWithToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerOwner("root")
	_, err := env.app.Tenants.PromoteAdmin(context.Background(), "root")
	require.NoError(t, err)
	rec := env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"username": "root", "password": "correct-horse"})
	adminToken := decode[sessionResponse](t, rec).Token

	rec = env.do(http.MethodPost, "/api/system/restart", "", map[string]any{"token": "made-up"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/restart-token", adminToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	restartToken := decode[map[string]any](t, rec)["token"].(string)

	rec = env.do(http.MethodPost, "/api/system/restart", "", map[string]any{"token": restartToken})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(http.MethodPost, "/api/system/restart", "", map[string]any{"token": restartToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "restart tokens are single use")
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.AuthRatePerSec = 1
		c.Server.AuthBurst = 2
	})

	var last int
	for i := 0; i < 3; i++ {
		last = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"username": "x", "password": "y"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestAuthRateLimit_ForwardedHeaderFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.AuthRatePerSec = 1
		c.Server.AuthBurst = 2
	})

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"x","password":"y"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 47)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCalendarStream(t *testing.T) {
	env := newTestEnv(t, nil)
	token, ownerID := env.registerOwner("studio")
	clientID := env.createClient(token)
	serviceID := env.createService(token)

	server := httptest.NewServer(env.handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/calendar/stream?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.app.Hub.Subscribers(ownerID) == 1
	}, time.Second, 10*time.Millisecond)

	rec := env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": futureDate(1), "start_time": "14:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, realtime.EventCreated, ev.Type)
}
