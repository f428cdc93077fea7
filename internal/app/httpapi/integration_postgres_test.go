//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/studiodesk/studiodesk/internal/app"
	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/storage/postgres"
	"github.com/studiodesk/studiodesk/internal/app/tokenstore"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/internal/platform/migrations"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Runs the owner and client flows against a migrated Postgres database.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, dsn, 5, 5, time.Minute)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Up(db.DB))

	store := postgres.New(db)
	cfg := config.Default()
	cfg.Auth.JWTSecret = "integration-secret-integration"
	cfg.Reminders.Enabled = false
	cfg.Server.AuthRatePerSec = 1000
	cfg.Server.AuthBurst = 1000

	application, err := app.New(app.Stores{
		Owners:       store,
		Clients:      store,
		Catalog:      store,
		Appointments: store,
		Accounts:     store,
		Referrals:    store,
		Tokens:       tokenstore.NewPostgres(db),
	}, cfg, nil, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	env := &testEnv{t: t, app: application, handler: NewHandler(ctx, application, nil, logger.Discard())}
	username := "studio-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	token, _ := env.registerOwner(username)
	clientID := env.createClient(token)
	serviceID := env.createService(token)
	date := futureDate(3)

	rec := env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": date, "start_time": "11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/appointments", token, map[string]any{
		"client_id": clientID, "service_id": serviceID, "date": date, "start_time": "11:30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/api/appointments?date="+date, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]appointment.Details](t, rec), 1)

	rec = env.do(http.MethodPost, "/api/clients/"+clientID+"/activation", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	activationToken := decode[map[string]any](t, rec)["token"].(string)

	rec = env.do(http.MethodPost, "/api/client/activate", "", map[string]any{
		"token": activationToken, "username": username + "-client", "password": "client-secret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	clientToken := decode[map[string]any](t, rec)["token"].(string)

	rec = env.do(http.MethodGet, "/api/client/appointments", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodDelete, "/api/clients/"+clientID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
