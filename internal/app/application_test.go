package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/realtime"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

func TestNewRegistersServices(t *testing.T) {
	cfg := config.Default()
	application, err := New(Stores{}, cfg, nil, logger.Discard())
	require.NoError(t, err)

	assert.Equal(t, []string{"realtime-hub", "jobs-scheduler", "monitor-restarter", "reminder-dispatcher"}, application.Services())
	assert.ElementsMatch(t, []string{JobReferralPayouts, JobTokenPurge}, application.Scheduler.Jobs())
	assert.Nil(t, application.Monitor.Pinger)

	cfg.Reminders.Enabled = false
	cfg.Monitor.Enabled = true
	application, err = New(Stores{}, cfg, nil, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"realtime-hub", "jobs-scheduler", "monitor-restarter", "monitor-pinger", "monitor-watchdog"}, application.Services())
	assert.Nil(t, application.Reminders)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Referral.PayoutSchedule = "every tuesday"
	_, err := New(Stores{}, cfg, nil, logger.Discard())
	assert.Error(t, err)
}

func TestBookingPublishesToHub(t *testing.T) {
	cfg := config.Default()
	cfg.Reminders.Enabled = false
	application, err := New(Stores{}, cfg, nil, logger.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	owner, err := application.Tenants.Register(ctx, "studio", "studio@example.com", "password123", "")
	require.NoError(t, err)
	c, err := application.Clients.Create(ctx, owner.ID, client.Client{FirstName: "Ada", LastName: "Lovelace", Phone: "0170 1"})
	require.NoError(t, err)
	svc, err := application.Catalog.Create(ctx, owner.ID, catalog.Service{Name: "Massage", DurationMinutes: 45})
	require.NoError(t, err)

	events, unsubscribe := application.Hub.Subscribe(owner.ID)
	defer unsubscribe()

	date := time.Now().AddDate(0, 0, 3).Format(appointment.DateLayout)
	appt, err := application.Appointments.Book(ctx, owner.ID, appointment.Appointment{
		ClientID: c.ID, ServiceID: svc.ID, Date: date, StartTime: "10:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "10:45", appt.EndTime)

	select {
	case ev := <-events:
		assert.Equal(t, realtime.EventCreated, ev.Type)
		assert.Equal(t, appt.ID, ev.AppointmentID)
	case <-time.After(time.Second):
		t.Fatal("no realtime event published")
	}
}

func TestDeletingClientRevokesTokens(t *testing.T) {
	application, err := New(Stores{}, config.Default(), nil, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	c, err := application.Clients.Create(ctx, "o1", client.Client{FirstName: "Ada", LastName: "L", Phone: "1"})
	require.NoError(t, err)
	issued, err := application.Activation.Issue(ctx, "o1", c.ID, 0)
	require.NoError(t, err)

	require.NoError(t, application.Clients.Delete(ctx, "o1", c.ID))
	_, err = application.Activation.Verify(ctx, issued.Token)
	assert.Error(t, err)
}

func TestRestartCancelsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application, err := New(Stores{}, config.Default(), cancel, logger.Discard())
	require.NoError(t, err)

	application.Monitor.Restarter.Trigger("test")
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown not called")
	}
	restarting, reason := application.RestartRequested()
	assert.True(t, restarting)
	assert.Equal(t, "test", reason)
}
