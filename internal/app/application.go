// Package app is the composition root: it builds every service from its
// stores and configuration and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/jobs"
	"github.com/studiodesk/studiodesk/internal/app/monitor"
	"github.com/studiodesk/studiodesk/internal/app/notify"
	"github.com/studiodesk/studiodesk/internal/app/realtime"
	"github.com/studiodesk/studiodesk/internal/app/services/activation"
	"github.com/studiodesk/studiodesk/internal/app/services/appointments"
	"github.com/studiodesk/studiodesk/internal/app/services/catalog"
	"github.com/studiodesk/studiodesk/internal/app/services/clients"
	"github.com/studiodesk/studiodesk/internal/app/services/invoices"
	"github.com/studiodesk/studiodesk/internal/app/services/messages"
	"github.com/studiodesk/studiodesk/internal/app/services/referrals"
	"github.com/studiodesk/studiodesk/internal/app/services/reminders"
	"github.com/studiodesk/studiodesk/internal/app/services/tenants"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/app/storage/memory"
	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/internal/app/tokenstore"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Job names registered with the scheduler.
const (
	JobReferralPayouts = "referral-payouts"
	JobTokenPurge      = "token-purge"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Owners        storage.OwnerStore
	Clients       storage.ClientStore
	Catalog       storage.CatalogStore
	Appointments  storage.AppointmentStore
	Accounts      storage.ClientAccountStore
	Referrals     storage.ReferralStore
	Invoices      storage.InvoiceStore
	Templates     storage.TemplateStore
	Notifications storage.NotificationStore
	Tokens        tokenstore.Store
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     *config.Config
	started time.Time

	Tenants      *tenants.Service
	Clients      *clients.Service
	Catalog      *catalog.Service
	Appointments *appointments.Service
	Activation   *activation.Service
	Referrals    *referrals.Service
	Invoices     *invoices.Service
	Messages     *messages.Service

	Hub       *realtime.Hub
	Scheduler *jobs.Scheduler
	Reminders *reminders.Dispatcher
	Monitor   *monitor.Monitor
}

// New builds a fully initialised application. shutdown is called when the
// monitor requests a restart; it normally cancels the root context of the
// process.
func New(stores Stores, cfg *config.Config, shutdown context.CancelFunc, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	loc, err := cfg.Reminders.TimeLocation()
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	if stores.Owners == nil {
		stores.Owners = mem
	}
	if stores.Clients == nil {
		stores.Clients = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Appointments == nil {
		stores.Appointments = mem
	}
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Referrals == nil {
		stores.Referrals = mem
	}
	if stores.Invoices == nil {
		stores.Invoices = mem
	}
	if stores.Templates == nil {
		stores.Templates = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if stores.Tokens == nil {
		stores.Tokens = tokenstore.NewMemory()
	}

	referralService := referrals.New(stores.Owners, stores.Referrals, referrals.Options{
		Threshold:    cfg.Referral.Threshold,
		MonthlyCents: cfg.Referral.MonthlyCents,
	}, log.Named("referrals"))
	tenantService := tenants.New(stores.Owners, referralService, tenants.Options{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
		Issuer:   cfg.Auth.Issuer,
	}, log.Named("tenants"))
	catalogService := catalog.New(stores.Catalog, stores.Appointments, log.Named("catalog"))

	hub := realtime.NewHub(cfg.Server.CORSOrigins, log.Named("realtime"))
	apptService := appointments.New(stores.Appointments, stores.Clients, stores.Catalog, loc, log.Named("appointments"))
	apptService.WithPublisher(hub)

	activationService := activation.New(stores.Tokens, stores.Accounts, stores.Clients, activation.Options{
		PublicURL:     cfg.Server.PublicURL,
		ActivationTTL: cfg.Tokens.ActivationTTL,
		LoginTTL:      cfg.Tokens.LoginTTL,
	}, log.Named("activation"))
	clientService := clients.New(stores.Clients, stores.Appointments, stores.Accounts, log.Named("clients"))
	clientService.WithTokenRevoker(activationService)
	clientService.WithBilling(stores.Invoices)
	clientService.WithNotifications(stores.Notifications)

	invoiceService := invoices.New(stores.Invoices, stores.Clients, stores.Catalog, stores.Appointments, loc, log.Named("invoices"))
	messageService := messages.New(stores.Templates, stores.Notifications, stores.Owners, stores.Clients, stores.Catalog, loc, log.Named("messages"))

	scheduler := jobs.NewScheduler(loc, log.Named("jobs"))
	if err := scheduler.Add(JobReferralPayouts, cfg.Referral.PayoutSchedule, func(ctx context.Context) error {
		_, err := referralService.GeneratePayments(ctx, referrals.PreviousPeriod(time.Now().In(loc)))
		return err
	}); err != nil {
		return nil, err
	}
	if err := scheduler.Add(JobTokenPurge, cfg.Tokens.PurgeSchedule, func(ctx context.Context) error {
		_, err := activationService.Purge(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	var dispatcher *reminders.Dispatcher
	if cfg.Reminders.Enabled {
		var sender notify.Sender = notify.NewLogSender(log.Named("notify"))
		if cfg.Reminders.WebhookURL != "" {
			sender = notify.NewWebhookSender(cfg.Reminders.WebhookURL, cfg.Reminders.WebhookKey)
		}
		dispatcher = reminders.NewDispatcher(apptService, sender, cfg.Reminders.Interval, cfg.Reminders.LeadTime, loc, log.Named("reminders")).
			WithTemplates(messageService).
			WithPortal(messageService)
	} else {
		log.Warn("reminders disabled")
	}

	started := time.Now()
	restarter := monitor.NewRestarter(shutdown, log.Named("monitor"))
	var (
		pinger   *monitor.Pinger
		watchdog *monitor.Watchdog
	)
	if cfg.Monitor.Enabled {
		pinger = monitor.NewPinger(cfg.Monitor.SelfURL, cfg.Monitor.PingInterval, cfg.Monitor.MaxFailures, restarter.Trigger, log.Named("monitor"))
		watchdog = monitor.NewWatchdog(pinger, cfg.Monitor.WatchdogInterval, cfg.Monitor.StaleAfter,
			cfg.Monitor.MemoryLimitMB*1024*1024, restarter.Trigger, log.Named("monitor"))
	}

	manager := system.NewManager()
	services := []system.Service{hub, scheduler, restarter}
	if dispatcher != nil {
		services = append(services, dispatcher)
	}
	if pinger != nil {
		services = append(services, pinger, watchdog)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		cfg:          cfg,
		started:      started,
		Tenants:      tenantService,
		Clients:      clientService,
		Catalog:      catalogService,
		Appointments: apptService,
		Activation:   activationService,
		Referrals:    referralService,
		Invoices:     invoiceService,
		Messages:     messageService,
		Hub:          hub,
		Scheduler:    scheduler,
		Reminders:    dispatcher,
		Monitor:      monitor.New(pinger, watchdog, restarter, started),
	}, nil
}

// Config returns the configuration the application was built with.
func (a *Application) Config() *config.Config {
	return a.cfg
}

// Services lists the registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	a.log.WithField("services", len(a.manager.Services())).Info("starting application")
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// RestartRequested reports whether the monitor asked for a process restart.
func (a *Application) RestartRequested() (bool, string) {
	return a.Monitor.Restarter.Triggered()
}
