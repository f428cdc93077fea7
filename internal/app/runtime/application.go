// Package runtime turns a configuration into a running studiodesk server:
// it opens the configured stores, builds the application and serves HTTP.
package runtime

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	app "github.com/studiodesk/studiodesk/internal/app"
	"github.com/studiodesk/studiodesk/internal/app/httpapi"
	"github.com/studiodesk/studiodesk/internal/app/storage/postgres"
	"github.com/studiodesk/studiodesk/internal/app/tokenstore"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/internal/platform/migrations"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const minSecretBytes = 16

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	audit      *httpapi.AuditLog
	db         *sqlx.DB
	tokens     tokenstore.Store

	restartCtx context.Context
	cancel     context.CancelFunc
}

// NewApplication opens the configured stores and builds the application.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging.Logger())
	}
	if cfg.Auth.JWTSecret != "" {
		secret, err := parseSecret(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("auth.jwt_secret: %w", err)
		}
		cfg.Auth.JWTSecret = string(secret)
	}

	stores, db, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	restartCtx, cancel := context.WithCancel(context.Background())
	application, err := app.New(stores, cfg, cancel, log.Named("app"))
	if err != nil {
		cancel()
		closeStores(stores.Tokens, db, log)
		return nil, err
	}

	audit, err := httpapi.NewAuditLog(500, cfg.Server.AuditFile)
	if err != nil {
		cancel()
		closeStores(stores.Tokens, db, log)
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		audit:      audit,
		db:         db,
		tokens:     stores.Tokens,
		restartCtx: restartCtx,
		cancel:     cancel,
	}, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server. It returns when ctx is
// cancelled, a restart is requested or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	handlerCtx, stopHandler := context.WithCancel(ctx)
	defer stopHandler()
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           httpapi.NewHandler(handlerCtx, a.app, a.audit, a.log.Named("http")),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-a.restartCtx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// RestartRequested reports whether the monitor asked for a process restart.
func (a *Application) RestartRequested() bool {
	restarting, _ := a.app.RestartRequested()
	return restarting
}

// Shutdown gracefully stops the HTTP server, the background services and the
// stores.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.audit.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit file")
	}
	closeStores(a.tokens, a.db, a.log)
	a.cancel()
	return errors.Join(errs...)
}

func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	var (
		stores app.Stores
		db     *sqlx.DB
	)

	if cfg.Database.DSN != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return stores, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db.DB); err != nil {
				db.Close()
				return stores, nil, err
			}
		}
		pg := postgres.New(db)
		stores = app.Stores{
			Owners:        pg,
			Clients:       pg,
			Catalog:       pg,
			Appointments:  pg,
			Accounts:      pg,
			Referrals:     pg,
			Invoices:      pg,
			Templates:     pg,
			Notifications: pg,
		}
	} else {
		log.Warn("no database configured; using in-memory stores")
	}

	tokens, err := openTokenStore(ctx, cfg, db)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return stores, nil, err
	}
	stores.Tokens = tokens
	log.WithField("backend", cfg.Tokens.Backend).Info("token store ready")
	return stores, db, nil
}

func openTokenStore(ctx context.Context, cfg *config.Config, db *sqlx.DB) (tokenstore.Store, error) {
	switch strings.ToLower(cfg.Tokens.Backend) {
	case "", "memory":
		return tokenstore.NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return tokenstore.NewRedis(client), nil
	case "bolt":
		return tokenstore.OpenBolt(cfg.Bolt.Path)
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres token backend requires database.dsn")
		}
		return tokenstore.NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("unsupported token backend %q", cfg.Tokens.Backend)
	}
}

func closeStores(tokens tokenstore.Store, db *sqlx.DB, log *logger.Logger) {
	if tokens != nil {
		if err := tokens.Close(); err != nil {
			log.WithError(err).Warn("error closing token store")
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("error closing database connection")
		}
	}
}

// parseSecret accepts a raw secret or one prefixed with "base64:" or "hex:".
func parseSecret(value string) ([]byte, error) {
	var (
		secret []byte
		err    error
	)
	switch {
	case strings.HasPrefix(value, "base64:"):
		secret, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
	case strings.HasPrefix(value, "hex:"):
		secret, err = hex.DecodeString(strings.TrimPrefix(value, "hex:"))
	default:
		secret = []byte(value)
	}
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("secret must be at least %d bytes", minSecretBytes)
	}
	return secret, nil
}
