// Package app assembles the stores and services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/backup"
	"classvote.org/internal/cache"
	"classvote.org/internal/classes"
	"classvote.org/internal/config"
	"classvote.org/internal/election"
	"classvote.org/internal/httpapi"
	"classvote.org/internal/identity"
	"classvote.org/internal/notify"
	"classvote.org/internal/obs"
	"classvote.org/internal/store/pg"
	"classvote.org/internal/stream"
)

// App holds the wired services of one process.
type App struct {
	Config config.Config

	DB        *sql.DB
	Audit     *audit.Logger
	Users     *identity.Service
	Classes   *classes.Service
	Elections *election.Service
	Backups   *backup.Service
	Tokens    *auth.Tokens
	Stream    *stream.Stream
	Outbox    *notify.Outbox

	closers []func() error
}

// Build connects the configured backends. Without a DSN every store lives
// in memory; without a Redis address results are cached in process.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, Stream: stream.New(), Outbox: notify.NewOutbox(notify.DefaultOutboxWorkers)}

	var (
		users     identity.Store
		classDir  classes.Store
		elections election.Store
		logs      audit.Store
	)
	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = st.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.DB = st.DB()
		a.closers = append(a.closers, st.Close)
		users, classDir, elections, logs = st, st, st, st
	} else {
		obs.Warn("store_in_memory", map[string]any{"reason": "no DSN configured"})
		users, classDir, elections, logs = identity.NewInMemory(), classes.NewInMemory(), election.NewInMemory(), audit.NewMemoryStore()
	}

	var results election.ResultsCache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		client, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			obs.Warn("redis_unavailable", map[string]any{"addr": cfg.RedisAddr, "error": err.Error()})
		} else {
			results = cache.NewRedis(client, "classvote:")
			a.closers = append(a.closers, client.Close)
		}
	}

	var transport notify.Transport = notify.LogTransport{}
	if cfg.SMTPEnabled() {
		transport = notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  10 * time.Second,
		})
	}
	mailer := notify.NewMailer(transport, cfg.BaseURL)

	a.Audit = audit.New(logs)
	a.Users = identity.NewService(users, classDir, mailer, a.Audit, identity.WithCollegeDomain(cfg.CollegeDomain), identity.WithOutbox(a.Outbox))
	a.Elections = election.NewService(elections, classDir, a.Users, mailer, a.Audit,
		election.WithEvents(a.Stream),
		election.WithResultsCache(results, cfg.ResultsTTL),
		election.WithBaseURL(cfg.BaseURL),
		election.WithOutbox(a.Outbox),
	)
	a.Classes = classes.NewService(classDir, a.Users, a.Elections, a.Users, a.Audit)
	a.Backups = backup.NewService(backup.NewXLSXExporter(cfg.BackupDir, ""), a.Users, a.Classes, a.Elections, a.Audit)

	tokens, err := auth.NewTokens(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Tokens = tokens
	return a, nil
}

// Services returns the set the HTTP API is built from.
func (a *App) Services() httpapi.Services {
	return httpapi.Services{
		Users:     a.Users,
		Classes:   a.Classes,
		Elections: a.Elections,
		Backups:   a.Backups,
		Audit:     a.Audit,
		Tokens:    a.Tokens,
		Stream:    a.Stream,
	}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
