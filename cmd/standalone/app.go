package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"juxction/core"
	"juxction/core/providers"
	"juxction/logger"
	"juxction/platform"
	"juxction/steam"
	"juxction/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg        *AppConfig
	store      core.KVStore
	auth       *providers.SupabaseAuth
	state      *core.UserState
	reconciler *core.Reconciler
	linked     *core.LinkedAccountSync
	library    *steam.Library
	registry   *prometheus.Registry
	log        *zap.Logger

	closers []func()
}

func newApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger.Named("app")}

	store, err := a.openStore()
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	crypto, err := newCrypto(cfg.Core.Crypto.EncryptionKey)
	if err != nil {
		a.close()
		return nil, err
	}
	if crypto == nil {
		a.log.Warn("no encryption key configured, session is stored unencrypted")
	}

	a.auth = providers.NewSupabaseAuth(&cfg.Supabase, store, crypto)
	a.closers = append(a.closers, a.auth.Close)

	repo, err := a.openAccounts(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	opener := platform.NewOpener()
	a.library = steam.NewLibrary(cfg.Steam, opener)
	a.linked = core.NewLinkedAccountSync(repo, steam.NewAccounts(cfg.Steam), nil)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.state = core.NewUserState()
	a.reconciler = core.NewReconciler(
		a.auth,
		core.NewProfileCache(store, cfg.Core.ProfileKey),
		a.linked,
		a.state,
		core.WithURLOpener(opener),
		core.WithOAuth(cfg.Core.OAuthProvider, cfg.Core.RedirectURI),
		core.WithMetrics(core.NewMetrics(a.registry)),
		core.WithInitialFetchTimeout(cfg.Core.InitialFetchTimeout),
	)
	a.closers = append(a.closers, a.reconciler.Close)
	return a, nil
}

func (a *app) openStore() (core.KVStore, error) {
	if strings.EqualFold(a.cfg.Cache.Backend, "memory") {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewSQLiteStore(a.cfg.Cache.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	a.closers = append(a.closers, func() { store.Close() })
	a.log.Debug("local store opened", zap.String("path", a.cfg.Cache.SQLitePath))
	return store, nil
}

func (a *app) openAccounts(ctx context.Context) (core.AccountRepository, error) {
	switch strings.ToLower(a.cfg.Accounts.Backend) {
	case "postgres":
		repo, err := storage.NewPostgresRepository(ctx, a.cfg.Accounts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case "ydb":
		repo, err := storage.NewYDBRepository(ctx, a.cfg.Accounts.YDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := repo.Close(context.Background()); err != nil {
				a.log.Warn("failed to close ydb", zap.Error(err))
			}
		})
		return repo, nil
	default:
		return storage.NewPostgRESTRepository(a.cfg.Supabase.URL, a.cfg.Supabase.AnonKey, a.cfg.Supabase.Timeout), nil
	}
}

func (a *app) server() *core.Server {
	return core.NewServer(core.ServerDeps{
		Reconciler: a.reconciler,
		State:      a.state,
		Sessions:   a.auth,
		Library:    a.library,
		Settings:   a.store,
		Gatherer:   a.registry,
	})
}

// start runs the reconciler startup and waits for the initial session.
func (a *app) start(ctx context.Context) error {
	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}
	a.reconciler.Wait()
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newCrypto uses a 32 byte key as is and derives one from anything else.
func newCrypto(key string) (*core.CryptoService, error) {
	if key == "" {
		return nil, nil
	}
	if len(key) == 32 {
		return core.NewCryptoService(key)
	}
	host, _ := os.Hostname()
	cs, err := core.NewCryptoServiceFromSecret(key, host)
	if err != nil {
		return nil, errors.Join(core.ErrInvalidEncryptionKey, err)
	}
	return cs, nil
}
