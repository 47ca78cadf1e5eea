package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/isometry/adbridge/internal/auth"
	"github.com/isometry/adbridge/internal/bruteforce"
	"github.com/isometry/adbridge/internal/config"
	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/ldap"
	"github.com/isometry/adbridge/internal/logging"
	"github.com/isometry/adbridge/internal/metrics"
	"github.com/isometry/adbridge/internal/reconcile"
	"github.com/isometry/adbridge/internal/storage"
)

// app holds the wired components for one process.
type app struct {
	config *config.Config
	logger hclog.Logger

	db        *gorm.DB
	client    ldap.Client
	directory *ldap.Directory

	orchestrator *auth.Orchestrator
	toLocal      *dirsync.ToLocal
	toDirectory  *dirsync.ToDirectory

	registry *prometheus.Registry
	metrics  *metrics.Collector

	closers []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		config: cfg,
		logger: logging.New(cfg.Logging),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.config

	db, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, a.logger.Named("storage"))
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, func() error { return storage.Close(db) })
	store := storage.NewAccountStore(db)

	cc, err := cfg.LDAP.ConnectionConfig()
	if err != nil {
		return err
	}
	client, err := ldap.NewClient(ctx, cc, a.logger.Named("ldap"))
	if err != nil {
		return fmt.Errorf("create directory client: %w", err)
	}
	a.client = client
	a.closers = append(a.closers, client.Close)
	a.directory = ldap.NewDirectory(client, ldap.DirectoryOptions{
		SyncAttributes: cfg.Accounts.SyncAttributes,
		ServiceBound:   cc.HasAuthentication(),
	}, a.logger.Named("ldap"))

	reconciler, err := a.newReconciler(store)
	if err != nil {
		return err
	}

	guard, err := a.newGuard(ctx, db)
	if err != nil {
		return err
	}

	a.orchestrator = auth.NewOrchestrator(a.directory, guard, reconciler, store, auth.Config{
		AccountSuffixes:     cfg.Auth.AccountSuffixes,
		ExcludedUsernames:   cfg.Auth.ExcludedUsernames,
		PrimordialAdminID:   cfg.Auth.PrimordialAdminID,
		AuthorizeByGroup:    cfg.Auth.AuthorizeByGroup,
		AuthorizationGroups: cfg.Auth.AuthorizationGroups,
	}, a.logger.Named("auth"))

	a.toLocal = dirsync.NewToLocal(a.directory, store, reconciler, dirsync.ToLocalConfig{
		SecurityGroups:        cfg.SyncToLocal.SecurityGroups,
		SynchronizeDisabled:   cfg.SyncToLocal.SynchronizeDisabledAccounts,
		ImportDisabled:        cfg.SyncToLocal.ImportDisabledAccounts,
		SmartcardLoginEnabled: cfg.SyncToLocal.SmartcardLoginEnabled,
		RateLimit:             cfg.SyncToLocal.RateLimit,
		MaxExecutionTime:      cfg.SyncToLocal.MaxExecutionTime,
	}, a.logger.Named("sync"))

	a.toDirectory = dirsync.NewToDirectory(a.directory, store, dirsync.ToDirectoryConfig{
		Attributes:       cfg.SyncToDirectory.Attributes,
		Captured:         cfg.Accounts.SyncAttributes,
		RateLimit:        cfg.SyncToDirectory.RateLimit,
		MaxExecutionTime: cfg.SyncToDirectory.MaxExecutionTime,
	}, a.logger.Named("sync"))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.registry)
	metrics.RegisterPoolStats(a.registry, client.Stats)

	return nil
}

func (a *app) newReconciler(store *storage.AccountStore) (*reconcile.Reconciler, error) {
	accounts := a.config.Accounts

	emailPolicy, err := reconcile.ParseEmailPolicy(accounts.DuplicateEmailPrevention)
	if err != nil {
		return nil, err
	}
	mappings, err := reconcile.ParseRoleMappings(accounts.RoleEquivalentGroups)
	if err != nil {
		return nil, err
	}

	return reconcile.New(store, reconcile.Policy{
		AutoCreate:         accounts.AutoCreateUser,
		AutoUpdate:         accounts.AutoUpdateUser,
		AutoUpdatePassword: accounts.AutoUpdatePassword,
		DuplicateEmail:     emailPolicy,
		DefaultEmailDomain: accounts.DefaultEmailDomain,
	}, reconcile.NewRoleMapper(mappings, accounts.DefaultRole), a.logger.Named("reconcile")), nil
}

// newGuard selects the attempt store. A zero attempt limit disables
// throttling.
func (a *app) newGuard(ctx context.Context, db *gorm.DB) (*bruteforce.Guard, error) {
	cfg := a.config.BruteForce
	logger := a.logger.Named("bruteforce")

	notifier := bruteforce.MultiNotifier{bruteforce.LogNotifier{Logger: logger}}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, bruteforce.NewWebhookNotifier(cfg.WebhookURL, logger))
	}

	var repo bruteforce.Repository
	switch {
	case cfg.MaxLoginAttempts == 0:
		logger.Info("brute-force protection disabled")
	case cfg.Store == config.StoreRedis:
		rc, err := bruteforce.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		repo = bruteforce.NewRedisRepository(rc)
	case cfg.Store == config.StoreMemory:
		repo = bruteforce.NewMemoryRepository()
	default:
		repo = storage.NewLoginAttemptRepository(db)
	}

	return bruteforce.NewGuard(repo, bruteforce.GuardConfig{
		MaxAttempts: cfg.MaxLoginAttempts,
		BlockTime:   cfg.BlockTime,
	}, notifier, logger), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
