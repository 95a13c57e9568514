package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jacksonlee411/catalog-erp-conflicts/internal/logging"
	"github.com/jacksonlee411/catalog-erp-conflicts/internal/policyconfig"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/infrastructure/erp"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/infrastructure/persistence"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/services"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/authz"
	"go.uber.org/zap"
)

type catalogStore interface {
	ports.CanonicalStore
	Put(ctx context.Context, tenantID string, entityType string, entityID string, snap types.Snapshot) error
}

type stores struct {
	conflicts ports.ConflictStore
	catalog   catalogStore
	audit     ports.AuditLog
	dialect   persistence.Dialect
	// sqlDB is the database/sql handle goose migrates through.
	sqlDB *sql.DB
	close func()
}

// openStores opens the database resolveStoreTarget names. SQLite databases
// are migrated on open; Postgres needs `conflictctl migrate`.
func openStores(ctx context.Context, opts *RootOptions) (*stores, error) {
	target, err := resolveStoreTarget(opts.SQLitePath)
	if err != nil {
		return nil, err
	}
	if target.dialect == persistence.DialectSQLite {
		db, err := persistence.OpenSQLite(ctx, target.dsn)
		if err != nil {
			return nil, err
		}
		return &stores{
			conflicts: persistence.NewConflictSQLiteStore(db),
			catalog:   persistence.NewCatalogSQLiteStore(db),
			audit:     persistence.NewAuditSQLiteStore(db),
			dialect:   persistence.DialectSQLite,
			sqlDB:     db,
			close:     func() { _ = db.Close() },
		}, nil
	}

	pool, err := pgxpool.New(ctx, target.dsn)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	return &stores{
		conflicts: persistence.NewConflictPGStore(pool),
		catalog:   persistence.NewCatalogPGStore(pool),
		audit:     persistence.NewAuditPGStore(pool),
		dialect:   persistence.DialectPostgres,
		sqlDB:     db,
		close: func() {
			_ = db.Close()
			pool.Close()
		},
	}, nil
}

type app struct {
	facade *services.ConflictsFacade
	stores *stores
	logger *zap.Logger
}

func (a *app) Close() {
	a.stores.close()
	_ = a.logger.Sync()
}

func newLogger(opts *RootOptions) (*zap.Logger, error) {
	cfg := logging.ConfigFromEnv()
	if opts.Verbose {
		cfg.Level = "debug"
	}
	return logging.New(cfg)
}

func newAuthorizer() (services.Authorizer, error) {
	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}
	if mode == authz.ModeDisabled {
		return nil, nil
	}
	a, err := authz.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openApp wires the engine. needRemote is false for commands that never read
// the ERP, so they run without ERP_* configured.
func openApp(ctx context.Context, opts *RootOptions, needRemote bool) (*app, error) {
	logger, err := newLogger(opts)
	if err != nil {
		return nil, err
	}
	policies, policyPath, err := policyconfig.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load conflict policies: %w", err)
	}
	authorizer, err := newAuthorizer()
	if err != nil {
		return nil, fmt.Errorf("load authz: %w", err)
	}

	var remote ports.RemoteSource
	if needRemote {
		cfg, err := erp.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		remote = erp.NewRemoteSource(erp.NewClient(cfg, nil))
	}

	st, err := openStores(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("conflictctl ready",
		zap.String("store", string(st.dialect)),
		zap.String("policy_path", policyPath),
		zap.Bool("authz", authorizer != nil),
	)

	facade := services.NewConflictsFacade(services.FacadeDeps{
		Store:      st.conflicts,
		Canonical:  st.catalog,
		Remote:     remote,
		Audit:      st.audit,
		Policies:   policies,
		Authorizer: authorizer,
		Logger:     logger,
	})
	return &app{facade: facade, stores: st, logger: logger}, nil
}
