package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/dispatcher"
	"github.com/procurio/approval-engine/internal/application/engine"
	"github.com/procurio/approval-engine/internal/application/resolver"
	"github.com/procurio/approval-engine/internal/application/service"
	"github.com/procurio/approval-engine/internal/domain/event"
	"github.com/procurio/approval-engine/internal/infrastructure/identity"
	"github.com/procurio/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/procurio/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/procurio/approval-engine/internal/infrastructure/worker"
	"github.com/procurio/approval-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase creates the database connection and transaction manager,
// running pending migrations when a migrations directory is configured.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		migrator := database.NewMigrator(db, logger)

		if err := migrator.RunMigrations(cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Role:     repository.NewRoleRepository(sqlDB, logger),
		Rule:     repository.NewRuleRepository(sqlDB, logger),
		Override: repository.NewOverrideRepository(sqlDB, logger),
		Workflow: repository.NewWorkflowRepository(sqlDB, logger),
		Audit:    repository.NewAuditRepository(sqlDB, logger),
		Version:  repository.NewVersionRepository(sqlDB, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher with a logging subscriber
// for each workflow event type.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.New(logger)

	for _, t := range []event.Type{
		event.TypeWorkflowCreated,
		event.TypeWorkflowAutoApproved,
		event.TypeWorkflowAdvanced,
		event.TypeWorkflowApproved,
		event.TypeWorkflowRejected,
		event.TypeWorkflowEscalated,
		event.TypeOverrideApplied,
		event.TypeMatrixChanged,
	} {
		eventType := t
		disp.Subscribe(eventType, "event-logger", func(ctx context.Context, evt *event.Event) error {
			logger.Info("Workflow event",
				zap.String("event_id", evt.ID),
				zap.String("event_type", eventType.String()))
			return nil
		})
	}

	return disp, nil
}

// EngineDeps bundles the dependencies of the workflow engine.
type EngineDeps struct {
	Repos      *RepositoryBundle
	TxManager  *sqlite.DB
	Identity   *identity.StaticDirectory
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideEngine creates the rule resolver and workflow engine.
func ProvideEngine(deps *EngineDeps) (*engine.Engine, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("engine dependencies are required")
	}

	res := resolver.New(deps.Repos.Rule, deps.Logger)

	eng := engine.New(
		deps.Repos.Workflow,
		deps.Repos.Rule,
		deps.Repos.Role,
		deps.Repos.Override,
		deps.Repos.Audit,
		deps.Identity,
		res,
		deps.TxManager,
		deps.Logger,
		engine.WithDispatcher(deps.Dispatcher),
	)
	return eng, nil
}

// ServiceDeps bundles the dependencies of the application services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager *sqlite.DB
	Engine    *engine.Engine
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Engine == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}

	matrix := service.NewMatrixService(
		deps.Repos.Role,
		deps.Repos.Rule,
		deps.Repos.Override,
		deps.Repos.Version,
		deps.Repos.Audit,
		deps.TxManager,
		deps.Logger,
	)

	return &ServiceBundle{
		Approval: service.NewApprovalService(deps.Engine, deps.Repos.Workflow, deps.Repos.Role, deps.Logger),
		Matrix:   matrix,
		Audit:    service.NewAuditService(deps.Repos.Audit),
		Export: service.NewExportService(
			matrix,
			deps.Repos.Role,
			deps.Repos.Rule,
			deps.Repos.Override,
			deps.Repos.Version,
			deps.Repos.Audit,
			deps.TxManager,
			deps.Logger,
		),
	}, nil
}

// WorkerDeps bundles the dependencies of the background workers.
type WorkerDeps struct {
	Repos         *RepositoryBundle
	Engine        *engine.Engine
	EscalationCfg *EscalationConfig
	Logger        *zap.Logger
}

// ProvideWorkers creates the worker manager and registers enabled workers.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Repos == nil || deps.Engine == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.EscalationCfg != nil && deps.EscalationCfg.Enabled {
		cfg := worker.DefaultEscalationWorkerConfig()
		if deps.EscalationCfg.PollInterval > 0 {
			cfg.PollInterval = deps.EscalationCfg.PollInterval
		}
		if deps.EscalationCfg.BatchSize > 0 {
			cfg.BatchSize = deps.EscalationCfg.BatchSize
		}
		if deps.EscalationCfg.SweepTimeout > 0 {
			cfg.SweepTimeout = deps.EscalationCfg.SweepTimeout
		}

		manager.Register(worker.NewEscalationWorker(
			cfg,
			deps.Repos.Workflow,
			deps.Repos.Rule,
			deps.Engine,
			deps.Logger,
		))
	}

	return manager, nil
}
