package container

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/application/service"
	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	infraLark "github.com/garyjia/recruit-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/memory"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/worker"
	"github.com/garyjia/recruit-workflow/pkg/database"
	"github.com/garyjia/recruit-workflow/pkg/utils"
)

// StoreBundle holds the repositories and the transaction manager sharing one backing store.
type StoreBundle struct {
	Applications port.ApplicationRepository
	Audit        port.AuditRepository
	TxManager    port.TransactionManager

	// DB is nil for the memory driver
	DB *database.DB
}

// ProvideStore opens the configured store. The sqlite driver runs pending migrations first.
func ProvideStore(cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &StoreBundle{
			Applications: store.Applications(),
			Audit:        store.Audit(),
			TxManager:    store,
		}, nil
	}

	db, err := OpenDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &StoreBundle{
		Applications: repository.NewApplicationRepository(db.DB, logger),
		Audit:        repository.NewAuditRepository(db.DB, logger),
		TxManager:    sqlite.NewTxManager(db.DB, logger),
		DB:           db,
	}, nil
}

// OpenDatabase opens the SQLite database and applies migrations.
func OpenDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := Migrate(context.Background(), db, cfg, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies pending migrations from MigrationsDir, or the embedded set when it is empty.
func Migrate(ctx context.Context, db *database.DB, cfg *DatabaseConfig, logger *zap.Logger) ([]database.Migration, error) {
	source := database.EmbeddedMigrations()
	if cfg.MigrationsDir != "" {
		source = os.DirFS(cfg.MigrationsDir)
	}

	applied, err := database.NewMigrator(db, logger).Up(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return applied, nil
}

// ProvideCatalog loads the transition table, falling back to the built-in one.
func ProvideCatalog(cfg *WorkflowConfig, logger *zap.Logger) (*domainwf.Catalog, error) {
	catalog, err := workflow.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	source := cfg.CatalogPath
	if source == "" {
		source = "built-in"
	}
	logger.Info("Status catalog loaded",
		zap.String("source", source),
		zap.Int("states", len(catalog.AllStates())),
		zap.Int("rules", len(catalog.Rules())))
	return catalog, nil
}

// ProvideBroadcaster creates the update broadcaster. It is not started.
func ProvideBroadcaster(cfg *BroadcastConfig, logger *zap.Logger) dispatcher.Broadcaster {
	return dispatcher.NewBroadcaster(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("broadcaster"))),
		dispatcher.WithSendTimeout(cfg.SendTimeout),
		dispatcher.WithSubscriberBuffer(cfg.SubscriberBuffer),
		dispatcher.WithInboxSize(cfg.InboxSize),
	)
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Store       *StoreBundle
	Catalog     *domainwf.Catalog
	Broadcaster dispatcher.Broadcaster
	Config      *WorkflowConfig
	Logger      *zap.Logger
}

// ProvideWorkflowEngine creates the engine publishing to the broadcaster.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil || deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	return workflow.NewEngine(
		deps.Store.Applications,
		deps.Store.Audit,
		deps.Store.TxManager,
		deps.Catalog,
		workflow.WithPublisher(deps.Broadcaster),
		workflow.WithStoreTimeout(deps.Config.StoreTimeout),
		workflow.WithLogger(deps.Logger.Named("workflow")),
	), nil
}

// ServiceBundle groups the read-side application services.
type ServiceBundle struct {
	Audit    service.AuditTrailService
	Exporter *service.HistoryExporter
}

// ProvideServices creates the audit trail services.
func ProvideServices(store *StoreBundle, catalog *domainwf.Catalog, logger *zap.Logger) *ServiceBundle {
	kv := utils.NewKVLogger(logger.Named("audit"))
	trail := service.NewAuditTrailService(store.Applications, store.Audit, catalog, kv)
	return &ServiceBundle{
		Audit:    trail,
		Exporter: service.NewHistoryExporter(trail, kv),
	}
}

// ProvideChatMessenger creates the Lark messenger, or nil when the relay is disabled.
func ProvideChatMessenger(cfg *LarkConfig, logger *zap.Logger) port.ChatMessenger {
	if !cfg.Enabled {
		return nil
	}
	sdkClient := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
	}, logger)
	return infraLark.NewMessenger(sdkClient, logger)
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Broadcaster dispatcher.Broadcaster
	Messenger   port.ChatMessenger
	LarkCfg     *LarkConfig
	Logger      *zap.Logger
}

// ProvideWorkers registers the broadcaster and, when enabled, the chat relay.
// The broadcaster is required; the relay is optional and may fail without stopping the service.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	manager := worker.NewManager(deps.Logger)

	// The broadcaster starts first so the relay can subscribe to a running fan-out
	manager.Require(deps.Broadcaster)

	if deps.Messenger != nil {
		relay := worker.NewChatRelay(deps.Broadcaster, deps.Messenger, deps.LarkCfg.ChatID, deps.Logger.Named("chat_relay"))
		manager.Register(relay)
	}

	return manager, nil
}
