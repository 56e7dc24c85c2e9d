package di

import (
	"context"
	"fmt"

	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/handler"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/internal/worker"
	"github.com/yugalbansal1/eticket1/pkg/config"
	"github.com/yugalbansal1/eticket1/pkg/database"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	pkgredis "github.com/yugalbansal1/eticket1/pkg/redis"
	"github.com/yugalbansal1/eticket1/pkg/retry"
	"go.uber.org/zap"
)

// Ledger backends selectable with SETTLEMENT_LEDGER_BACKEND
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Container holds all dependencies for the settlement service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *pkgredis.Client

	// Repositories
	EventRepo  repository.EventRepository
	LedgerRepo repository.LedgerRepository
	TicketRepo repository.TicketRepository
	AlertRepo  repository.AlertRepository

	// Payments
	Callbacks *gateway.CallbackHub
	Providers *gateway.Registry

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	CatalogService    service.CatalogService
	TicketIssuer      service.TicketIssuer
	SettlementService service.SettlementService
	DashboardService  service.DashboardService

	// Workers
	ExpiryWorker *worker.ExpiryWorker

	// Handlers
	HealthHandler   *handler.HealthHandler
	EventHandler    *handler.EventHandler
	PurchaseHandler *handler.PurchaseHandler
	TicketHandler   *handler.TicketHandler
	WebhookHandler  *handler.WebhookHandler
	AdminHandler    *handler.AdminHandler
}

// NewContainer connects the configured infrastructure and wires every component.
// Postgres and Redis are optional; without them the in-memory repositories are used.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{}
	log := logger.Get()

	if cfg.Database.Enabled {
		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  database.DefaultPostgresConfig().ConnectTimeout,
			MaxRetries:      3,
			RetryInterval:   database.DefaultPostgresConfig().RetryInterval,
			EnableTracing:   cfg.OTel.Enabled,
		})
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		c.DB = db
		log.Info("Database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("max_conns", cfg.Database.MaxConns),
		)

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, repository.SchemaStatements()...); err != nil {
				c.Close()
				return nil, fmt.Errorf("schema migration failed: %w", err)
			}
		}
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: pkgredis.DefaultConfig().RetryInterval,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		c.Redis = client
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	if err := c.buildRepositories(ctx, cfg.Settlement.LedgerBackend); err != nil {
		c.Close()
		return nil, err
	}

	c.Callbacks = gateway.NewCallbackHub()
	providers, err := gateway.NewRegistryFromConfig(ctx, &cfg.Payment, c.Callbacks)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Providers = providers
	log.Info("Payment providers registered", zap.Any("providers", providers.Kinds()))

	c.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
			DeadLetter:  cfg.Kafka.DeadLetter,
		})
		if err != nil {
			log.Warn("Kafka connection failed, using no-op publisher", zap.Error(err))
		} else {
			c.EventPublisher = publisher
			log.Info("Kafka event publisher connected", zap.String("topic", cfg.Kafka.Topic))
		}
	}

	// Services
	c.CatalogService = service.NewCatalogService(c.EventRepo, c.LedgerRepo)
	c.TicketIssuer = service.NewTicketIssuer(c.TicketRepo, c.EventRepo, c.Providers, c.EventPublisher)
	c.SettlementService = service.NewSettlementService(
		c.EventRepo,
		c.LedgerRepo,
		c.Providers,
		c.Callbacks,
		c.TicketIssuer,
		c.AlertRepo,
		c.EventPublisher,
		&service.SettlementServiceConfig{
			ReservationTTL: cfg.Settlement.ReservationTTL,
			PaymentTimeout: cfg.Settlement.PaymentTimeout,
			MaxPerPurchase: cfg.Settlement.MaxPerPurchase,
			AttemptRetain:  cfg.Settlement.AttemptRetain,
			Retry:          retry.DefaultConfig(),
		},
	)
	c.DashboardService = service.NewDashboardService(c.EventRepo, c.TicketRepo, c.AlertRepo)

	c.ExpiryWorker = worker.NewExpiryWorker(c.LedgerRepo, c.SettlementService, c.EventPublisher, &worker.ExpiryWorkerConfig{
		ScanInterval: cfg.Settlement.SweepInterval,
		BatchSize:    cfg.Settlement.SweepBatchSize,
	})

	// Handlers
	checkers := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if c.DB != nil {
		checkers["database"] = c.DB
	}
	if c.Redis != nil {
		checkers["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checkers)
	c.EventHandler = handler.NewEventHandler(c.CatalogService)
	c.PurchaseHandler = handler.NewPurchaseHandler(c.SettlementService)
	c.TicketHandler = handler.NewTicketHandler(c.TicketIssuer)
	c.WebhookHandler = handler.NewWebhookHandler(c.SettlementService, cfg.Payment.StripeWebhookSecret)
	c.AdminHandler = handler.NewAdminHandler(c.DashboardService, c.SettlementService)

	return c, nil
}

func (c *Container) buildRepositories(ctx context.Context, ledgerBackend string) error {
	if c.DB != nil {
		pool := c.DB.Pool()
		c.EventRepo = repository.NewPostgresEventRepository(pool)
		c.TicketRepo = repository.NewPostgresTicketRepository(pool)
		c.AlertRepo = repository.NewPostgresAlertRepository(pool)
	} else {
		c.EventRepo = repository.NewMemoryEventRepository()
		c.TicketRepo = repository.NewMemoryTicketRepository()
		c.AlertRepo = repository.NewMemoryAlertRepository()
	}

	switch ledgerBackend {
	case "", LedgerMemory:
		c.LedgerRepo = repository.NewMemoryLedgerRepository()
	case LedgerPostgres:
		if c.DB == nil {
			return fmt.Errorf("ledger backend %q requires DATABASE_ENABLED", ledgerBackend)
		}
		c.LedgerRepo = repository.NewPostgresLedgerRepository(c.DB.Pool())
	case LedgerRedis:
		if c.Redis == nil {
			return fmt.Errorf("ledger backend %q requires REDIS_ENABLED", ledgerBackend)
		}
		ledger := repository.NewRedisLedgerRepository(c.Redis)
		if err := ledger.LoadScripts(ctx); err != nil {
			logger.Get().Warn("Failed to pre-load ledger scripts", zap.Error(err))
		}
		c.LedgerRepo = ledger
	default:
		return fmt.Errorf("unknown ledger backend %q", ledgerBackend)
	}

	logger.Get().Info("Ledger backend selected", zap.String("backend", ledgerBackend))
	return nil
}

// Close releases publishers and connections
func (c *Container) Close() {
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			logger.Get().Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if c.Providers != nil {
		c.Providers.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
