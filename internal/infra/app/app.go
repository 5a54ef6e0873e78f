package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/port"
	auditinfra "github.com/KallebyX/nexus-auth/internal/infra/audit"
	"github.com/KallebyX/nexus-auth/internal/infra/config"
	"github.com/KallebyX/nexus-auth/internal/infra/database"
	"github.com/KallebyX/nexus-auth/internal/infra/logger"
	redisinfra "github.com/KallebyX/nexus-auth/internal/infra/redis"
	"github.com/KallebyX/nexus-auth/internal/infra/security"
	"github.com/KallebyX/nexus-auth/internal/infra/telemetry"
	postgresrepo "github.com/KallebyX/nexus-auth/internal/repository/postgres"
	redisrepo "github.com/KallebyX/nexus-auth/internal/repository/redis"
	"github.com/KallebyX/nexus-auth/internal/usecase"
)

// Application owns the wired engine and its infrastructure handles.
type Application struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *auditinfra.Producer
	tracer   *telemetry.TracerProvider
	cron     *cron.Cron
	metrics  *http.Server

	Auth     *usecase.AuthOrchestrator
	Sessions *usecase.SessionManager
	Roles    *usecase.RoleService
	RBAC     *usecase.RBACResolver
}

// New wires configuration, infrastructure, and the auth engine.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	var (
		sink     port.AuditSink
		producer *auditinfra.Producer
	)
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err = auditinfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, falling back to log sink", zap.Error(err))
			sink = auditinfra.NewZapSink(log)
		} else {
			sink = auditinfra.NewKafkaSink(producer, log)
		}
	} else {
		log.Info("kafka disabled, audit events go to the log")
		sink = auditinfra.NewZapSink(log)
	}

	issuer, err := security.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.App.Name, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	users := postgresrepo.NewUserRepository(pool)
	sessions := postgresrepo.NewSessionRepository(pool)
	roles := postgresrepo.NewRoleRepository(pool)
	permissions := postgresrepo.NewPermissionRepository(pool)
	permissionCache := redisrepo.NewPermissionCache(redisClient.Client(), cfg.Redis.PermissionPrefix)

	bootstrapper := usecase.NewBootstrapper(roles, permissions, log)
	if err := bootstrapper.EnsureSystemCatalog(ctx); err != nil {
		return nil, fmt.Errorf("seed system catalog: %w", err)
	}

	sessionManager := usecase.NewSessionManager(sessions, users, sink, usecase.SessionManagerConfig{
		SessionTTL:       cfg.Auth.SessionTTL,
		RememberTTL:      cfg.Auth.RememberSessionTTL,
		RefreshExtension: cfg.Auth.RefreshExtension,
		RetentionWindow:  cfg.Auth.SessionRetention,
		StoreTimeout:     cfg.Auth.StoreTimeout,
		RetryBackoff:     cfg.Auth.RetryBackoff,
	}, log)

	lockout := usecase.NewLockoutTracker(users, cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration, log)

	rbac := usecase.NewRBACResolver(roles, permissions, permissionCache, usecase.RBACResolverConfig{
		CacheTTL:     cfg.Redis.PermissionCacheTTL,
		StoreTimeout: cfg.Auth.StoreTimeout,
		RetryBackoff: cfg.Auth.RetryBackoff,
	}, log)

	hasher := security.NewArgon2Hasher()
	validator := passwordValidatorFromConfig(cfg.Password)

	auth := usecase.NewAuthOrchestrator(
		users,
		roles,
		sessionManager,
		lockout,
		rbac,
		hasher,
		issuer,
		validator,
		sink,
		usecase.AuthOrchestratorConfig{
			ResetTokenTTL: cfg.Auth.ResetTokenTTL,
			StoreTimeout:  cfg.Auth.StoreTimeout,
			RetryBackoff:  cfg.Auth.RetryBackoff,
		},
		log,
	)

	roleService := usecase.NewRoleService(roles, permissions, users, rbac, permissionCache, sink, cfg.Auth.StoreTimeout, log)

	return &Application{
		cfg:      cfg,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		Auth:     auth,
		Sessions: sessionManager,
		Roles:    roleService,
		RBAC:     rbac,
	}, nil
}

// Run starts the sweep scheduler and metrics endpoint, then blocks until the
// context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	schedule := a.cfg.Auth.SweepSchedule
	if schedule == "" {
		schedule = "@hourly"
	}

	a.cron = cron.New()
	_, err := a.cron.AddFunc(schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := a.Sessions.Sweep(sweepCtx); err != nil {
			a.logger.Error("session sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	a.cron.Start()
	a.logger.Info("session sweep scheduled", zap.String("schedule", schedule))

	if a.cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{
			Addr:    fmt.Sprintf(":%d", a.cfg.Telemetry.MetricsPort),
			Handler: mux,
		}
		go func() {
			a.logger.Info("metrics endpoint listening", zap.String("addr", a.metrics.Addr))
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	return a.shutdown()
}

func (a *Application) shutdown() error {
	a.logger.Info("shutting down")

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	return a.logger.Sync()
}

func passwordValidatorFromConfig(cfg config.PasswordSettings) *security.PasswordValidator {
	var rules []security.PasswordRule
	if cfg.MinLength > 0 {
		rules = append(rules, security.MinLengthRule(cfg.MinLength))
	}
	if cfg.RequireUppercase {
		rules = append(rules, security.RequireUppercaseRule())
	}
	if cfg.RequireLowercase {
		rules = append(rules, security.RequireLowercaseRule())
	}
	if cfg.RequireNumbers {
		rules = append(rules, security.RequireDigitRule())
	}
	if cfg.RequireSymbols {
		rules = append(rules, security.RequireSymbolRule())
	}
	if len(rules) == 0 {
		return security.DefaultPasswordValidator()
	}
	rules = append(rules, security.RequireStrengthRule(cfg.MinStrengthScore))
	return security.NewPasswordValidator(rules...)
}
