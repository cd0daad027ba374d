package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/audit"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
	"github.com/mirastream/streaming-platform-auth/internal/infra/database"
	"github.com/mirastream/streaming-platform-auth/internal/infra/federation"
	kafkainfra "github.com/mirastream/streaming-platform-auth/internal/infra/kafka"
	"github.com/mirastream/streaming-platform-auth/internal/infra/logger"
	redisinfra "github.com/mirastream/streaming-platform-auth/internal/infra/redis"
	"github.com/mirastream/streaming-platform-auth/internal/infra/security"
	"github.com/mirastream/streaming-platform-auth/internal/infra/telemetry"
	postgresrepo "github.com/mirastream/streaming-platform-auth/internal/repository/postgres"
	redisrepo "github.com/mirastream/streaming-platform-auth/internal/repository/redis"
	"github.com/mirastream/streaming-platform-auth/internal/transport/http/middleware"
	"github.com/mirastream/streaming-platform-auth/internal/transport/http/routes"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// Application owns the wired service graph and the process lifecycle:
// the HTTP server, the region sync consumer and the outbox relay.
type Application struct {
	cfg           *config.AppConfig
	engine        *gin.Engine
	logger        *zap.Logger
	pool          *pgxpool.Pool
	redis         *redisinfra.Client
	producer      *kafkainfra.Producer
	syncProducer  sarama.SyncProducer
	consumerGroup *kafkainfra.SyncConsumerGroup
	relay         *kafkainfra.OutboxRelay
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider)
	signingKID := cfg.JWT.SigningKID
	if signingKID == "" {
		signingKID = keyProvider.SigningKID()
	}

	refreshSigner, err := security.NewRefreshSigner(cfg.JWT.RefreshSecret, cfg.JWT.Issuer)
	if err != nil {
		return nil, fmt.Errorf("init refresh signer: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	principals := postgresrepo.NewPrincipalRepository(pool)
	outbox := postgresrepo.NewOutboxRepository(pool)

	tokenStore := redisrepo.NewTokenStore(redisClient.Client(), "")
	blacklist := redisrepo.NewBlacklistStore(redisClient.Client(), "")
	codeStore := redisrepo.NewCodeStore(redisClient.Client(), "")
	sessionStore := redisrepo.NewSessionStore(redisClient.Client(), "")
	dedupeStore := redisrepo.NewSyncDedupeStore(redisClient.Client(), "")

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitStore(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "auth:rl",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	auditLog := audit.NewLogger(log)

	var (
		syncPublisher port.RegionSyncPublisher
		producer      *kafkainfra.Producer
		syncProducer  sarama.SyncProducer
		consumerGroup *kafkainfra.SyncConsumerGroup
		relay         *kafkainfra.OutboxRelay
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			syncPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			syncPublisher = kafkainfra.NewSyncPublisher(producer, cfg, log)
			log.Info("kafka sync publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		syncPublisher = kafkainfra.NewStubPublisher(log)
	}

	issuerService := usecase.NewIssuerService(cfg, jwtManager, refreshSigner, signingKID, tokenStore, blacklist, principals, syncPublisher, log)
	policyProvider := usecase.NewPolicyProviderFromConfig(cfg)
	sessionService := usecase.NewSessionService(sessionStore, policyProvider, auditLog, log)
	passwordPolicy := security.NewPasswordPolicy()
	loginService := usecase.NewLoginService(cfg, principals, hasher, passwordPolicy, issuerService, sessionService, syncPublisher, auditLog, log)
	oidcService := usecase.NewOIDCService(cfg, codeStore, issuerService, sessionService, principals, log)

	var federationService *usecase.FederationService
	if cfg.Directory.GatewayURL != "" {
		gateway, err := federation.NewGateway(cfg.Directory, log)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("init directory gateway: %w", err)
		}
		federationService = usecase.NewFederationService(gateway, principals, issuerService, sessionService, syncPublisher, auditLog, log)
	} else {
		log.Info("directory gateway not configured, federated login disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 && producer != nil {
		regionSync := usecase.NewRegionSyncService(cfg.App.Region, dedupeStore, sessionStore, log)
		handler := kafkainfra.NewSyncConsumer(regionSync, log)
		consumerGroup, err = kafkainfra.NewSyncConsumerGroup(cfg.Kafka, handler, log)
		if err != nil {
			log.Warn("failed to init sync consumer group, peer events will not be applied", zap.Error(err))
			consumerGroup = nil
		}

		syncProducer, err = kafkainfra.NewSyncProducer(cfg.Kafka)
		if err != nil {
			log.Warn("failed to init outbox producer, outbox relay disabled", zap.Error(err))
			syncProducer = nil
		} else {
			relay = kafkainfra.NewOutboxRelay(outbox, syncProducer, cfg, log)
		}
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		JWTManager:  jwtManager,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Login:      loginService,
			Issuer:     issuerService,
			Sessions:   sessionService,
			OIDC:       oidcService,
			Federation: federationService,
		},
	})

	return &Application{
		cfg:           cfg,
		engine:        engine,
		logger:        log,
		pool:          pool,
		redis:         redisClient,
		producer:      producer,
		syncProducer:  syncProducer,
		consumerGroup: consumerGroup,
		relay:         relay,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.syncProducer != nil {
			_ = a.syncProducer.Close()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	backgroundErrCh := make(chan error, 2)
	if a.consumerGroup != nil {
		a.logger.Info("starting region sync consumer")
		go func() {
			if err := a.consumerGroup.Run(runCtx); err != nil {
				backgroundErrCh <- fmt.Errorf("run sync consumer: %w", err)
			}
		}()
		defer func() {
			_ = a.consumerGroup.Close()
		}()
	}
	if a.relay != nil {
		a.logger.Info("starting outbox relay")
		go func() {
			if err := a.relay.Run(runCtx); err != nil {
				backgroundErrCh <- fmt.Errorf("run outbox relay: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("region", a.cfg.App.Region),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-backgroundErrCh:
		return err
	}
}
