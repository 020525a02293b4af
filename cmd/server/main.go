package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covenant/internal/audit"
	consenthandler "covenant/internal/consent/handler"
	consentmetrics "covenant/internal/consent/metrics"
	consentservice "covenant/internal/consent/service"
	consentstore "covenant/internal/consent/store"
	"covenant/internal/contracts"
	contractsmetrics "covenant/internal/contracts/metrics"
	"covenant/internal/contracts/tracer"
	"covenant/internal/exchange"
	exchangehandler "covenant/internal/exchange/handler"
	exchangemetrics "covenant/internal/exchange/metrics"
	identityhandler "covenant/internal/identity/handler"
	identityservice "covenant/internal/identity/service"
	identitystore "covenant/internal/identity/store"
	"covenant/internal/mailer"
	noticehandler "covenant/internal/notices/handler"
	noticeservice "covenant/internal/notices/service"
	noticestore "covenant/internal/notices/store"
	"covenant/internal/platform/config"
	"covenant/internal/platform/database"
	"covenant/internal/platform/health"
	"covenant/internal/platform/kafka/producer"
	"covenant/internal/platform/logger"
	"covenant/internal/platform/middleware"
	platformredis "covenant/internal/platform/redis"
	"covenant/internal/token"
)

// main wires the stores, services, and HTTP surface together and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing covenant consent manager",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
	)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthHandler := health.New("covenant", cfg.Environment)

	// Persistent stores. Without DATABASE_URL everything runs in-memory,
	// which is only useful for local development.
	var (
		db            *sql.DB
		identityStore identitystore.Store
		noticeStorage = noticestore.Store(noticestore.NewInMemory())
		consentStore  = consentstore.Store(consentstore.NewInMemory())
	)
	if cfg.DatabaseURL != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.DatabaseURL
		var err error
		db, err = database.Open(ctx, dbCfg)
		if err != nil {
			return err
		}
		defer db.Close()
		identityStore = identitystore.NewPostgres(db)
		noticeStorage = noticestore.NewPostgres(db)
		consentStore = consentstore.NewPostgres(db)
		healthHandler.RegisterCheck("postgres", func() error { return db.Ping() })
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		identityStore = identitystore.NewInMemory()
	}

	// Audit trail: persisted locally, mirrored to Kafka when brokers are
	// configured.
	auditOpts := []audit.PublisherOption{
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	}
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		auditOpts = append(auditOpts, audit.WithSink(audit.NewKafkaSink(kafkaProducer, cfg.AuditTopic)))
		healthHandler.RegisterCheck("kafka", func() error {
			if !kafkaProducer.Healthy(context.Background()) {
				return errors.New("kafka unreachable")
			}
			return nil
		})
	}
	auditor := audit.NewPublisher(audit.NewInMemoryStore(), auditOpts...)
	defer auditor.Close()

	tokens := token.NewService(cfg.JWTSigningKey, "covenant", cfg.TokenTTL)

	// Contract gateway with a shared response cache when Redis is around.
	gatewayOpts := []contracts.Option{
		contracts.WithMetrics(contractsmetrics.New()),
		contracts.WithTracer(tracer.NewOTel()),
		contracts.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
	}
	if cfg.RedisAddr != "" {
		redisClient, err := platformredis.NewClient(ctx, platformredis.Config{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer redisClient.Close()
		gatewayOpts = append(gatewayOpts,
			contracts.WithCache(contracts.NewRedisCache(redisClient, cfg.GatewayCacheTTL)))
		healthHandler.RegisterCheck("redis", func() error {
			return redisClient.Ping(context.Background()).Err()
		})
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					platformredis.ObservePool(redisClient)
				}
			}
		}()
	} else {
		gatewayOpts = append(gatewayOpts,
			contracts.WithCache(contracts.NewMemoryCache(cfg.GatewayCacheTTL)))
	}
	gateway := contracts.New(cfg.ContractServiceURL, cfg.CatalogServiceURL, log, gatewayOpts...)

	var mail mailer.Sender
	if cfg.SMTPAddr != "" {
		mail = mailer.NewSMTP(cfg.SMTPAddr, cfg.MailFrom)
		log.Info("smtp mailer configured",
			"addr", cfg.SMTPAddr,
			"templates", mailer.TemplateNames(),
		)
	} else {
		log.Warn("SMTP_ADDR not set, verification mails are recorded but not delivered")
		mail = mailer.NewRecorder()
	}

	sealer, err := exchange.NewSealer(cfg.AESKeyHex, cfg.RSAPrivateKeyPEM)
	if err != nil {
		return err
	}

	identitySvc := identityservice.NewService(identityStore, auditor, log)
	noticeSvc := noticeservice.New(gateway, noticeStorage, log)
	consentSvc := consentservice.New(
		consentStore, noticeStorage, identitySvc, tokens, mail, log, cfg.PublicBaseURL,
		consentservice.WithAudit(auditor),
		consentservice.WithMetrics(consentmetrics.New()),
	)
	relayOpts := []exchange.Option{
		exchange.WithAudit(auditor),
		exchange.WithMetrics(exchangemetrics.New()),
		exchange.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
	}
	if cfg.StrictTokenForward {
		relayOpts = append(relayOpts, exchange.WithStrictTokenForward())
	}
	relay := exchange.New(consentStore, identitySvc, sealer, log, relayOpts...)

	router := newRouter(cfg, log, healthHandler,
		identityhandler.New(identitySvc, tokens, log),
		noticehandler.New(noticeSvc, log),
		consenthandler.New(consentSvc, log),
		exchangehandler.New(relay, identitySvc, log),
		tokens,
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func newRouter(
	cfg config.Server,
	log *slog.Logger,
	healthHandler *health.Handler,
	identityH *identityhandler.Handler,
	noticeH *noticehandler.Handler,
	consentH *consenthandler.Handler,
	exchangeH *exchangehandler.Handler,
	tokens *token.Service,
) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	healthHandler.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public surface: signup, login, participant onboarding, and the
	// email confirmation deep link.
	identityH.Register(r)
	consentH.RegisterPublic(r)

	// Participant surface, authenticated by client credentials inside the
	// handlers.
	exchangeH.RegisterParticipant(r)

	// User surface behind bearer auth.
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(tokens, log))
		noticeH.Register(pr)
		consentH.RegisterProtected(pr)
		exchangeH.RegisterProtected(pr)
	})

	return r
}
