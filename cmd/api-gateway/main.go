package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/trn-registry-api/api/swagger"
	"github.com/noah-isme/trn-registry-api/internal/handler"
	internalmiddleware "github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	"github.com/noah-isme/trn-registry-api/internal/service"
	"github.com/noah-isme/trn-registry-api/pkg/cache"
	"github.com/noah-isme/trn-registry-api/pkg/config"
	"github.com/noah-isme/trn-registry-api/pkg/database"
	"github.com/noah-isme/trn-registry-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/trn-registry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/trn-registry-api/pkg/middleware/requestid"
)

// @title TRN Registry API
// @version 1.0.0
// @description Identity resolution, merge and TRN allocation for the teacher registry
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Events.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
	}

	app, err := buildServices(cfg, db, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to build services", zap.Error(err))
	}
	if app.publisher != nil {
		app.publisher.Start(ctx)
		defer app.publisher.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(app.metrics))

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(app.metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(app.auth), internalmiddleware.WithResponseMeta())
	app.routes.Register(api)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

type application struct {
	auth      *service.AuthService
	metrics   *service.MetricsService
	publisher *service.EventPublisher
	routes    handler.Routes
}

func buildServices(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	metrics := service.NewMetricsService()

	txManager := repository.NewTxManager(db)
	personRepo := repository.NewPersonRepository(db)
	mergeRepo := repository.NewMergeRepository(db)
	indexRepo := repository.NewSearchIndexRepository(db)
	rangeRepo := repository.NewIdentifierRangeRepository(db)
	tokenRepo := repository.NewTrnTokenRepository(db)
	taskRepo := repository.NewResolutionTaskRepository(db)
	bindingRepo := repository.NewExternalBindingRepository(db)
	eventRepo := repository.NewPersonEventRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var publisher *service.EventPublisher
	if cfg.Events.Enabled && redisClient != nil {
		stream := repository.NewEventStreamRepository(redisClient, cfg.Events.Stream)
		publisher = service.NewEventPublisher(eventRepo, stream, metrics, logr.Named("events"), service.EventPublisherConfig{
			Workers:       cfg.Events.Workers,
			MaxRetries:    cfg.Events.Retries,
			SweepInterval: cfg.Events.SweepInterval,
			BatchSize:     cfg.Events.SweepBatch,
		})
	}
	// A nil *EventPublisher must not reach the eventNotifier interfaces.
	var notifier interface{ Notify() }
	if publisher != nil {
		notifier = publisher
	}

	synonyms, err := service.LoadNameSynonyms(cfg.Matching.NameSynonymsFile)
	if err != nil {
		return nil, err
	}
	normalizer := service.NewNormalizer(service.WithNameSynonyms(synonyms))

	index := service.NewSearchIndexService(personRepo, indexRepo, db, cfg.Matching.CandidateLimit, logr.Named("search"))
	ids := service.NewIdentifierService(rangeRepo, txManager, db, logr.Named("identifiers"),
		service.WithLowWatermark(cfg.Identifiers.LowWatermark),
		service.WithIdentifierMetrics(metrics),
		service.WithIdentifierAudit(auditRepo))
	tokens := service.NewTrnTokenService(tokenRepo, db, cfg.TrnTokens.DigestKey, cfg.TrnTokens.TTL, auditRepo, logr.Named("tokens"))
	bindings := service.NewBindingService(bindingRepo, personRepo, eventRepo, txManager, db, logr.Named("bindings"),
		service.WithBindingNotifier(notifier), service.WithBindingAudit(auditRepo))
	persons := service.NewPersonService(personRepo, ids, index, eventRepo, txManager, db, logr.Named("persons"),
		service.WithPersonNotifier(notifier), service.WithPersonAudit(auditRepo))
	merges := service.NewMergeService(personRepo, mergeRepo, index, eventRepo, txManager, logr.Named("merges"),
		service.WithMergeNotifier(notifier), service.WithMergeAudit(auditRepo), service.WithMergeMetrics(metrics))
	tasks := service.NewResolutionTaskService(service.ResolutionTaskServiceParams{
		Tasks:    taskRepo,
		Persons:  persons,
		Merger:   merges,
		Bindings: bindings,
		Events:   eventRepo,
		Notifier: notifier,
		Tx:       txManager,
		Reader:   db,
		Audit:    auditRepo,
		Metrics:  metrics,
		Logger:   logr.Named("tasks"),
	})
	match := service.NewMatchService(service.MatchServiceParams{
		Normalizer: normalizer,
		Finder:     index,
		Tokens:     tokens,
		Bindings:   bindings,
		Tasks:      tasks,
		Persons:    personRepo,
		Notifier:   notifier,
		Tx:         txManager,
		Audit:      auditRepo,
		Metrics:    metrics,
		Logger:     logr.Named("match"),
	})

	taskHandler := handler.NewTaskHandler(tasks, match, nil)
	if cfg.Exports.Enabled {
		taskHandler = handler.NewTaskHandler(tasks, match, service.NewExportService(tasks, nil, nil, logr.Named("exports")))
	}

	auth := service.NewAuthService(logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "trn-registry",
		Audience:          []string{"trn-registry-api"},
	})

	accessLog := logr.Named("access")
	return &application{
		auth:      auth,
		metrics:   metrics,
		publisher: publisher,
		routes: handler.Routes{
			Match:       handler.NewMatchHandler(match),
			Tasks:       taskHandler,
			Persons:     handler.NewPersonHandler(persons, merges),
			Bindings:    handler.NewBindingHandler(bindings),
			Identifiers: handler.NewIdentifierHandler(ids),
			Audit: func(resource string) gin.HandlerFunc {
				return internalmiddleware.Audit(auditRepo, accessLog, models.AuditActionAPIAccess, resource)
			},
		},
	}, nil
}
