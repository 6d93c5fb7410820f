package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow/internal/admincall"
	"callflow/internal/auth"
	"callflow/internal/calls"
	"callflow/internal/config"
	"callflow/internal/contact"
	"callflow/internal/events"
	"callflow/internal/exitpath"
	"callflow/internal/opsmode"
	"callflow/internal/queue"
	"callflow/internal/routing"
	"callflow/internal/session"
	"callflow/internal/vendorgw"
	"callflow/internal/workflow"
	"callflow/pkg/logger"
	"callflow/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	cipher, err := session.NewAESGCM(cfg.SessionKey())
	if err != nil {
		log.Error("session cipher init failed", "err", err)
		os.Exit(1)
	}

	defaultMode, err := opsmode.Parse(cfg.Routing.DefaultMode)
	if err != nil {
		log.Error("operating mode config invalid", "err", err)
		os.Exit(1)
	}
	modes := opsmode.NewRedisStore(rdb, defaultMode)

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.RabbitURL != "" {
		publisher, err = events.NewRabbitPublisher(cfg.Events.RabbitURL, cfg.Events.Exchange, log)
		if err != nil {
			log.Error("event publisher init failed", "err", err)
			os.Exit(1)
		}
	}
	defer publisher.Close()

	// Stores
	contacts := contact.NewPostgresStore(db)
	workflows := workflow.NewPostgresStore(db)
	adminStore := admincall.NewPostgresStore(db)
	queueStore := queue.NewPostgresStore(db)
	routingStore := routing.NewPostgresStore(db)
	auditRepo := vendorgw.NewPostgresRepo(db)

	// Domain services
	gateway := vendorgw.NewGateway("crm", cfg.Vendor.BaseURL, cfg.Vendor.Timeout, vendorgw.NewAuditor(auditRepo, log))
	engine := workflow.NewEngine(workflows, cipher, workflow.DefaultRegistry(), gateway, log, cfg.Engine.DefaultMaxRetries)
	queues := queue.NewResolver(queueStore, cfg.Routing.ClosureMessage)
	router := routing.NewResolver(routingStore, admincall.Directory{Store: adminStore}, cfg.Routing.ClosureMessage)
	dispatcher := exitpath.NewDispatcher(contacts, queues, publisher, log, cfg.Routing.ScreenPopURLTemplate)
	adminMachine := admincall.NewMachine(adminStore, log, cfg.Engine.DefaultMaxRetries)
	locks := calls.NewRedisLocker(rdb, cfg.Engine.TurnLockTTL)
	svc := calls.NewService(contacts, engine, workflows, router, adminMachine, dispatcher, modes, cipher, locks, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, svc, routeHandlers{
		Auth:      authManager,
		Modes:     modes,
		Workflows: workflows,
		Contacts:  contacts,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
