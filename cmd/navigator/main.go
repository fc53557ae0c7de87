package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/config"
	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/gateway/api"
	gatewayws "github.com/agenticnav/navigator/internal/gateway/websocket"
	"github.com/agenticnav/navigator/internal/identity"
	"github.com/agenticnav/navigator/internal/session/store"
	"github.com/agenticnav/navigator/internal/stream"
	"github.com/agenticnav/navigator/internal/workflow"
	"github.com/agenticnav/navigator/internal/workflow/agents"
)

// Exit codes: 0 clean shutdown, 1 unrecoverable startup error, 2
// persistent external dependency failure at startup.
const (
	exitStartupError    = 1
	exitDependencyError = 2
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(exitStartupError)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitStartupError)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Navigator service...",
		zap.String("environment", cfg.Environment),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("model_type", cfg.Workflow.ModelType))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Resolve the process identity
	ids := identity.NewService(cfg.Environment, log)
	id := ids.CurrentIdentity(ctx)
	log.Info("Resolved service identity", zap.String("email", id.Email))

	// 5. Initialize the session store
	sessionStore, err := store.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize session store", zap.Error(err))
		if apperrors.IsKind(err, apperrors.KindStoreUnavailable) {
			os.Exit(exitDependencyError)
		}
		os.Exit(exitStartupError)
	}
	defer sessionStore.Close()

	// 6. Wire security: audit log, signer, policy
	audit := identity.NewAuditLog(log)
	security := identity.NewSecurityService(cfg, ids, audit, log)

	// 7. Initialize the A2A message bus
	bus := a2a.NewBus(security, log,
		a2a.WithQueueCapacity(cfg.Bus.QueueCapacity),
		a2a.WithHistoryCapacity(cfg.Store.HistoryCapacityPerSession),
		a2a.WithClockSkewTolerance(cfg.Bus.ClockSkewToleranceDuration()),
		a2a.WithArchiver(store.NewBusArchiver(sessionStore, log)),
	)

	// 8. Initialize the stream hub
	hub := stream.NewHub(cfg.Stream.BufferCapacity, log)

	// 9. Initialize the workflow executor with the built-in plug-ins
	executor := workflow.NewExecutor(bus, sessionStore, hub, agents.Registry(), cfg, log)

	// 10. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	wsHandler := gatewayws.NewHandler(executor, hub, log)
	router.GET("/ws/navigate", wsHandler.HandleNavigate)

	apiGroup := router.Group("/api/v1")
	api.SetupRoutes(apiGroup, sessionStore, bus, hub, audit, log)

	healthHandler := api.NewHandler(sessionStore, bus, hub, audit, log)
	router.GET("/health", healthHandler.HealthCheck)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Run the server until a shutdown signal arrives
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		case <-groupCtx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Service terminated with error", zap.Error(err))
		os.Exit(exitStartupError)
	}

	log.Info("Navigator service stopped")
}
