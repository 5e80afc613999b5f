// Package main runs the agenthud server: HTTP event ingress, the
// WebSocket broadcast hub and the filesystem watchers, all in one process
// bound to loopback.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/common/config"
	"github.com/jwtor7/agenthud/internal/common/httpmw"
	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/correlate"
	"github.com/jwtor7/agenthud/internal/event"
	gateway "github.com/jwtor7/agenthud/internal/gateway/websocket"
	"github.com/jwtor7/agenthud/internal/ingest"
	"github.com/jwtor7/agenthud/internal/version"
	planwatcher "github.com/jwtor7/agenthud/internal/watcher/plan"
	teamtaskwatcher "github.com/jwtor7/agenthud/internal/watcher/teamtask"
	transcriptwatcher "github.com/jwtor7/agenthud/internal/watcher/transcript"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agenthud...", zap.String("version", version.Version))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Correlation state shared between the receiver and the watchers
	tracker := correlate.NewToolCallTracker(log)
	subagents := correlate.NewSubagentMap()
	sessions := correlate.NewSessionSet()
	go tracker.RunSweeper(ctx)

	// 5. Broadcast hub
	hub := gateway.NewHub(log)
	go hub.Run(ctx)

	// 6. Watchers
	planW := planwatcher.New(cfg.Paths.PlansDir, cfg.Watcher.PlanPollInterval(), hub, log)
	transcriptW := transcriptwatcher.New(cfg.Paths.ProjectsDir, cfg.Watcher.ThinkingPollInterval(), hub, sessions, log)
	teamtaskW := teamtaskwatcher.New(cfg.Paths.TeamsDir, cfg.Paths.TasksDir, cfg.Watcher.TeamTaskPollInterval(), hub, log)
	go runWatcher(ctx, log, "plan", planW.Run)
	go runWatcher(ctx, log, "transcript", transcriptW.Run)
	go runWatcher(ctx, log, "teamtask", teamtaskW.Run)

	// 7. Hub callbacks: plan requests and the connect-time snapshot
	hub.SetRequestHandler(planW.HandlePlanRequest)
	hub.SetOnConnect(snapshotSender(sessions, subagents, planW, teamtaskW))

	// 8. HTTP server: event ingress, health and the WebSocket upgrade
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(log, "agenthud"))

	receiver := ingest.NewReceiver(hub, tracker, subagents, sessions, log)
	receiver.RegisterRoutes(router)

	wsHandler := gateway.NewHandler(hub, cfg.Server.StaticPort, version.Version, log)
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.Int("static_port", cfg.Server.StaticPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agenthud...")
	cancel() // stops the hub (closing clients with 1000), watchers and sweepers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	receiver.Close()
	subagents.Close()

	log.Info("agenthud stopped")
}

// runWatcher runs one watcher loop, logging any abnormal exit.
func runWatcher(ctx context.Context, log *logger.Logger, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher exited", zap.String("watcher", name), zap.Error(err))
	}
}

// snapshotSender composes the connect-time snapshot: known sessions, the
// subagent mapping when non-empty, the plan inventory and most recent plan,
// then team and task state.
func snapshotSender(
	sessions *correlate.SessionSet,
	subagents *correlate.SubagentMap,
	planW *planwatcher.Watcher,
	teamtaskW *teamtaskwatcher.Watcher,
) gateway.OnConnectFunc {
	return func(send func(ev event.Event)) {
		for _, s := range sessions.Snapshot() {
			send(&event.SessionStart{
				Meta:             event.NewMeta(event.TypeSessionStart),
				SessionID:        s.SessionID,
				WorkingDirectory: s.WorkingDirectory,
			})
		}

		if mapping := subagents.MappingEvent(); len(mapping.Mappings) > 0 {
			send(mapping)
		}

		if list := planW.PlanListEvent(); len(list.Plans) > 0 {
			send(list)
			if recent := planW.MostRecentPlanEvent(); recent != nil {
				send(recent)
			}
		}

		for _, ev := range teamtaskW.TeamEvents() {
			send(ev)
		}
		for _, ev := range teamtaskW.TaskEvents() {
			send(ev)
		}
	}
}
