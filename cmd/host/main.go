package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/conversation-engine/internal/config"
	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/internal/handlers"
	"github.com/jwebster45206/conversation-engine/internal/logger"
	"github.com/jwebster45206/conversation-engine/internal/middleware"
	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/services/events"
	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
	"github.com/jwebster45206/conversation-engine/pkg/textfilter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	hostID := uuid.NewString()
	log.Info("Starting conversation host",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"storage_backend", cfg.StorageBackend,
		"host_id", hostID)

	store, err := storage.Open(cfg.StorageBackend, cfg.StorageDSN(), cfg.SceneID, logger.WithComponent(log, "storage"))
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := storage.WaitForConnection(storageCtx, store, log); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	// Broadcast and the chat log always go through Redis, whatever holds the
	// durable flags.
	rdb, err := storage.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	broadcaster := events.NewBroadcaster(rdb, cfg.SceneID, hostID, logger.WithComponent(log, "events"))
	textLog := chatlog.New(rdb, cfg.SceneID, cfg.ChatLogLimit, logger.WithComponent(log, "chatlog"))

	sc, err := storage.LoadScene(cfg.DataDir, cfg.SceneID, log)
	if err != nil {
		log.Error("Failed to load scene", "scene_id", cfg.SceneID, "error", err)
		os.Exit(1)
	}
	corpora := storage.NewFileCorpora(cfg.DataDir, logger.WithComponent(log, "corpora"))

	world := settings.New(store, settings.Snapshot{
		AurasEnabled:    true,
		DefaultRange:    cfg.DefaultRange,
		DefaultInterval: cfg.DefaultInterval,
		FloatingText:    true,
		ChatMessage:     true,
	}, cfg.MaxRange, logger.WithComponent(log, "settings"))

	stage := dispatch.NewStage(cfg.PresentationTTL)
	stageLog := logger.WithComponent(log, "stage")
	stage.OnChange(func(p dispatch.Presentation, visible bool) {
		stageLog.Debug("Presentation changed", "speaker_id", p.SpeakerID, "visible", visible)
	})
	dispatcher := dispatch.New(stage, broadcaster, textLog, logger.WithComponent(log, "dispatch"),
		dispatch.WithFilter(textfilter.ForRating(cfg.ContentRating)),
		dispatch.WithLabelOffset(cfg.LabelOffset),
		dispatch.WithPresentationTTL(cfg.PresentationTTL),
	)

	// other hosts of the scene speak on our stage too
	remoteCtx, remoteCancel := context.WithCancel(context.Background())
	defer remoteCancel()
	go func() {
		if err := broadcaster.SubscribeRemote(remoteCtx, dispatch.RemoteUtterances(stage, stageLog)); err != nil {
			log.Warn("Remote utterance subscription ended", "error", err)
		}
	}()

	eng, err := engine.New(engine.Options{
		Directory:    sc,
		Oracle:       scene.NewOracle(cfg.GridSize),
		Corpora:      corpora,
		Entities:     store,
		World:        store,
		Settings:     world,
		Dispatcher:   dispatcher,
		Notifier:     broadcaster,
		PollInterval: cfg.PollInterval,
		Logger:       log,
	})
	if err != nil {
		log.Error("Failed to create dialogue engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(context.Background()); err != nil {
		log.Error("Failed to start dialogue engine", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"storage":   store,
		"broadcast": broadcaster,
	}, log)
	mux.Handle("/health", healthHandler)

	auraHandler := handlers.NewAuraHandler(eng, log)
	mux.Handle("/v1/auras", auraHandler)
	mux.Handle("/v1/auras/", auraHandler)

	groupHandler := handlers.NewGroupHandler(eng, log)
	mux.Handle("/v1/groups", groupHandler)
	mux.Handle("/v1/groups/", groupHandler)

	mux.Handle("/v1/settings", handlers.NewSettingsHandler(world, eng, log))

	monitorHandler := handlers.NewMonitorHandler(eng, log)
	mux.Handle("/v1/monitor", monitorHandler)
	mux.Handle("/v1/monitor/", monitorHandler)

	sceneHandler := handlers.NewSceneHandler(sc, eng, log)
	mux.Handle("/v1/scene/entities", sceneHandler)
	mux.Handle("/v1/scene/entities/", sceneHandler)

	corporaHandler := handlers.NewCorporaHandler(corpora, log)
	mux.Handle("/v1/corpora", corporaHandler)
	mux.Handle("/v1/corpora/", corporaHandler)

	mux.Handle("/v1/log", handlers.NewLogHandler(textLog, log))
	mux.Handle("/v1/stage", handlers.NewStageHandler(stage, log))
	mux.Handle("/v1/events", handlers.NewEventsHandler(broadcaster, cfg.SceneID, log))

	handler := middleware.Logger(log)(mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: /v1/events streams
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	remoteCancel()
	eng.Stop()
	drained := make(chan struct{})
	go func() {
		eng.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("Dialogue items still running at shutdown")
	}
	stage.Clear()

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}
	if err := rdb.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	log.Info("Server exited")
}
