package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/broker"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/config"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/database"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/demux"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/export"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/handler"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/recording"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/registry"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/router"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/service"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/sink"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/storage"
	"github.com/yulithalta/lisa-research-platform-sub000/pkg/constants"
)

// API is the HTTP + WebSocket + MQTT capture orchestrator application.
type API struct {
	cfg     *config.Config
	srv     *http.Server
	db      *gorm.DB
	logger  *zap.Logger
	manager *broker.Manager
	cache   *broker.StateCache
	sup     *recording.Supervisor
	reg     *registry.Registry
	hub     *service.MonitorHub
}

// NewAPI creates the application: validates config, runs migrations, opens
// DB, wires the orchestrator components, builds the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	// Broker state cache is best effort: a broken cache file must not keep
	// the service from starting.
	stateCache, err := broker.OpenStateCache(cfg.BrokerStateFile)
	if err != nil {
		log.Printf("warning: broker state cache unavailable: %v", err)
		stateCache = nil
	}

	hub := service.NewMonitorHub(logger)

	topicCache, err := demux.NewTopicCache(cfg.TopicCacheTopics, cfg.TopicCacheMessages)
	if err != nil {
		return nil, fmt.Errorf("topic cache: %w", err)
	}
	var saver demux.DeviceSaver
	if stateCache != nil {
		saver = stateCache
	}
	devices := demux.NewDeviceRegistry(saver, logger)
	if stateCache != nil {
		if payload, err := stateCache.LoadDeviceList(); err == nil {
			devices.Restore(payload)
		}
	}

	deviceTopic := cfg.MQTTBaseTopic + "/" + constants.TopicDevices
	topicRouter := demux.NewRouter(topicCache, devices, deviceTopic, logger)
	topicRouter.SetTap(hub.BroadcastBusMessage)

	var recHub recording.Broadcaster
	if cfg.EnableRecording {
		recHub = hub
	}
	sup := recording.NewSupervisor(cfg.FFmpegPath, cfg.RecordingStopGrace, recHub, logger)

	layout := storage.Layout{Root: cfg.StorageRoot}
	newSink := func(sessionID, mqttDir, sensorDir string) registry.SessionSink {
		return sink.New(sessionID, mqttDir, sensorDir, cfg.SinkFlushMessages, cfg.SinkFlushInterval, logger)
	}

	manager := broker.NewManager(cfg.MQTTBrokers,
		broker.NewPahoDialer(cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword),
		stateCache, logger)
	manager.SetHandler(topicRouter.HandleMessage)
	manager.AddStaticTopic(cfg.MQTTBaseTopic+"/#", 1)
	manager.SetDiscoveryRequest(cfg.MQTTBaseTopic+"/"+constants.TopicDevicesRequest, []byte("{}"))
	if stateCache != nil {
		if topics, err := stateCache.LoadTopics(); err == nil && len(topics) > 0 {
			manager.SetResumeTopics(topics)
		}
	}

	reg := registry.New(layout, topicRouter, manager, sup, newSink, logger)

	sessionSvc := service.NewSessionService(db, reg, sup, layout, cfg.MQTTBaseTopic, logger)
	sup.SetExitFunc(sessionSvc.HandleRecordingExit)

	locator := export.NewLocator(layout, cfg.LegacyRecordDirs, logger)
	exportSvc := service.NewExportService(db, locator, export.NewArchiver(logger), export.NewTracker(), logger)

	sessionHandler := handler.NewSessionHandler(sessionSvc, exportSvc, logger)
	cameraHandler := handler.NewCameraHandler(sessionSvc, logger)
	inspect := handler.NewInspectHandler(topicCache, devices)
	monitorWS := handler.NewMonitorWSHandler(hub, logger)
	health := handler.NewHealthHandler(manager)

	r := router.New(sessionHandler, cameraHandler, inspect, monitorWS, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Archive downloads can take minutes for large sessions.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &API{
		cfg:     cfg,
		srv:     srv,
		db:      db,
		logger:  logger,
		manager: manager,
		cache:   stateCache,
		sup:     sup,
		reg:     reg,
		hub:     hub,
	}, nil
}

// Run starts the broker connection loop and the HTTP server, blocking until
// ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Sessions:      %s/sessions", base)
	log.Printf("  Topics:        %s/topics", base)
	log.Printf("  Monitor:       ws://%s:%s/ws/monitor", host, a.cfg.HTTPPort)

	go func() {
		if err := a.manager.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("broker: %v", err)
		}
	}()

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()

	// A live session cannot survive shutdown: cascade-stop it so encoders
	// terminate and the sink gets its final flush. The metadata row is
	// reconciled on next stop request (eventual consistency).
	if act := a.reg.Active(); act != nil {
		a.reg.Stop(act.ID)
	}
	a.sup.StopAll()
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.logger.Sync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
