package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"zoho-image-sync/internal/api"
	"zoho-image-sync/internal/batch"
	"zoho-image-sync/internal/config"
	"zoho-image-sync/internal/database"
	"zoho-image-sync/internal/images"
	"zoho-image-sync/internal/repository"
	"zoho-image-sync/internal/service"
	"zoho-image-sync/internal/storage"
	"zoho-image-sync/internal/zoho"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	var store storage.ObjectStore
	if cfg.StorageEndpoint != "" {
		s3Store, err := storage.NewS3Store(context.Background(), cfg.StorageEndpoint, cfg.StorageRegion, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket)
		if err != nil {
			log.Error("failed to set up object storage", "error", err)
			os.Exit(1)
		}
		store = s3Store
	} else {
		log.Warn("no storage endpoint configured, uploads go to an in-memory store")
		store = storage.NewMemoryStore()
	}

	auth := zoho.NewAuth(cfg.ZohoClientID, cfg.ZohoClientSecret, cfg.ZohoRefreshToken)
	client := zoho.NewClient(auth, cfg.ZohoAccountOwner, cfg.ZohoAppLinkName, cfg.ZohoRateLimit, log)

	imageRepo := repository.NewImageRepository(db)
	runRepo := repository.NewSyncRunRepository(db)
	sessionRepo := repository.NewBatchSessionRepository(db)

	normalizer := images.NewNormalizer(cfg.ImageMaxDimension, cfg.ImageQuality, cfg.ImageMaxSizeMB, log)
	processor := service.NewRecordProcessor(imageRepo, client, store, normalizer, service.FieldMapping{
		TagFields:        cfg.TagFields,
		CategoryField:    cfg.CategoryField,
		DescriptionField: cfg.DescriptionField,
		JobCaptainField:  cfg.JobCaptainField,
		ProjectField:     cfg.ProjectField,
		DepartmentField:  cfg.DepartmentField,
	}, log)

	engine := service.NewSyncEngine(client, processor, runRepo, cfg.ZohoReportLinkName, log)
	signals := batch.NewSignalTable()
	controller := batch.NewController(client, processor, sessionRepo, signals, cfg.ZohoReportLinkName, log)

	handler := api.NewHandler(sessionRepo, runRepo, imageRepo, controller, engine, signals, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /batch-sync", handler.CreateBatchSession)
	mux.HandleFunc("GET /batch-sync", handler.ListBatchSessions)
	mux.HandleFunc("GET /batch-sync/{id}", handler.GetBatchSession)
	mux.HandleFunc("POST /batch-sync/{id}/start", handler.StartBatchSession)
	mux.HandleFunc("POST /batch-sync/{id}/pause", handler.PauseBatchSession)
	mux.HandleFunc("POST /batch-sync/{id}/cancel", handler.CancelBatchSession)
	mux.HandleFunc("POST /sync", handler.StartSync)
	mux.HandleFunc("GET /sync/{id}", handler.GetRun)
	mux.HandleFunc("GET /status", handler.Status)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
