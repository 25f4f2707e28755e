package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/highlightr/highlightr-agent/internal/api"
	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/config"
	"github.com/highlightr/highlightr-agent/internal/db"
	"github.com/highlightr/highlightr-agent/internal/history"
	"github.com/highlightr/highlightr-agent/internal/logging"
	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/playback"
	"github.com/highlightr/highlightr-agent/internal/poller"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/ui"
	"github.com/highlightr/highlightr-agent/internal/upload"
	"github.com/highlightr/highlightr-agent/internal/watcher"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting highlightr agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := history.NewRepository(database.Conn())

	initCtx := context.Background()
	deviceID, err := history.EnsureConfig(initCtx, repo, history.ConfigKeyDeviceID, newDeviceID)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := history.EnsureConfig(initCtx, repo, history.ConfigKeyAuthToken, newAuthToken)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 HIGHLIGHTR AGENT v%-24s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s║\n", deviceID)
	fmt.Printf("║  Backend:    %-45s║\n", cfg.BackendURL())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	client := backend.NewHTTPClient(cfg.BackendURL(), cfg.BackendToken(), cfg.RequestTimeout(), logging.WithComponent(logger, "backend"))
	client.SetDeviceID(deviceID)

	store, err := retriever.NewStore(filepath.Join(cfg.CacheDir(), "artifacts"))
	if err != nil {
		return fmt.Errorf("failed to prepare artifact store: %w", err)
	}
	fetcher := retriever.New(client, store, logging.WithComponent(logger, "retriever"))
	defer fetcher.Close()

	uploads := upload.NewSession(client, upload.Options{
		MaxBytes: cfg.UploadMaxBytes(),
		Progress: upload.NewProgressSource(cfg.ProgressMode()),
	}, logging.WithComponent(logger, "upload"))

	loop := poller.New(poller.Config{
		Interval:    cfg.PollInterval(),
		MaxDuration: cfg.PollMaxDuration(),
		Backoff:     cfg.PollBackoff(),
		MaxInterval: cfg.PollMaxInterval(),
	}, logging.WithComponent(logger, "poller"))

	machine := clipjob.New(client, fetcher, loop, clipjob.Options{
		AutoDownload: cfg.AutoDownload(),
	}, logging.WithComponent(logger, "clipjob"))

	hub := api.NewHub(logging.WithComponent(logger, "events"), cfg.AllowedOrigins()...)
	controller := player.NewController(hub.Element(), player.Options{
		HideDelay: cfg.ControlsHideDelay(),
	}, logging.WithComponent(logger, "player"))
	hub.OnPointer(func(left bool) {
		if left {
			controller.PointerLeft()
			return
		}
		controller.PointerMoved()
	})

	recorder := history.NewRecorder(repo, logging.WithComponent(logger, "history"))
	defer recorder.Close()

	wf := workflow.New(workflow.Deps{
		Uploads:   uploads,
		Machine:   machine,
		Player:    controller,
		Videos:    client,
		Artifacts: fetcher,
		Journal:   recorder,
	}, logging.WithComponent(logger, "workflow"))
	defer wf.Close()
	wf.Subscribe(hub.PublishSession)

	uploadDir := filepath.Join(cfg.CacheDir(), "uploads")
	defer os.RemoveAll(uploadDir)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Session:        wf,
		Repository:     repo,
		History:        repo,
		Backend:        client,
		PlaybackServer: playback.NewServer(logger),
		Hub:            hub,
		UploadDir:      uploadDir,
		UploadMaxBytes: cfg.UploadMaxBytes(),
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if dir := cfg.WatchDir(); dir != "" {
		inbox, err := watcher.New(cfg.WatchSettle(), logging.WithComponent(logger, "watcher"))
		if err != nil {
			return fmt.Errorf("failed to create inbox watcher: %w", err)
		}
		defer inbox.Stop()
		inbox.OnReady(func(path string) {
			f, err := upload.FromPath(path)
			if err != nil {
				logger.Warn("inbox file unreadable", "path", logging.SanitizePath(path), "error", err)
				return
			}
			if _, err := wf.StartUpload(f); err != nil {
				logger.Warn("inbox upload rejected", "path", logging.SanitizePath(path), "error", err)
			}
		})
		if err := inbox.Watch(ctx, dir); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Logger:     logger,
			OnResetJob: wf.ResetJob,
			OnReset:    wf.Reset,
			OnQuit: func() {
				close(quitCh)
			},
		})
		wf.Subscribe(func(ev workflow.Event) {
			tray.Update(ev.Snapshot)
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newDeviceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate device ID: %w", err)
	}
	return id.String(), nil
}

func newAuthToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	return hex.EncodeToString(tokenBytes), nil
}
