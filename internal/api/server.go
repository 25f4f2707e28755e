package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/history"
	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/playback"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/upload"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

// Session is the user session the API drives. *workflow.Workflow implements it.
type Session interface {
	StartUpload(f upload.File) (*upload.Transfer, error)
	CancelUpload()
	Submit(ctx context.Context, draft clip.ClipDraft) (*clip.ClipRequest, error)
	Download(ctx context.Context) (*retriever.Artifact, error)
	ResetJob()
	Reset()
	SourcePath(videoID string) (string, bool)
	Artifact(handle string) (*retriever.Artifact, bool)
	SaveArtifact(handle, dir string) (string, error)
	ReleaseArtifact(handle string) error
	VideoStatus(ctx context.Context, videoID string) (*backend.VideoStatus, error)
	DeleteVideo(ctx context.Context, videoID string) error
	Player() *player.Controller
	Snapshot() workflow.Snapshot
}

// HistoryReader lists journaled clip jobs.
type HistoryReader interface {
	ListJobs(ctx context.Context, limit int) ([]*history.Job, error)
}

// HealthChecker reports whether the clip backend answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Session        Session
	Repository     ConfigReader
	History        HistoryReader
	Backend        HealthChecker
	PlaybackServer playback.PlaybackService
	Hub            *Hub
	UploadDir      string
	UploadMaxBytes int64
	AllowedOrigins []string
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	// No read or write deadline: video uploads and media streams run as long as they need.
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
