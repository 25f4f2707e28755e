package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/upload"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

// multipartSlack covers the form framing around the video part.
const multipartSlack = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/session", sessionHandler(cfg))
		r.Post("/session/reset", resetHandler(cfg))
		r.Post("/uploads", uploadHandler(cfg))
		r.Delete("/uploads", cancelUploadHandler(cfg))
		r.Post("/clips", submitClipHandler(cfg))
		r.Post("/clips/download", downloadClipHandler(cfg))
		r.Get("/videos/{id}/status", videoStatusHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Get("/history", historyHandler(cfg))
		r.Get("/templates", templatesHandler())
		r.Post("/player/{action}", playerHandler(cfg))
		r.Get(workflow.MediaPrefix+"{id}", sourceMediaHandler(cfg))
		r.Head(workflow.MediaPrefix+"{id}", sourceMediaHandler(cfg))
		r.Get("/artifacts/{handle}", artifactMediaHandler(cfg))
		r.Head("/artifacts/{handle}", artifactMediaHandler(cfg))
		r.Delete("/artifacts/{handle}", releaseArtifactHandler(cfg))
		r.Post("/artifacts/{handle}/save", saveArtifactHandler(cfg))
		if cfg.Hub != nil {
			r.Get("/events", eventsHandler(cfg))
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		}
		if cfg.Backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			resp.Backend = "ok"
			if err := cfg.Backend.Health(ctx); err != nil {
				resp.Backend = "unreachable"
			}
		}
		if cfg.Hub != nil {
			resp.Clients = cfg.Hub.Clients()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

// resetHandler resets the whole session; ?keep_video=true only drops the clip job.
func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if keep, _ := strconv.ParseBool(r.URL.Query().Get("keep_video")); keep {
			cfg.Session.ResetJob()
		} else {
			cfg.Session.Reset()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			f   upload.File
			err error
		)

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "multipart/form-data":
			f, err = spoolMultipart(cfg, w, r)
			if errors.Is(err, clip.ErrValidation) {
				writeDomainError(w, cfg.Logger, err)
				return
			}
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
				return
			}
		case "application/json":
			var req UploadPathRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
				return
			}
			if req.Path == "" {
				WriteError(w, http.StatusBadRequest, "path is required", CodeBadRequest)
				return
			}
			f, err = upload.FromPath(req.Path)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "file not readable", CodeBadRequest)
				return
			}
		default:
			WriteError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json", CodeBadRequest)
			return
		}

		t, err := cfg.Session.StartUpload(f)
		if err != nil {
			if mediaType == "multipart/form-data" {
				os.Remove(f.Path)
			}
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if mediaType == "multipart/form-data" {
			go removeSpoolUnlessAccepted(t, f.Path, cfg.Logger)
		}

		WriteJSON(w, http.StatusAccepted, UploadResponse{
			Generation: t.Generation(),
			Filename:   f.Name,
			Size:       f.Size,
		})
	}
}

// spoolMultipart copies the "video" part into the upload dir so the transfer can outlive the
// request and the player can serve the source afterwards.
func spoolMultipart(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (upload.File, error) {
	if cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.UploadMaxBytes+multipartSlack)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return upload.File{}, fmt.Errorf("invalid multipart body")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return upload.File{}, fmt.Errorf("video part is required")
		}
		if err != nil {
			return upload.File{}, fmt.Errorf("invalid multipart body")
		}
		if part.FormName() != "video" {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if name == "." || name == string(filepath.Separator) {
			part.Close()
			return upload.File{}, fmt.Errorf("video part needs a filename")
		}
		path, err := spoolPart(cfg.UploadDir, name, cfg.UploadMaxBytes, part)
		part.Close()
		if err != nil {
			return upload.File{}, err
		}

		f, err := upload.FromPath(path)
		if err != nil {
			os.Remove(path)
			return upload.File{}, err
		}
		f.Name = name
		return f, nil
	}
}

// removeSpoolUnlessAccepted deletes the spooled copy once its transfer fails, is cancelled or
// is superseded. An accepted video keeps its spool as the player source.
func removeSpoolUnlessAccepted(t *upload.Transfer, path string, logger *slog.Logger) {
	if _, err := t.Wait(context.Background()); err == nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove upload spool", "path", path, "error", err)
	}
}

func spoolPart(dir, name string, limit int64, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare upload dir")
	}
	out, err := os.CreateTemp(dir, "upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", fmt.Errorf("failed to spool upload")
	}
	if n, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(out.Name())
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", &clip.OversizeError{Filename: name, Size: max(n, limit+1), Limit: limit}
		}
		return "", fmt.Errorf("failed to read video part")
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to spool upload")
	}
	return out.Name(), nil
}

func cancelUploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.CancelUpload()
		w.WriteHeader(http.StatusNoContent)
	}
}

func submitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft clip.ClipDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}

		req, err := cfg.Session.Submit(r.Context(), draft)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusCreated, ClipResponse{ClipID: req.ID, Status: req.Status})
	}
}

func downloadClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		art, err := cfg.Session.Download(r.Context())
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ArtifactToResponse(art))
	}
}

func videoStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Session.VideoStatus(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoStatusResponse{
			VideoID:   st.VideoID,
			Status:    st.Status,
			SportType: st.SportType,
			Duration:  st.Duration,
		})
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.DeleteVideo(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteJSON(w, http.StatusOK, HistoryResponse{Jobs: []JobResponse{}})
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", CodeBadRequest)
				return
			}
			limit = n
		}

		jobs, err := cfg.History.ListJobs(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list history", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list history", CodeInternal)
			return
		}

		resp := HistoryResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func templatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, TemplatesResponse{Templates: clip.PresetTemplates})
	}
}

func playerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := cfg.Session.Player()
		if p == nil {
			WriteError(w, http.StatusNotFound, "no player attached", CodeNotFound)
			return
		}

		var req PlayerRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
				return
			}
		}
		value := func() (float64, bool) {
			if req.Value == nil {
				WriteError(w, http.StatusBadRequest, "value is required", CodeBadRequest)
				return 0, false
			}
			return *req.Value, true
		}

		var err error
		switch action := chi.URLParam(r, "action"); action {
		case "play":
			err = p.Play()
		case "pause":
			err = p.Pause()
		case "toggle":
			err = p.TogglePlay()
		case "seek":
			v, ok := value()
			if !ok {
				return
			}
			err = p.Seek(v)
		case "volume":
			v, ok := value()
			if !ok {
				return
			}
			err = p.SetVolume(v)
		case "mute":
			err = p.Mute()
		case "unmute":
			err = p.Unmute()
		case "rate":
			v, ok := value()
			if !ok {
				return
			}
			err = p.SetPlaybackRate(v)
		case "fullscreen":
			if req.On != nil {
				err = p.SetFullscreen(*req.On)
			} else {
				err = p.ToggleFullscreen()
			}
		case "pointer":
			p.PointerMoved()
		case "pointer-leave":
			p.PointerLeft()
		default:
			WriteError(w, http.StatusNotFound, "unknown player action "+action, CodeNotFound)
			return
		}
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, p.State())
	}
}

func sourceMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "id")
		path, ok := cfg.Session.SourcePath(videoID)
		if !ok {
			WriteError(w, http.StatusNotFound, "video not found", CodeNotFound)
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, path, ""); err != nil {
			cfg.Logger.Error("playback error", "error", err, "video_id", videoID)
		}
	}
}

func artifactMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")
		art, ok := cfg.Session.Artifact(handle)
		if !ok {
			WriteError(w, http.StatusNotFound, "artifact not found", CodeNotFound)
			return
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": art.Filename}))
		if err := cfg.PlaybackServer.ServeFile(w, r, art.Path, art.ContentType); err != nil {
			cfg.Logger.Error("playback error", "error", err, "handle", handle)
		}
	}
}

func releaseArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.ReleaseArtifact(chi.URLParam(r, "handle")); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func saveArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveArtifactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		if req.Dir == "" || !filepath.IsAbs(req.Dir) {
			WriteError(w, http.StatusBadRequest, "dir must be an absolute path", CodeBadRequest)
			return
		}

		path, err := cfg.Session.SaveArtifact(chi.URLParam(r, "handle"), req.Dir)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SaveArtifactResponse{Path: path})
	}
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initial := workflow.Event{Kind: workflow.KindSnapshot, Snapshot: cfg.Session.Snapshot()}
		cfg.Hub.ServeWS(w, r, &initial)
	}
}
