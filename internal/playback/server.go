// Package playback streams local media to the player with HTTP range support: the uploaded
// source while the clip is being made, then the fetched artifact.
package playback

import (
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
)

// videoTypes covers containers the system mime table may not know.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".avi": "video/x-msvideo",
}

// ContentTypeFor guesses a content type from the file extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath, contentType string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes filePath honoring Range and HEAD. An empty contentType is derived from the
// extension. A missing file is answered with 404 and no error.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	if contentType == "" {
		contentType = ContentTypeFor(filePath)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	span, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// A malformed header is ignored and the whole body is served.
		partial = false
	case err != nil:
		return err
	}
	if !partial {
		span = Span{Offset: 0, Length: size}
	}

	h.Set("Content-Length", strconv.FormatInt(span.Length, 10))
	status := http.StatusOK
	if partial {
		h.Set("Content-Range", span.Header(size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	if span.Offset > 0 {
		if _, err := file.Seek(span.Offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}
	if _, err := io.CopyN(w, file, span.Length); err != nil {
		s.logger.Debug("playback copy interrupted", "error", err, "offset", span.Offset)
	}
	return nil
}
