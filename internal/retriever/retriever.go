// Package retriever downloads finished clips, validates them, and hands out releasable handles.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/logging"
)

// MinArtifactBytes is the smallest payload accepted as a real video.
const MinArtifactBytes = 1024

const URLPrefix = "/artifacts/"

var ErrUnknownHandle = errors.New("unknown artifact handle")

// Downloader is the part of the backend contract the retriever needs.
type Downloader interface {
	DownloadClip(ctx context.Context, videoID, clipID string) (*backend.Download, error)
}

// Artifact is a validated clip spooled to local disk.
type Artifact struct {
	Handle      string    `json:"handle"`
	VideoID     string    `json:"video_id"`
	ClipID      string    `json:"clip_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	Warning     string    `json:"warning,omitempty"`
	Path        string    `json:"-"`
	FetchedAt   time.Time `json:"fetched_at"`
}

type Retriever struct {
	client Downloader
	store  *Store
	logger *slog.Logger
}

func New(client Downloader, store *Store, logger *slog.Logger) *Retriever {
	return &Retriever{client: client, store: store, logger: logger}
}

// Fetch downloads the clip and spools it. Payloads under MinArtifactBytes are rejected; a
// non-video content type is only recorded as a warning on the artifact.
func (r *Retriever) Fetch(ctx context.Context, videoID, clipID string) (*Artifact, error) {
	logger := logging.WithClip(r.logger, videoID, clipID, 0)

	dl, err := r.client.DownloadClip(ctx, videoID, clipID)
	if err != nil {
		return nil, err
	}
	defer dl.Body.Close()

	filename := FilenameFromDisposition(dl.ContentDisposition)
	handle := uuid.NewString()

	path, size, err := r.store.spool(handle, filepath.Ext(filename), dl.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &clip.NetworkError{Op: "download clip", Err: err}
	}

	if size < MinArtifactBytes {
		os.Remove(path)
		emptyErr := &clip.EmptyArtifactError{Size: size, ContentType: dl.ContentType}
		logger.Error("clip artifact rejected", "size", size, "content_type", dl.ContentType)
		return nil, emptyErr
	}

	artifact := &Artifact{
		Handle:      handle,
		VideoID:     videoID,
		ClipID:      clipID,
		Filename:    filename,
		ContentType: dl.ContentType,
		Size:        size,
		URL:         URLPrefix + handle,
		Path:        path,
		FetchedAt:   time.Now().UTC(),
	}

	if !isVideoContentType(dl.ContentType) && !clip.IsVideoFile(filename) {
		warn := &clip.UnexpectedContentTypeError{ContentType: dl.ContentType, Filename: filename}
		artifact.Warning = warn.Error()
		logger.Warn("unexpected artifact content type", "error", warn)
	}

	r.store.put(artifact)
	logger.Info("clip artifact ready", "handle", handle, "filename", filename, "size", clip.FormatFileSize(size))
	return artifact, nil
}

// Release deletes the spooled bytes behind handle.
func (r *Retriever) Release(handle string) error {
	if handle == "" {
		return nil
	}
	if err := r.store.Remove(handle); err != nil {
		return err
	}
	r.logger.Debug("clip artifact released", "handle", handle)
	return nil
}

func (r *Retriever) Lookup(handle string) (*Artifact, bool) {
	return r.store.Get(handle)
}

// Save copies the artifact into dir without overwriting existing files and returns the
// written path.
func (r *Retriever) Save(handle, dir string) (string, error) {
	a, ok := r.store.Get(handle)
	if !ok {
		return "", ErrUnknownHandle
	}
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}

	src, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst, target, err := createUnique(dir, a.Filename)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("close %s: %w", target, err)
	}

	r.logger.Info("clip saved", "handle", handle, "path", target)
	return target, nil
}

func (r *Retriever) Close() error {
	return r.store.Clear()
}

func createUnique(dir, filename string) (*os.File, string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for i := 0; i < 1000; i++ {
		name := filename
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, target, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create %s: %w", target, err)
		}
	}
	return nil, "", fmt.Errorf("no free filename for %s in %s", filename, dir)
}

func isVideoContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/")
}
