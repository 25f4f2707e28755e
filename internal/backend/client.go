// Package backend talks to the clip-processing backend over its HTTP contract.
package backend

import (
	"context"
	"io"
	"net/http"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

// Client is the backend contract consumed by the agent's core.
type Client interface {
	UploadVideo(ctx context.Context, filename string, body io.Reader) (string, error)
	SubmitClip(ctx context.Context, videoID string, draft clip.ClipDraft) (string, error)
	ClipStatus(ctx context.Context, videoID, clipID string) (clip.PollResult, error)
	DownloadClip(ctx context.Context, videoID, clipID string) (*Download, error)
	VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error)
	DeleteVideo(ctx context.Context, videoID string) error
	Health(ctx context.Context) error
}

// Download is an open artifact response. The caller owns Body.
type Download struct {
	ContentType        string
	ContentDisposition string
	ContentLength      int64
	Body               io.ReadCloser
}

type VideoStatus struct {
	VideoID   string   `json:"videoId"`
	Status    string   `json:"status"`
	SportType string   `json:"sportType,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
}

type uploadResponse struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type submitRequest struct {
	Text           string `json:"text"`
	SportType      string `json:"sportType"`
	TargetDuration int    `json:"targetDuration"`
}

type submitResponse struct {
	ClipID  string `json:"clipId"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
