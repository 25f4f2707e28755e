package api

import (
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/history"
	"github.com/highlightr/highlightr-agent/internal/retriever"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
	Backend  string `json:"backend,omitempty"`
	Clients  int    `json:"clients"`
}

type UploadPathRequest struct {
	Path string `json:"path"`
}

type UploadResponse struct {
	Generation uint64 `json:"generation"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}

type ClipResponse struct {
	ClipID string `json:"clipId"`
	Status string `json:"status"`
}

type ArtifactResponse struct {
	Handle      string `json:"handle"`
	VideoID     string `json:"video_id"`
	ClipID      string `json:"clip_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SizeLabel   string `json:"size_label"`
	URL         string `json:"url"`
	Warning     string `json:"warning,omitempty"`
	FetchedAt   string `json:"fetched_at"`
}

type SaveArtifactRequest struct {
	Dir string `json:"dir"`
}

type SaveArtifactResponse struct {
	Path string `json:"path"`
}

type VideoStatusResponse struct {
	VideoID   string   `json:"video_id"`
	Status    string   `json:"status"`
	SportType string   `json:"sport_type,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
}

type JobResponse struct {
	ID               string `json:"id"`
	VideoID          string `json:"video_id"`
	Text             string `json:"text"`
	SportType        string `json:"sport_type,omitempty"`
	TargetDuration   int    `json:"target_duration"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	ArtifactFilename string `json:"artifact_filename,omitempty"`
	ArtifactSize     int64  `json:"artifact_size,omitempty"`
	SavedPath        string `json:"saved_path,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type HistoryResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type TemplatesResponse struct {
	Templates []string `json:"templates"`
}

// PlayerRequest carries the argument of a player action. Value is seconds for seek, 0..1 for
// volume and the multiplier for rate; On selects fullscreen explicitly instead of toggling.
type PlayerRequest struct {
	Value *float64 `json:"value,omitempty"`
	On    *bool    `json:"on,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ArtifactToResponse(a *retriever.Artifact) ArtifactResponse {
	return ArtifactResponse{
		Handle:      a.Handle,
		VideoID:     a.VideoID,
		ClipID:      a.ClipID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
		SizeLabel:   clip.FormatFileSize(a.Size),
		URL:         a.URL,
		Warning:     a.Warning,
		FetchedAt:   a.FetchedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *history.Job) JobResponse {
	return JobResponse{
		ID:               j.ID,
		VideoID:          j.VideoID,
		Text:             j.Text,
		SportType:        j.SportType,
		TargetDuration:   j.TargetDuration,
		Status:           j.Status,
		Error:            j.Error,
		ArtifactFilename: j.ArtifactFilename,
		ArtifactSize:     j.ArtifactSize,
		SavedPath:        j.SavedPath,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        j.UpdatedAt.Format(time.RFC3339),
	}
}
