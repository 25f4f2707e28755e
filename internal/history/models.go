// Package history keeps a sqlite journal of uploaded videos and clip jobs, plus the agent's
// small key/value config (device id, auth token). The live workflow never reads it back;
// it is there for the history view and for restarts.
package history

import (
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

const (
	ConfigKeyDeviceID  = "device_id"
	ConfigKeyAuthToken = "auth_token"
)

type Video struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Job struct {
	ID               string    `json:"id"`
	VideoID          string    `json:"video_id"`
	Text             string    `json:"text"`
	SportType        string    `json:"sport_type"`
	TargetDuration   int       `json:"target_duration"`
	Status           string    `json:"status"`
	DownloadURL      string    `json:"download_url,omitempty"`
	Error            string    `json:"error,omitempty"`
	ArtifactFilename string    `json:"artifact_filename,omitempty"`
	ArtifactSize     int64     `json:"artifact_size,omitempty"`
	SavedPath        string    `json:"saved_path,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// JobFromRequest copies the persisted fields of a clip request.
func JobFromRequest(r *clip.ClipRequest) *Job {
	return &Job{
		ID:             r.ID,
		VideoID:        r.VideoID,
		Text:           r.Text,
		SportType:      r.SportType,
		TargetDuration: r.TargetDuration,
		Status:         r.Status,
		DownloadURL:    r.DownloadURL,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func VideoFromAsset(a *clip.VideoAsset) *Video {
	return &Video{
		ID:         a.ID,
		Filename:   a.Filename,
		Size:       a.Size,
		UploadedAt: a.UploadedAt,
	}
}
