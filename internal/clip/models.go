package clip

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"

	PhaseIdle         = "idle"
	PhaseTransferring = "transferring"
	PhaseSucceeded    = "succeeded"
	PhaseFailed       = "failed"

	SportAuto       = "auto"
	SportBasketball = "basketball"
	SportFootball   = "football"
	SportTennis     = "tennis"
	SportSwimming   = "swimming"
	SportAthletics  = "athletics"

	MinTextLength     = 10
	MinTargetDuration = 10
	MaxTargetDuration = 300

	DefaultTargetDuration = 60
	DefaultMaxUploadBytes = 100 * 1024 * 1024
)

// VideoAsset is a video accepted by the backend. It never changes after the upload succeeds.
type VideoAsset struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Source     string    `json:"-"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ClipDraft is what the user typed before anything is sent to the backend.
type ClipDraft struct {
	Text           string `json:"text"`
	SportType      string `json:"sportType"`
	TargetDuration int    `json:"targetDuration"`
}

type ClipRequest struct {
	ID             string    `json:"id"`
	VideoID        string    `json:"video_id"`
	Text           string    `json:"text"`
	SportType      string    `json:"sport_type"`
	TargetDuration int       `json:"target_duration"`
	Status         string    `json:"status"`
	DownloadURL    string    `json:"download_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type UploadProgress struct {
	Percent float64 `json:"percent"`
	Phase   string  `json:"phase"`
}

type PollResult struct {
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

var SportTypes = []string{
	SportAuto,
	SportBasketball,
	SportFootball,
	SportTennis,
	SportSwimming,
	SportAthletics,
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// PresetTemplates are the quick-pick request texts offered by the upload form.
var PresetTemplates = []string{
	"帮我剪出高亮瞬间并合成视频，总长度在1分钟内",
	"提取最精彩的进球/得分瞬间",
	"剪辑出最激动人心的比赛片段",
	"制作一个精彩集锦视频",
	"突出显示技术动作和精彩配合",
}

func NewID() string {
	return uuid.NewString()
}

// NewRequest builds the client-side placeholder for a draft. The ID is replaced once the
// backend issues a clip id.
func NewRequest(videoID string, draft ClipDraft) *ClipRequest {
	now := time.Now().UTC()
	sport := draft.SportType
	if sport == "" {
		sport = SportAuto
	}
	return &ClipRequest{
		ID:             NewID(),
		VideoID:        videoID,
		Text:           draft.Text,
		SportType:      sport,
		TargetDuration: draft.TargetDuration,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

func IsKnownSport(sport string) bool {
	for _, s := range SportTypes {
		if s == sport {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusError
}

// statusRank orders job statuses so regressions reported by the backend can be ignored.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusError:
		return 2
	default:
		return -1
	}
}

// AdvancesStatus reports whether moving from -> to respects pending → processing → terminal.
func AdvancesStatus(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	rf, rt := statusRank(from), statusRank(to)
	return rt >= 0 && rt > rf
}

func IsKnownStatus(status string) bool {
	return statusRank(status) >= 0
}
