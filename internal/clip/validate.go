package clip

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidateFile checks the size limit and the extension allowlist.
func ValidateFile(filename string, size, limit int64) error {
	if limit > 0 && size > limit {
		return &OversizeError{Filename: filename, Size: size, Limit: limit}
	}
	if !IsVideoFile(filename) {
		return &UnsupportedFormatError{Filename: filename, Extension: strings.ToLower(filepath.Ext(filename))}
	}
	return nil
}

// ValidateDraft rejects drafts the backend must never see. Text length is counted in
// characters, not bytes, so CJK descriptions are measured the way users type them.
func ValidateDraft(d ClipDraft) error {
	text := strings.TrimSpace(d.Text)
	if text == "" {
		return &ValidationError{Field: "text", Message: "description is required"}
	}
	if n := utf8.RuneCountInString(d.Text); n < MinTextLength {
		return &ValidationError{Field: "text", Message: fmt.Sprintf("description needs at least %d characters, got %d", MinTextLength, n)}
	}
	if d.TargetDuration < MinTargetDuration || d.TargetDuration > MaxTargetDuration {
		return &ValidationError{
			Field:   "targetDuration",
			Message: fmt.Sprintf("must be between %d and %d seconds, got %d", MinTargetDuration, MaxTargetDuration, d.TargetDuration),
		}
	}
	if d.SportType != "" && !IsKnownSport(d.SportType) {
		return &ValidationError{Field: "sportType", Message: fmt.Sprintf("unknown sport type %q", d.SportType)}
	}
	return nil
}

func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	const k = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	v := float64(bytes) / math.Pow(k, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizes[i]
}

// FormatDuration renders whole seconds as "45s" or "2m5s".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%ds", seconds/60, seconds%60)
}
