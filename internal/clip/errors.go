package clip

import (
	"errors"
	"fmt"
)

// ErrValidation matches every input error rejected before anything reaches the backend.
var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type OversizeError struct {
	Filename string
	Size     int64
	Limit    int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("file %q is %s, limit is %s", e.Filename, FormatFileSize(e.Size), FormatFileSize(e.Limit))
}

func (e *OversizeError) Is(target error) bool {
	return target == ErrValidation
}

type UnsupportedFormatError struct {
	Filename  string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("file %q has unsupported format %q (allowed: mp4, avi, mov, mkv)", e.Filename, e.Extension)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrValidation
}

// NetworkError is a transport failure: the request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerRejectedError is an explicit failure status returned by the backend.
type ServerRejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server rejected request: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server rejected request: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are permanent.
func (e *ServerRejectedError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type ProcessingFailedError struct {
	ClipID  string
	Message string
}

func (e *ProcessingFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clip %s: processing failed", e.ClipID)
	}
	return fmt.Sprintf("clip %s: processing failed: %s", e.ClipID, e.Message)
}

type DownloadError struct {
	StatusCode int
	Body       string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("clip download failed: HTTP %d: %s", e.StatusCode, e.Body)
}

type EmptyArtifactError struct {
	Size        int64
	ContentType string
}

func (e *EmptyArtifactError) Error() string {
	return fmt.Sprintf("clip artifact too small: %d bytes (content-type %q)", e.Size, e.ContentType)
}

// UnexpectedContentTypeError is advisory: the artifact is kept and the warning is logged.
type UnexpectedContentTypeError struct {
	ContentType string
	Filename    string
}

func (e *UnexpectedContentTypeError) Error() string {
	return fmt.Sprintf("artifact %q has unexpected content-type %q", e.Filename, e.ContentType)
}

// IsTransient reports whether err is worth asking again about: transport failures and 5xx.
func IsTransient(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rejected *ServerRejectedError
	if errors.As(err, &rejected) {
		return rejected.IsRetryable()
	}
	return false
}
