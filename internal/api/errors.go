package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/upload"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

const (
	CodeBadRequest = "BAD_REQUEST"
	CodeValidation = "VALIDATION_ERROR"
	CodeConflict   = "CONFLICT"
	CodeNotFound   = "NOT_FOUND"
	CodeBackend    = "BACKEND_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// classify maps a core error to an HTTP status and error code.
func classify(err error) (int, string) {
	var (
		transition *clipjob.TransitionError
		rejected   *clip.ServerRejectedError
		network    *clip.NetworkError
		processing *clip.ProcessingFailedError
		download   *clip.DownloadError
		empty      *clip.EmptyArtifactError
	)

	switch {
	case errors.Is(err, clip.ErrValidation), errors.Is(err, player.ErrUnsupportedRate):
		return http.StatusBadRequest, CodeValidation
	case errors.As(err, &transition),
		errors.Is(err, clipjob.ErrNotComplete),
		errors.Is(err, clipjob.ErrDownloading),
		errors.Is(err, clipjob.ErrSuperseded),
		errors.Is(err, upload.ErrSuperseded),
		errors.Is(err, upload.ErrCancelled),
		errors.Is(err, player.ErrNoSource):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, retriever.ErrUnknownHandle), errors.Is(err, workflow.ErrUnknownVideo):
		return http.StatusNotFound, CodeNotFound
	case errors.As(err, &rejected):
		if rejected.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, CodeNotFound
		}
		return http.StatusBadGateway, CodeBackend
	case errors.As(err, &network), errors.As(err, &processing), errors.As(err, &download), errors.As(err, &empty):
		return http.StatusBadGateway, CodeBackend
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeDomainError answers with the mapped status. Internal errors are logged and their
// text is not echoed to the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	WriteError(w, status, msg, code)
}
