package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/upload"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&clip.ValidationError{Field: "text", Message: "required"}, http.StatusBadRequest, CodeValidation},
		{&clip.OversizeError{Filename: "a.mp4", Size: 10, Limit: 5}, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("rate: %w", player.ErrUnsupportedRate), http.StatusBadRequest, CodeValidation},
		{&clipjob.TransitionError{From: clipjob.StateCompleted, To: clipjob.StateSubmitting}, http.StatusConflict, CodeConflict},
		{clipjob.ErrDownloading, http.StatusConflict, CodeConflict},
		{upload.ErrSuperseded, http.StatusConflict, CodeConflict},
		{player.ErrNoSource, http.StatusConflict, CodeConflict},
		{retriever.ErrUnknownHandle, http.StatusNotFound, CodeNotFound},
		{workflow.ErrUnknownVideo, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("delete video: %w", &clip.ServerRejectedError{Op: "delete", StatusCode: 404}), http.StatusNotFound, CodeNotFound},
		{&clip.ServerRejectedError{Op: "submit", StatusCode: 503}, http.StatusBadGateway, CodeBackend},
		{&clip.ProcessingFailedError{ClipID: "clip-1"}, http.StatusBadGateway, CodeBackend},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range cases {
		status, code := classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
