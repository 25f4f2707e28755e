package ui

import (
	"testing"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

func TestStatusLine(t *testing.T) {
	asset := &clip.VideoAsset{ID: "vid-1", Filename: "match.mp4"}
	processing := &clip.ClipRequest{ID: "clip-1", Status: clip.StatusProcessing}
	pending := &clip.ClipRequest{ID: "clip-1", Status: clip.StatusPending}

	cases := []struct {
		name string
		snap workflow.Snapshot
		want string
	}{
		{"idle", workflow.Snapshot{}, "Idle"},
		{"uploading", workflow.Snapshot{Upload: clip.UploadProgress{Phase: clip.PhaseTransferring, Percent: 42.4}}, "Uploading 42%"},
		{"upload failed", workflow.Snapshot{Upload: clip.UploadProgress{Phase: clip.PhaseFailed}}, "Upload failed"},
		{"video ready", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateIdle, Asset: asset}}, "Video ready"},
		{"submitting", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateSubmitting, Asset: asset}}, "Submitting request"},
		{"pending", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StatePolling, Asset: asset, Request: pending}}, "Waiting for backend"},
		{"processing", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StatePolling, Asset: asset, Request: processing}}, "Generating clip"},
		{"downloading", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateCompleted, Asset: asset, Downloading: true}}, "Downloading clip"},
		{"download failed", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateCompleted, Asset: asset, ArtifactError: "empty"}}, "Download failed"},
		{"ready", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateCompleted, Asset: asset, Artifact: &retriever.Artifact{Handle: "h"}}}, "Clip ready"},
		{"failed", workflow.Snapshot{Job: clipjob.Snapshot{State: clipjob.StateFailed, Asset: asset}}, "Failed"},
	}

	for _, tc := range cases {
		if got := StatusLine(tc.snap); got != tc.want {
			t.Errorf("%s: StatusLine() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestUpdateBeforeReady(t *testing.T) {
	tray := NewTray(TrayConfig{})
	tray.Update(workflow.Snapshot{Upload: clip.UploadProgress{Phase: clip.PhaseTransferring}})

	if tray.last.Upload.Phase != clip.PhaseTransferring {
		t.Fatalf("snapshot not kept: %+v", tray.last.Upload)
	}
}
