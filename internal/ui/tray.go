package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

//go:embed icon.png
var iconBytes []byte

type Tray struct {
	logger *slog.Logger

	statusItem *systray.MenuItem
	videoItem  *systray.MenuItem
	retryItem  *systray.MenuItem

	mu    sync.Mutex
	ready bool
	last  workflow.Snapshot

	onResetJob func()
	onReset    func()
	onQuit     func()
}

type TrayConfig struct {
	Logger     *slog.Logger
	OnResetJob func()
	OnReset    func()
	OnQuit     func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger:     cfg.Logger,
		onResetJob: cfg.OnResetJob,
		onReset:    cfg.OnReset,
		onQuit:     cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Highlightr")
	systray.SetTooltip("Highlightr Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current clip job")
	t.statusItem.Disable()

	t.videoItem = systray.AddMenuItem("Video: none", "Uploaded video")
	t.videoItem.Disable()

	systray.AddSeparator()

	t.retryItem = systray.AddMenuItem("New Clip", "Keep the video and start a new clip request")
	resetItem := systray.AddMenuItem("Reset", "Clear the video and the clip job")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Highlightr Agent")
	t.ready = true
	t.mu.Unlock()
	t.render()

	go func() {
		for {
			select {
			case <-t.retryItem.ClickedCh:
				t.logger.Info("job reset requested from tray")
				call(t.onResetJob)
			case <-resetItem.ClickedCh:
				t.logger.Info("session reset requested from tray")
				call(t.onReset)
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				call(t.onQuit)
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// Update renders a session snapshot. It is safe to call before the tray is ready.
func (t *Tray) Update(s workflow.Snapshot) {
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()
	t.render()
}

func (t *Tray) render() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}

	t.statusItem.SetTitle("Status: " + StatusLine(t.last))
	if a := t.last.Job.Asset; a != nil {
		t.videoItem.SetTitle(fmt.Sprintf("Video: %s (%s)", a.Filename, clip.FormatFileSize(a.Size)))
	} else {
		t.videoItem.SetTitle("Video: none")
	}
	if t.last.Job.Asset != nil && t.last.Job.State != clipjob.StateIdle {
		t.retryItem.Enable()
	} else {
		t.retryItem.Disable()
	}
}

// StatusLine summarizes a snapshot in a few words.
func StatusLine(s workflow.Snapshot) string {
	switch s.Upload.Phase {
	case clip.PhaseTransferring:
		return fmt.Sprintf("Uploading %.0f%%", s.Upload.Percent)
	case clip.PhaseFailed:
		if s.Job.Asset == nil {
			return "Upload failed"
		}
	}

	switch s.Job.State {
	case clipjob.StateSubmitting:
		return "Submitting request"
	case clipjob.StatePolling:
		if s.Job.Request != nil && s.Job.Request.Status == clip.StatusProcessing {
			return "Generating clip"
		}
		return "Waiting for backend"
	case clipjob.StateCompleted:
		switch {
		case s.Job.Artifact != nil:
			return "Clip ready"
		case s.Job.Downloading:
			return "Downloading clip"
		case s.Job.ArtifactError != "":
			return "Download failed"
		}
		return "Clip completed"
	case clipjob.StateFailed:
		return "Failed"
	}

	if s.Job.Asset != nil {
		return "Video ready"
	}
	return "Idle"
}

func (t *Tray) Quit() {
	systray.Quit()
}
