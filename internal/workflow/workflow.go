// Package workflow composes the upload session, the clip job machine and the player into the
// agent's single user session: upload a video, ask for a clip, watch the result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/upload"
)

// MediaPrefix is the local URL under which uploaded sources are served to the player.
const MediaPrefix = "/media/source/"

var ErrUnknownVideo = errors.New("unknown video")

// Videos is the part of the backend used for video management.
type Videos interface {
	VideoStatus(ctx context.Context, videoID string) (*backend.VideoStatus, error)
	DeleteVideo(ctx context.Context, videoID string) error
}

// Artifacts gives access to fetched clips.
type Artifacts interface {
	Lookup(handle string) (*retriever.Artifact, bool)
	Save(handle, dir string) (string, error)
}

// Journal records what happened for the history view. Methods must not block for long.
type Journal interface {
	RecordVideo(asset *clip.VideoAsset)
	Observe(s clipjob.Snapshot)
	RecordSaved(jobID, path string)
}

type Kind string

const (
	KindUpload Kind = "upload"
	KindJob    Kind = "job"
	KindPlayer Kind = "player"
	KindReset  Kind = "reset"

	// KindSnapshot marks the full state sent to a newly connected observer.
	KindSnapshot Kind = "snapshot"
)

// Snapshot is the whole session as a UI renders it.
type Snapshot struct {
	Upload      clip.UploadProgress  `json:"upload"`
	UploadError string               `json:"upload_error,omitempty"`
	Job         clipjob.Snapshot     `json:"job"`
	Playback    player.PlaybackState `json:"playback"`
}

// Event tells subscribers which part of the session changed.
type Event struct {
	Kind     Kind     `json:"kind"`
	Snapshot Snapshot `json:"snapshot"`
}

type Workflow struct {
	uploads   *upload.Session
	machine   *clipjob.Machine
	player    *player.Controller
	videos    Videos
	artifacts Artifacts
	journal   Journal
	logger    *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	sources map[string]string
	source  string
	subs    map[int]func(Event)
	nextSub int
	unsubs  []func()
}

// Deps are the components a Workflow drives. Videos, Artifacts and Journal are optional.
type Deps struct {
	Uploads   *upload.Session
	Machine   *clipjob.Machine
	Player    *player.Controller
	Videos    Videos
	Artifacts Artifacts
	Journal   Journal
}

func New(deps Deps, logger *slog.Logger) *Workflow {
	ctx, stop := context.WithCancel(context.Background())
	w := &Workflow{
		uploads:   deps.Uploads,
		machine:   deps.Machine,
		player:    deps.Player,
		videos:    deps.Videos,
		artifacts: deps.Artifacts,
		journal:   deps.Journal,
		logger:    logger,
		baseCtx:   ctx,
		stop:      stop,
		sources:   make(map[string]string),
		subs:      make(map[int]func(Event)),
	}
	w.unsubs = append(w.unsubs,
		w.uploads.Subscribe(w.onUpload),
		w.machine.Subscribe(w.onJob),
	)
	if w.player != nil {
		w.unsubs = append(w.unsubs, w.player.Subscribe(func(player.PlaybackState) {
			w.broadcast(KindPlayer)
		}))
	}
	return w
}

func (w *Workflow) onUpload(ev upload.Event) {
	if ev.Progress.Phase == clip.PhaseSucceeded && ev.Asset != nil {
		w.mu.Lock()
		w.sources[ev.Asset.ID] = ev.Asset.Source
		w.mu.Unlock()

		if w.journal != nil {
			w.journal.RecordVideo(ev.Asset)
		}
		w.logger.Info("video ready", "video_id", ev.Asset.ID, "filename", ev.Asset.Filename)
		w.machine.SetAsset(ev.Asset)
	}
	w.broadcast(KindUpload)
}

func (w *Workflow) onJob(s clipjob.Snapshot) {
	if w.journal != nil {
		w.journal.Observe(s)
	}
	w.syncSource(s)
	w.broadcast(KindJob)
}

// syncSource points the player at the artifact once there is one, and at the uploaded video
// otherwise.
func (w *Workflow) syncSource(s clipjob.Snapshot) {
	if w.player == nil {
		return
	}
	var want string
	switch {
	case s.Artifact != nil:
		want = s.Artifact.URL
	case s.Asset != nil:
		want = MediaPrefix + s.Asset.ID
	}

	w.mu.Lock()
	if want == "" || want == w.source {
		w.mu.Unlock()
		return
	}
	w.source = want
	w.mu.Unlock()

	if err := w.player.SetSource(want); err != nil {
		w.logger.Warn("failed to switch player source", "source", want, "error", err)
	}
}

// StartUpload begins uploading f. The transfer outlives the caller's request; it ends when
// it resolves, is superseded, or the session is reset.
func (w *Workflow) StartUpload(f upload.File) (*upload.Transfer, error) {
	return w.uploads.Start(w.baseCtx, f)
}

// CancelUpload abandons the transfer in flight, if any.
func (w *Workflow) CancelUpload() {
	w.uploads.Cancel()
}

func (w *Workflow) Submit(ctx context.Context, draft clip.ClipDraft) (*clip.ClipRequest, error) {
	return w.machine.Submit(ctx, draft)
}

func (w *Workflow) Download(ctx context.Context) (*retriever.Artifact, error) {
	return w.machine.Download(ctx)
}

// ResetJob forgets the clip request and its artifact but keeps the uploaded video, so a
// failed job can be retried without uploading again.
func (w *Workflow) ResetJob() {
	w.machine.SetAsset(w.machine.Snapshot().Asset)
	w.broadcast(KindReset)
}

// Reset returns the whole session to its initial state.
func (w *Workflow) Reset() {
	w.uploads.Reset()
	w.machine.Reset()

	w.mu.Lock()
	had := w.source != ""
	w.source = ""
	w.mu.Unlock()
	if had && w.player != nil {
		if err := w.player.SetSource(""); err != nil {
			w.logger.Warn("failed to unload player", "error", err)
		}
	}
	w.broadcast(KindReset)
}

// SourcePath returns the local file behind an uploaded video.
func (w *Workflow) SourcePath(videoID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.sources[videoID]
	return p, ok && p != ""
}

func (w *Workflow) Artifact(handle string) (*retriever.Artifact, bool) {
	if w.artifacts == nil {
		return nil, false
	}
	return w.artifacts.Lookup(handle)
}

// SaveArtifact copies the artifact into dir and returns the written path.
func (w *Workflow) SaveArtifact(handle, dir string) (string, error) {
	if w.artifacts == nil {
		return "", retriever.ErrUnknownHandle
	}
	art, ok := w.artifacts.Lookup(handle)
	if !ok {
		return "", retriever.ErrUnknownHandle
	}
	path, err := w.artifacts.Save(handle, dir)
	if err != nil {
		return "", err
	}
	if w.journal != nil {
		w.journal.RecordSaved(art.ClipID, path)
	}
	w.logger.Info("artifact saved", "handle", handle, "path", path)
	return path, nil
}

// ReleaseArtifact drops the current artifact by resetting the job when handle is the one
// the session shows.
func (w *Workflow) ReleaseArtifact(handle string) error {
	s := w.machine.Snapshot()
	if s.Artifact == nil || s.Artifact.Handle != handle {
		return retriever.ErrUnknownHandle
	}
	w.ResetJob()
	return nil
}

func (w *Workflow) VideoStatus(ctx context.Context, videoID string) (*backend.VideoStatus, error) {
	if w.videos == nil {
		return nil, ErrUnknownVideo
	}
	return w.videos.VideoStatus(ctx, videoID)
}

// DeleteVideo removes the video on the backend. Deleting the session's current video
// resets the session.
func (w *Workflow) DeleteVideo(ctx context.Context, videoID string) error {
	if w.videos == nil {
		return ErrUnknownVideo
	}
	if err := w.videos.DeleteVideo(ctx, videoID); err != nil {
		return fmt.Errorf("delete video %s: %w", videoID, err)
	}

	w.mu.Lock()
	delete(w.sources, videoID)
	w.mu.Unlock()

	if a := w.machine.Snapshot().Asset; a != nil && a.ID == videoID {
		w.Reset()
	}
	return nil
}

func (w *Workflow) Player() *player.Controller {
	return w.player
}

func (w *Workflow) Snapshot() Snapshot {
	s := Snapshot{
		Upload: w.uploads.Progress(),
		Job:    w.machine.Snapshot(),
	}
	if err := w.uploads.Err(); err != nil {
		s.UploadError = err.Error()
	}
	if w.player != nil {
		s.Playback = w.player.State()
	}
	return s
}

// Subscribe registers fn for every change of the session.
func (w *Workflow) Subscribe(fn func(Event)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

func (w *Workflow) broadcast(kind Kind) {
	w.mu.Lock()
	subs := make([]func(Event), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	ev := Event{Kind: kind, Snapshot: w.Snapshot()}
	for _, fn := range subs {
		fn(ev)
	}
}

// Close cancels uploads and polling and detaches from the components.
func (w *Workflow) Close() {
	w.stop()
	w.uploads.Cancel()
	w.machine.Close()

	w.mu.Lock()
	unsubs := w.unsubs
	w.unsubs = nil
	w.subs = make(map[int]func(Event))
	w.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if w.player != nil {
		w.player.Close()
	}
}
