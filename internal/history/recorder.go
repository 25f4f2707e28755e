package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
)

const recorderQueue = 64

type record struct {
	video    *Video
	job      *Job
	artifact *artifactRecord
	saved    *savedRecord
}

type savedRecord struct {
	jobID string
	path  string
}

type artifactRecord struct {
	jobID    string
	filename string
	size     int64
}

// Recorder writes workflow transitions to the repository on its own goroutine, so slow disk
// writes never hold up the state machines that feed it.
type Recorder struct {
	repo   Repository
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan record
	done   chan struct{}

	lastArtifact string
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan record, recorderQueue),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case rec.video != nil:
		err = r.repo.UpsertVideo(ctx, rec.video)
	case rec.job != nil:
		err = r.repo.UpsertJob(ctx, rec.job)
	case rec.artifact != nil:
		err = r.repo.SetArtifact(ctx, rec.artifact.jobID, rec.artifact.filename, rec.artifact.size)
	case rec.saved != nil:
		err = r.repo.SetSavedPath(ctx, rec.saved.jobID, rec.saved.path)
	}
	if err != nil {
		r.logger.Warn("failed to write history", "error", err)
	}
}

// enqueue never blocks the caller. A full queue drops the record.
func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("history queue full, dropping record", "kind", rec.kind())
	}
}

func (r record) kind() string {
	switch {
	case r.video != nil:
		return "video"
	case r.job != nil:
		return "job"
	case r.artifact != nil:
		return "artifact"
	default:
		return "saved_path"
	}
}

// RecordVideo journals an accepted upload.
func (r *Recorder) RecordVideo(asset *clip.VideoAsset) {
	if asset == nil {
		return
	}
	r.enqueue(record{video: VideoFromAsset(asset)})
}

// Observe journals a clip job snapshot. Snapshots taken while a request is still being
// submitted carry a placeholder id and are skipped; a submission that fails is kept under
// that placeholder.
func (r *Recorder) Observe(s clipjob.Snapshot) {
	if s.Request == nil || s.State == clipjob.StateSubmitting || s.State == clipjob.StateIdle {
		return
	}
	job := JobFromRequest(s.Request)
	if s.State == clipjob.StateFailed {
		job.Status = clip.StatusError
		job.Error = s.Error
	}
	r.enqueue(record{job: job})

	if s.Artifact != nil && s.Artifact.Handle != r.lastArtifactHandle(s.Artifact.Handle) {
		r.enqueue(record{artifact: &artifactRecord{
			jobID:    s.Request.ID,
			filename: s.Artifact.Filename,
			size:     s.Artifact.Size,
		}})
	}
}

// RecordSaved journals where the user saved a job's artifact.
func (r *Recorder) RecordSaved(jobID, path string) {
	if jobID == "" {
		return
	}
	r.enqueue(record{saved: &savedRecord{jobID: jobID, path: path}})
}

// lastArtifactHandle swaps in handle and returns the previous one.
func (r *Recorder) lastArtifactHandle(handle string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.lastArtifact
	r.lastArtifact = handle
	return prev
}

// Close flushes queued writes and stops the worker. It is safe to call twice.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
