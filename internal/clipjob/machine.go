// Package clipjob is the clip request workflow: submit, poll, complete or fail, reset.
//
// The Machine is the only writer of the active request's status. Every goroutine it starts
// (polling, artifact download) captures the generation current at launch and applies its
// result only while that generation is still current. Reset, SetAsset and a new Submit bump
// the generation under the lock, so stale work loses its right to mutate state at once,
// even if its network call is still in flight.
package clipjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/logging"
	"github.com/highlightr/highlightr-agent/internal/poller"
	"github.com/highlightr/highlightr-agent/internal/retriever"
)

var (
	ErrNoAsset     = &clip.ValidationError{Field: "video", Message: "upload a video before requesting a clip"}
	ErrSuperseded  = errors.New("clip request superseded")
	ErrNotComplete = errors.New("clip is not completed")
	ErrDownloading = errors.New("clip download already in progress")
	ErrClosed      = errors.New("clip job machine closed")
)

// Backend is the part of the backend contract the machine drives.
type Backend interface {
	SubmitClip(ctx context.Context, videoID string, draft clip.ClipDraft) (string, error)
	ClipStatus(ctx context.Context, videoID, clipID string) (clip.PollResult, error)
}

// Fetcher retrieves finished artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, videoID, clipID string) (*retriever.Artifact, error)
	Release(handle string) error
}

type Options struct {
	// AutoDownload fetches the artifact as soon as the job completes.
	AutoDownload bool
}

// Snapshot is a consistent copy of the machine state.
type Snapshot struct {
	State         State               `json:"state"`
	Generation    uint64              `json:"generation"`
	Asset         *clip.VideoAsset    `json:"asset,omitempty"`
	Request       *clip.ClipRequest   `json:"request,omitempty"`
	Artifact      *retriever.Artifact `json:"artifact,omitempty"`
	Downloading   bool                `json:"downloading"`
	Error         string              `json:"error,omitempty"`
	ArtifactError string              `json:"artifact_error,omitempty"`

	Err         error `json:"-"`
	ArtifactErr error `json:"-"`
}

type Machine struct {
	backend Backend
	fetcher Fetcher
	loop    *poller.Loop
	opts    Options
	logger  *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	emitMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	gen         uint64
	state       State
	asset       *clip.VideoAsset
	req         *clip.ClipRequest
	artifact    *retriever.Artifact
	downloading bool
	err         error
	artifactErr error
	cancel      context.CancelFunc
	subs        map[int]func(Snapshot)
	nextSub     int
}

func New(backend Backend, fetcher Fetcher, loop *poller.Loop, opts Options, logger *slog.Logger) *Machine {
	ctx, stop := context.WithCancel(context.Background())
	return &Machine{
		backend: backend,
		fetcher: fetcher,
		loop:    loop,
		opts:    opts,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		state:   StateIdle,
		subs:    make(map[int]func(Snapshot)),
	}
}

// commit runs fn under the state lock. When fn reports a change, subscribers receive the
// resulting snapshot before commit returns, in commit order.
func (m *Machine) commit(fn func() bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	changed := fn()
	var snap Snapshot
	var subs []func(Snapshot)
	if changed {
		snap = m.snapshotLocked()
		subs = m.subscribersLocked()
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

// SetAsset records a newly accepted video. Any active request belongs to the previous
// video and is abandoned.
func (m *Machine) SetAsset(asset *clip.VideoAsset) {
	var release string
	m.commit(func() bool {
		release = m.invalidateLocked()
		m.asset = asset
		m.req = nil
		m.err = nil
		m.state = StateIdle
		return true
	})
	m.release(release)
}

// Submit sends draft for the current asset. Validation failures return before any network
// call. On acceptance the server clip id replaces the placeholder id and polling starts.
func (m *Machine) Submit(ctx context.Context, draft clip.ClipDraft) (*clip.ClipRequest, error) {
	if err := clip.ValidateDraft(draft); err != nil {
		return nil, err
	}

	var (
		gen     uint64
		videoID string
		placeID string
		release string
		err     error
	)
	m.commit(func() bool {
		if m.closed {
			err = ErrClosed
			return false
		}
		if m.asset == nil {
			err = ErrNoAsset
			return false
		}
		if err = ValidateTransition(m.state, StateSubmitting); err != nil {
			return false
		}
		release = m.invalidateLocked()
		gen = m.gen
		videoID = m.asset.ID
		m.req = clip.NewRequest(videoID, draft)
		placeID = m.req.ID
		m.err = nil
		m.state = StateSubmitting
		return true
	})
	if err != nil {
		return nil, err
	}
	m.release(release)

	logger := logging.WithClip(m.logger, videoID, "", gen)
	logger.Info("submitting clip request", "placeholder_id", placeID, "target_duration", draft.TargetDuration)

	send := draft
	if send.SportType == "" {
		send.SportType = clip.SportAuto
	}
	clipID, submitErr := m.backend.SubmitClip(ctx, videoID, send)

	var result *clip.ClipRequest
	m.commit(func() bool {
		if gen != m.gen {
			err = ErrSuperseded
			return false
		}
		if submitErr != nil {
			m.req.Status = clip.StatusError
			m.req.UpdatedAt = time.Now().UTC()
			m.err = submitErr
			m.state = StateFailed
			err = submitErr
			return true
		}

		m.req.ID = clipID
		m.req.UpdatedAt = time.Now().UTC()
		m.state = StatePolling

		pctx, cancel := context.WithCancel(m.baseCtx)
		m.cancel = cancel
		m.wg.Add(1)
		go m.poll(pctx, gen, videoID, clipID)

		r := *m.req
		result = &r
		return true
	})

	if err != nil {
		if !errors.Is(err, ErrSuperseded) {
			logger.Error("clip request rejected", "error", err)
		}
		return nil, err
	}
	logger.Info("clip request accepted", "clip_id", clipID)
	return result, nil
}

func (m *Machine) poll(ctx context.Context, gen uint64, videoID, clipID string) {
	defer m.wg.Done()
	logger := logging.WithClip(m.logger, videoID, clipID, gen)

	query := func(ctx context.Context) (clip.PollResult, error) {
		return m.backend.ClipStatus(ctx, videoID, clipID)
	}
	err := m.loop.Run(ctx, query, func(r clip.PollResult) bool {
		return m.propose(ctx, gen, r)
	})

	if err == nil || ctx.Err() != nil {
		return
	}
	logger.Error("polling stopped", "error", err)
	m.commit(func() bool {
		if gen != m.gen || m.state != StatePolling {
			return false
		}
		m.req.Status = clip.StatusError
		m.req.UpdatedAt = time.Now().UTC()
		m.err = err
		m.state = StateFailed
		return true
	})
}

// propose applies one poll result. It returns true when polling should stop.
func (m *Machine) propose(ctx context.Context, gen uint64, r clip.PollResult) bool {
	stop := false
	m.commit(func() bool {
		if gen != m.gen || m.state != StatePolling {
			stop = true
			return false
		}
		if !clip.AdvancesStatus(m.req.Status, r.Status) {
			return false
		}

		m.req.Status = r.Status
		m.req.UpdatedAt = time.Now().UTC()

		switch r.Status {
		case clip.StatusCompleted:
			m.req.DownloadURL = r.DownloadURL
			m.state = StateCompleted
			stop = true
			if m.opts.AutoDownload && m.fetcher != nil {
				m.startDownloadLocked(ctx, gen)
			}
		case clip.StatusError:
			m.err = &clip.ProcessingFailedError{ClipID: m.req.ID}
			m.state = StateFailed
			stop = true
		}
		m.logger.Info("clip status changed", "clip_id", m.req.ID, "status", r.Status, "state", m.state)
		return true
	})
	return stop
}

func (m *Machine) startDownloadLocked(ctx context.Context, gen uint64) {
	m.downloading = true
	m.artifactErr = nil
	videoID, clipID := m.req.VideoID, m.req.ID
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		art, err := m.fetcher.Fetch(ctx, videoID, clipID)
		m.applyDownload(gen, art, err)
	}()
}

// applyDownload stores a fetch result if it is still wanted and returns the outcome the
// caller should report.
func (m *Machine) applyDownload(gen uint64, art *retriever.Artifact, fetchErr error) (*retriever.Artifact, error) {
	var (
		release string
		result  *retriever.Artifact
		err     = fetchErr
	)
	m.commit(func() bool {
		if gen != m.gen || m.state != StateCompleted {
			if art != nil {
				release = art.Handle
			}
			err = ErrSuperseded
			return false
		}
		m.downloading = false
		if fetchErr != nil {
			m.artifactErr = fetchErr
			return true
		}
		if m.artifact != nil {
			release = m.artifact.Handle
		}
		m.artifact = art
		m.artifactErr = nil
		result = art
		return true
	})
	m.release(release)

	if fetchErr != nil && !errors.Is(err, ErrSuperseded) {
		m.logger.Error("clip download failed", "error", fetchErr)
	}
	return result, err
}

// Download fetches the artifact of a completed job again. It is the remediation for a
// failed automatic download and the only path when AutoDownload is off.
func (m *Machine) Download(ctx context.Context) (*retriever.Artifact, error) {
	if m.fetcher == nil {
		return nil, errors.New("no artifact fetcher configured")
	}

	var (
		gen             uint64
		videoID, clipID string
		err             error
	)
	m.commit(func() bool {
		if m.state != StateCompleted {
			err = ErrNotComplete
			return false
		}
		if m.downloading {
			err = ErrDownloading
			return false
		}
		gen = m.gen
		videoID, clipID = m.req.VideoID, m.req.ID
		m.downloading = true
		m.artifactErr = nil
		return true
	})
	if err != nil {
		return nil, err
	}

	art, fetchErr := m.fetcher.Fetch(ctx, videoID, clipID)
	return m.applyDownload(gen, art, fetchErr)
}

// Reset abandons everything: polling and downloads are cancelled, the artifact is released,
// and the request and asset are forgotten.
func (m *Machine) Reset() {
	var release string
	m.commit(func() bool {
		release = m.invalidateLocked()
		m.asset = nil
		m.req = nil
		m.err = nil
		m.state = StateIdle
		return true
	})
	m.release(release)
	m.logger.Info("clip job reset")
}

// invalidateLocked bumps the generation, cancels outstanding work and detaches the
// artifact. It returns the artifact handle the caller must release outside the lock.
func (m *Machine) invalidateLocked() string {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	var handle string
	if m.artifact != nil {
		handle = m.artifact.Handle
		m.artifact = nil
	}
	m.artifactErr = nil
	m.downloading = false
	return handle
}

func (m *Machine) release(handle string) {
	if handle == "" || m.fetcher == nil {
		return
	}
	if err := m.fetcher.Release(handle); err != nil {
		m.logger.Warn("failed to release artifact", "handle", handle, "error", err)
	}
}

// Close stops all background work and waits for it to exit.
func (m *Machine) Close() {
	var release string
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.commit(func() bool {
		release = m.invalidateLocked()
		return false
	})
	m.stop()
	m.wg.Wait()
	m.release(release)

	m.mu.Lock()
	m.subs = make(map[int]func(Snapshot))
	m.mu.Unlock()
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transition notifications. fn may read the machine but must
// not call Submit, Reset, SetAsset or Download.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       m.state,
		Generation:  m.gen,
		Asset:       m.asset,
		Artifact:    m.artifact,
		Downloading: m.downloading,
		Err:         m.err,
		ArtifactErr: m.artifactErr,
	}
	if m.req != nil {
		r := *m.req
		s.Request = &r
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	if m.artifactErr != nil {
		s.ArtifactError = m.artifactErr.Error()
	}
	return s
}

func (m *Machine) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}
