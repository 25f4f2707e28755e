// Package upload owns the single-flight video transfer to the backend and its progress.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

// maxEstimate keeps every estimate strictly below 100 until the backend acknowledges the upload.
const maxEstimate = 99

var (
	ErrSuperseded = errors.New("upload superseded by a newer one")
	ErrCancelled  = errors.New("upload cancelled")
)

// Uploader is the part of the backend contract the session needs.
type Uploader interface {
	UploadVideo(ctx context.Context, filename string, body io.Reader) (string, error)
}

// Event is published whenever progress, phase, or outcome changes.
type Event struct {
	Generation uint64
	Progress   clip.UploadProgress
	Asset      *clip.VideoAsset
	Err        error
}

type Options struct {
	MaxBytes int64
	Progress ProgressSource
}

type Session struct {
	uploader Uploader
	limit    int64
	progress ProgressSource
	logger   *slog.Logger

	// emitMu serializes state change plus delivery so subscribers see events in order.
	emitMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	lastStart uint64
	cancel    context.CancelFunc
	state     clip.UploadProgress
	asset     *clip.VideoAsset
	lastErr   error
	subs      map[int]func(Event)
	nextSub   int
}

func NewSession(uploader Uploader, opts Options, logger *slog.Logger) *Session {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = clip.DefaultMaxUploadBytes
	}
	if opts.Progress == nil {
		opts.Progress = NewSyntheticProgress()
	}
	return &Session{
		uploader: uploader,
		limit:    opts.MaxBytes,
		progress: opts.Progress,
		logger:   logger,
		state:    clip.UploadProgress{Phase: clip.PhaseIdle},
		subs:     make(map[int]func(Event)),
	}
}

func (s *Session) Validate(f File) error {
	return clip.ValidateFile(f.Name, f.Size, s.limit)
}

// Transfer is the handle of one upload attempt.
type Transfer struct {
	gen   uint64
	done  chan struct{}
	asset *clip.VideoAsset
	err   error
}

func (t *Transfer) Generation() uint64 {
	return t.gen
}

// Wait blocks until the transfer resolves. A transfer that lost its right to update the
// session reports ErrSuperseded or ErrCancelled.
func (t *Transfer) Wait(ctx context.Context) (*clip.VideoAsset, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.asset, t.err
	}
}

// Done is closed once the transfer resolves.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Start validates f and begins transferring it. Any transfer still in flight is cancelled
// and can no longer touch session state.
func (s *Session) Start(ctx context.Context, f File) (*Transfer, error) {
	if err := s.Validate(f); err != nil {
		return nil, err
	}
	if f.Open == nil {
		return nil, fmt.Errorf("upload %s: no content", f.Name)
	}

	s.emitMu.Lock()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.logger.Info("superseding in-flight upload", "generation", s.gen)
	}
	s.gen++
	gen := s.gen
	s.lastStart = gen
	tctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = clip.UploadProgress{Percent: 0, Phase: clip.PhaseTransferring}
	s.asset = nil
	s.lastErr = nil
	ev, subs := s.eventLocked(), s.subscribersLocked()
	s.mu.Unlock()
	deliver(subs, ev)
	s.emitMu.Unlock()

	t := &Transfer{gen: gen, done: make(chan struct{})}
	go s.run(tctx, cancel, t, f)
	return t, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, t *Transfer, f File) {
	defer cancel()
	logger := s.logger.With("filename", f.Name, "generation", t.gen)
	started := time.Now()

	id, err := s.transfer(ctx, t.gen, f)

	if err != nil {
		logger.Warn("upload failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
	} else {
		logger.Info("upload acknowledged", "video_id", id, "size", clip.FormatFileSize(f.Size),
			"duration_ms", time.Since(started).Milliseconds())
	}

	s.emitMu.Lock()
	s.mu.Lock()
	if t.gen != s.gen {
		t.err = ErrCancelled
		if s.lastStart > t.gen {
			t.err = ErrSuperseded
		}
		s.mu.Unlock()
		s.emitMu.Unlock()
		close(t.done)
		return
	}
	s.cancel = nil
	if err != nil {
		s.state.Phase = clip.PhaseFailed
		s.lastErr = err
		t.err = err
	} else {
		s.state = clip.UploadProgress{Percent: 100, Phase: clip.PhaseSucceeded}
		s.asset = &clip.VideoAsset{
			ID:         id,
			Filename:   f.Name,
			Source:     f.Path,
			Size:       f.Size,
			UploadedAt: time.Now().UTC(),
		}
		t.asset = s.asset
	}
	ev, subs := s.eventLocked(), s.subscribersLocked()
	s.mu.Unlock()
	deliver(subs, ev)
	s.emitMu.Unlock()

	close(t.done)
}

func (s *Session) transfer(ctx context.Context, gen uint64, f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", &clip.ValidationError{Field: "file", Message: fmt.Sprintf("%s is not readable: %v", f.Name, err)}
	}
	defer rc.Close()

	trackCtx, stopTracking := context.WithCancel(ctx)
	defer stopTracking()
	body := s.progress.Track(trackCtx, f.Size, rc, func(p float64) {
		s.report(gen, p)
	})

	return s.uploader.UploadVideo(ctx, f.Name, body)
}

// report applies an estimate if it belongs to the current transfer and moves forward.
func (s *Session) report(gen uint64, percent float64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.state.Phase != clip.PhaseTransferring {
		s.mu.Unlock()
		return
	}
	if percent > maxEstimate {
		percent = maxEstimate
	}
	if percent <= s.state.Percent {
		s.mu.Unlock()
		return
	}
	s.state.Percent = percent
	ev, subs := s.eventLocked(), s.subscribersLocked()
	s.mu.Unlock()

	deliver(subs, ev)
}

// Cancel stops the in-flight transfer, if any, and returns the session to idle.
func (s *Session) Cancel() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.state.Phase != clip.PhaseTransferring {
		s.mu.Unlock()
		return
	}
	s.invalidateLocked()
	s.state = clip.UploadProgress{Phase: clip.PhaseIdle}
	ev, subs := s.eventLocked(), s.subscribersLocked()
	s.mu.Unlock()

	s.logger.Info("upload cancelled")
	deliver(subs, ev)
}

// Reset cancels any transfer and forgets the accepted asset.
func (s *Session) Reset() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.invalidateLocked()
	s.state = clip.UploadProgress{Phase: clip.PhaseIdle}
	s.asset = nil
	s.lastErr = nil
	ev, subs := s.eventLocked(), s.subscribersLocked()
	s.mu.Unlock()

	deliver(subs, ev)
}

func (s *Session) invalidateLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) Progress() clip.UploadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Asset() *clip.VideoAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asset
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Subscribe registers fn for every session event. Subscribers may read session state
// but must not start, cancel or reset uploads from inside fn.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) eventLocked() Event {
	return Event{Generation: s.gen, Progress: s.state, Asset: s.asset, Err: s.lastErr}
}

func (s *Session) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func deliver(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
