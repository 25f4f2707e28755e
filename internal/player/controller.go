// Package player drives one media element and derives the observable playback state from
// the commands it sends and the events the element raises.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateNoSource State = "no_source"
	StateReady    State = "ready"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateSeeking  State = "seeking"
)

const DefaultHideDelay = 3 * time.Second

var PlaybackRates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

var (
	ErrNoSource        = errors.New("no media source loaded")
	ErrUnsupportedRate = errors.New("unsupported playback rate")
	ErrClosed          = errors.New("player closed")
)

type PlaybackState struct {
	State           State   `json:"state"`
	Source          string  `json:"source,omitempty"`
	CurrentTime     float64 `json:"currentTime"`
	Duration        float64 `json:"duration"`
	Volume          float64 `json:"volume"`
	IsMuted         bool    `json:"isMuted"`
	IsPlaying       bool    `json:"isPlaying"`
	IsFullscreen    bool    `json:"isFullscreen"`
	PlaybackRate    float64 `json:"playbackRate"`
	ControlsVisible bool    `json:"controlsVisible"`
}

type Options struct {
	// HideDelay is the pointer inactivity after which controls are hidden.
	HideDelay time.Duration
}

// Controller owns the playback state of one element. Commands are serialized; element
// events are applied as they arrive and ignored when they belong to a replaced source.
type Controller struct {
	el        Element
	hideDelay time.Duration
	logger    *slog.Logger

	cmdMu  sync.Mutex
	emitMu sync.Mutex

	mu          sync.Mutex
	st          PlaybackState
	lastVolume  float64
	preSeek     State
	timer       *time.Timer
	timerGen    uint64
	closed      bool
	unsubscribe func()
	subs        map[int]func(PlaybackState)
	nextSub     int
}

func defaultState() PlaybackState {
	return PlaybackState{
		State:           StateNoSource,
		Volume:          1,
		PlaybackRate:    1,
		ControlsVisible: true,
	}
}

// NewController attaches to el. Close detaches it.
func NewController(el Element, opts Options, logger *slog.Logger) *Controller {
	if opts.HideDelay <= 0 {
		opts.HideDelay = DefaultHideDelay
	}
	c := &Controller{
		el:         el,
		hideDelay:  opts.HideDelay,
		logger:     logger,
		st:         defaultState(),
		lastVolume: 1,
		subs:       make(map[int]func(PlaybackState)),
	}
	c.unsubscribe = el.Subscribe(c.handleEvent)

	c.mu.Lock()
	c.armHideTimerLocked()
	c.mu.Unlock()
	return c
}

func (c *Controller) commit(fn func() bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	changed := fn()
	var st PlaybackState
	var subs []func(PlaybackState)
	if changed {
		st = c.st
		subs = make([]func(PlaybackState), 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub(st)
	}
}

func (c *Controller) read() (PlaybackState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st, c.closed
}

// SetSource replaces the media. All playback state except the fullscreen flag returns to
// its defaults; the controller leaves no_source once the element reports metadata for src.
func (c *Controller) SetSource(src string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	var closed bool
	c.commit(func() bool {
		if c.closed {
			closed = true
			return false
		}
		fullscreen, controls := c.st.IsFullscreen, c.st.ControlsVisible
		c.st = defaultState()
		c.st.Source = src
		c.st.IsFullscreen = fullscreen
		c.st.ControlsVisible = controls
		c.lastVolume = 1
		c.preSeek = ""
		return true
	})
	if closed {
		return ErrClosed
	}

	if err := c.el.Load(src); err != nil {
		return fmt.Errorf("load %s: %w", src, err)
	}
	c.logger.Debug("media source replaced", "source", src)
	return nil
}

// Play starts playback. Calling it while already playing does nothing.
func (c *Controller) Play() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	switch {
	case closed:
		return ErrClosed
	case st.State == StateNoSource:
		return ErrNoSource
	case st.IsPlaying:
		return nil
	}

	if err := c.el.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	c.commit(func() bool {
		c.setPlayingLocked(true)
		return true
	})
	return nil
}

// Pause stops playback. Calling it while already paused does nothing.
func (c *Controller) Pause() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	switch {
	case closed:
		return ErrClosed
	case st.State == StateNoSource:
		return ErrNoSource
	case !st.IsPlaying:
		return nil
	}

	if err := c.el.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	c.commit(func() bool {
		c.setPlayingLocked(false)
		return true
	})
	return nil
}

func (c *Controller) TogglePlay() error {
	st, _ := c.read()
	if st.IsPlaying {
		return c.Pause()
	}
	return c.Play()
}

func (c *Controller) setPlayingLocked(playing bool) {
	c.st.IsPlaying = playing
	next := StatePaused
	if playing {
		next = StatePlaying
	}
	switch c.st.State {
	case StateSeeking:
		c.preSeek = next
	case StateReady, StatePlaying, StatePaused:
		c.st.State = next
	}
}

// Seek moves to seconds, clamped to [0, duration]. The new position is observable at once;
// the element's seeked event ends the seeking state.
func (c *Controller) Seek(seconds float64) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	if st.State == StateNoSource {
		return ErrNoSource
	}
	t := clamp(seconds, 0, st.Duration)

	if err := c.el.Seek(t); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	c.commit(func() bool {
		if c.st.Source != st.Source || c.st.State == StateNoSource {
			return false
		}
		if c.st.State != StateSeeking {
			c.preSeek = c.st.State
			c.st.State = StateSeeking
		}
		c.st.CurrentTime = t
		return true
	})
	return nil
}

// SetVolume clamps v to [0,1]. Zero marks the player muted; the last audible volume is kept
// for Unmute.
func (c *Controller) SetVolume(v float64) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	v = clamp(v, 0, 1)

	if err := c.el.SetVolume(v); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	if st.IsMuted && v > 0 {
		if err := c.el.SetMuted(false); err != nil {
			return fmt.Errorf("unmute: %w", err)
		}
	}
	c.commit(func() bool {
		c.st.Volume = v
		c.st.IsMuted = v == 0
		if v > 0 {
			c.lastVolume = v
		}
		return true
	})
	return nil
}

// Mute silences the element without touching the volume level.
func (c *Controller) Mute() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	if st.IsMuted {
		return nil
	}
	if err := c.el.SetMuted(true); err != nil {
		return fmt.Errorf("mute: %w", err)
	}
	c.commit(func() bool {
		if c.st.Volume > 0 {
			c.lastVolume = c.st.Volume
		}
		c.st.IsMuted = true
		return true
	})
	return nil
}

// Unmute restores the last non-zero volume, or full volume if there never was one.
func (c *Controller) Unmute() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	if !st.IsMuted {
		return nil
	}

	c.mu.Lock()
	restore := c.lastVolume
	c.mu.Unlock()
	if restore <= 0 {
		restore = 1
	}

	if st.Volume == 0 {
		if err := c.el.SetVolume(restore); err != nil {
			return fmt.Errorf("restore volume: %w", err)
		}
	}
	if err := c.el.SetMuted(false); err != nil {
		return fmt.Errorf("unmute: %w", err)
	}
	c.commit(func() bool {
		if c.st.Volume == 0 {
			c.st.Volume = restore
		}
		c.st.IsMuted = false
		return true
	})
	return nil
}

func (c *Controller) ToggleMute() error {
	st, _ := c.read()
	if st.IsMuted {
		return c.Unmute()
	}
	return c.Mute()
}

func (c *Controller) SetPlaybackRate(rate float64) error {
	if !IsSupportedRate(rate) {
		return fmt.Errorf("%w: %v", ErrUnsupportedRate, rate)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	if st.PlaybackRate == rate {
		return nil
	}
	if err := c.el.SetRate(rate); err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	c.commit(func() bool {
		c.st.PlaybackRate = rate
		return true
	})
	return nil
}

func (c *Controller) SetFullscreen(on bool) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st, closed := c.read()
	if closed {
		return ErrClosed
	}
	if st.IsFullscreen == on {
		return nil
	}
	if err := c.el.SetFullscreen(on); err != nil {
		return fmt.Errorf("fullscreen: %w", err)
	}
	c.commit(func() bool {
		c.st.IsFullscreen = on
		return true
	})
	return nil
}

func (c *Controller) ToggleFullscreen() error {
	st, _ := c.read()
	return c.SetFullscreen(!st.IsFullscreen)
}

// PointerMoved shows the controls and restarts the inactivity timer.
func (c *Controller) PointerMoved() {
	c.commit(func() bool {
		if c.closed {
			return false
		}
		c.armHideTimerLocked()
		if c.st.ControlsVisible {
			return false
		}
		c.st.ControlsVisible = true
		return true
	})
}

// PointerLeft hides the controls at once.
func (c *Controller) PointerLeft() {
	c.commit(func() bool {
		c.stopHideTimerLocked()
		if c.closed || !c.st.ControlsVisible {
			return false
		}
		c.st.ControlsVisible = false
		return true
	})
}

func (c *Controller) armHideTimerLocked() {
	c.stopHideTimerLocked()
	gen := c.timerGen
	c.timer = time.AfterFunc(c.hideDelay, func() {
		c.hideControls(gen)
	})
}

func (c *Controller) stopHideTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) hideControls(gen uint64) {
	c.commit(func() bool {
		if c.closed || gen != c.timerGen || !c.st.ControlsVisible {
			return false
		}
		c.st.ControlsVisible = false
		return true
	})
}

func (c *Controller) handleEvent(ev Event) {
	c.commit(func() bool {
		if c.closed || ev.Source != c.st.Source || c.st.Source == "" {
			return false
		}

		switch ev.Type {
		case EventLoadedMetadata:
			c.st.Duration = nonNegative(ev.Duration)
			if c.st.State == StateNoSource {
				c.st.State = StateReady
				c.st.CurrentTime = 0
			}
		case EventTimeUpdate:
			if c.st.State == StateSeeking {
				return false
			}
			t := clamp(ev.CurrentTime, 0, c.st.Duration)
			if t == c.st.CurrentTime {
				return false
			}
			c.st.CurrentTime = t
		case EventPlay, EventPause:
			if c.st.State == StateNoSource {
				return false
			}
			playing := ev.Type == EventPlay
			if c.st.IsPlaying == playing {
				return false
			}
			c.setPlayingLocked(playing)
		case EventEnded:
			if c.st.State == StateNoSource {
				return false
			}
			c.setPlayingLocked(false)
			c.st.CurrentTime = c.st.Duration
		case EventSeeked:
			if c.st.State != StateSeeking {
				return false
			}
			c.st.State = c.preSeek
			if c.st.State == "" {
				c.st.State = StateReady
			}
			c.preSeek = ""
			c.st.CurrentTime = clamp(ev.CurrentTime, 0, c.st.Duration)
		case EventVolumeChange:
			v := clamp(ev.Volume, 0, 1)
			muted := ev.Muted || v == 0
			if v == c.st.Volume && muted == c.st.IsMuted {
				return false
			}
			c.st.Volume = v
			c.st.IsMuted = muted
			if v > 0 {
				c.lastVolume = v
			}
		case EventRateChange:
			if !IsSupportedRate(ev.Rate) || ev.Rate == c.st.PlaybackRate {
				return false
			}
			c.st.PlaybackRate = ev.Rate
		case EventFullscreenChange:
			if ev.Fullscreen == c.st.IsFullscreen {
				return false
			}
			c.st.IsFullscreen = ev.Fullscreen
		default:
			return false
		}
		return true
	})
}

func (c *Controller) State() PlaybackState {
	st, _ := c.read()
	return st
}

// Subscribe registers fn for every state change.
func (c *Controller) Subscribe(fn func(PlaybackState)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Close stops the controls timer and detaches from the element. It is safe to call twice.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopHideTimerLocked()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.subs = make(map[int]func(PlaybackState))
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func IsSupportedRate(rate float64) bool {
	for _, r := range PlaybackRates {
		if r == rate {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if hi < lo {
		hi = lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	return v
}
