package player

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeElement records commands and lets tests raise element events.
type fakeElement struct {
	mu    sync.Mutex
	calls []string
	src   string
	subs  map[int]func(Event)
	next  int
	fail  error
}

func newFakeElement() *fakeElement {
	return &fakeElement{subs: make(map[int]func(Event))}
}

func (f *fakeElement) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeElement) Load(src string) error {
	f.mu.Lock()
	f.src = src
	f.mu.Unlock()
	return f.record("load " + src)
}
func (f *fakeElement) Play() error { return f.record("play") }
func (f *fakeElement) Pause() error { return f.record("pause") }
func (f *fakeElement) Seek(seconds float64) error { return f.record("seek") }
func (f *fakeElement) SetVolume(v float64) error { return f.record("volume") }
func (f *fakeElement) SetMuted(muted bool) error {
	if muted {
		return f.record("mute")
	}
	return f.record("unmute")
}
func (f *fakeElement) SetRate(rate float64) error { return f.record("rate") }
func (f *fakeElement) SetFullscreen(on bool) error { return f.record("fullscreen") }

func (f *fakeElement) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeElement) emit(ev Event) {
	f.mu.Lock()
	subs := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (f *fakeElement) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeElement) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func loaded(t *testing.T, duration float64) (*Controller, *fakeElement) {
	t.Helper()
	el := newFakeElement()
	c := NewController(el, Options{HideDelay: time.Hour}, testLogger())
	t.Cleanup(c.Close)

	require.NoError(t, c.SetSource("/media/a.mp4"))
	el.emit(Event{Type: EventLoadedMetadata, Source: "/media/a.mp4", Duration: duration})
	require.Equal(t, StateReady, c.State().State)
	return c, el
}

func TestController_StartsWithoutSource(t *testing.T) {
	el := newFakeElement()
	c := NewController(el, Options{}, testLogger())
	defer c.Close()

	st := c.State()
	assert.Equal(t, StateNoSource, st.State)
	assert.Equal(t, 1.0, st.Volume)
	assert.Equal(t, 1.0, st.PlaybackRate)
	assert.ErrorIs(t, c.Play(), ErrNoSource)
	assert.ErrorIs(t, c.Seek(3), ErrNoSource)
	assert.Empty(t, el.callLog())
}

func TestController_PlayTwiceIsIdempotent(t *testing.T) {
	c, el := loaded(t, 120)

	var events int
	unsubscribe := c.Subscribe(func(PlaybackState) { events++ })
	defer unsubscribe()

	require.NoError(t, c.Play())
	first := c.State()
	require.NoError(t, c.Play())

	assert.Equal(t, first, c.State())
	assert.Equal(t, StatePlaying, first.State)
	assert.True(t, first.IsPlaying)
	assert.Equal(t, 1, events)
	assert.Equal(t, []string{"load /media/a.mp4", "play"}, el.callLog())

	// The element confirming playback changes nothing either.
	el.emit(Event{Type: EventPlay, Source: "/media/a.mp4"})
	assert.Equal(t, first, c.State())
	assert.Equal(t, 1, events)
}

func TestController_PauseAndToggle(t *testing.T) {
	c, el := loaded(t, 120)

	require.NoError(t, c.Pause())
	assert.Equal(t, StateReady, c.State().State, "pause without play is a no-op")

	require.NoError(t, c.TogglePlay())
	assert.Equal(t, StatePlaying, c.State().State)
	require.NoError(t, c.TogglePlay())
	assert.Equal(t, StatePaused, c.State().State)
	assert.Equal(t, []string{"load /media/a.mp4", "play", "pause"}, el.callLog())

	el.emit(Event{Type: EventPlay, Source: "/media/a.mp4"})
	assert.Equal(t, StatePlaying, c.State().State)
	el.emit(Event{Type: EventEnded, Source: "/media/a.mp4"})
	st := c.State()
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, 120.0, st.CurrentTime)
}

func TestController_SeekClampsAndUpdatesImmediately(t *testing.T) {
	c, el := loaded(t, 90)
	require.NoError(t, c.Play())

	require.NoError(t, c.Seek(200))
	st := c.State()
	assert.Equal(t, 90.0, st.CurrentTime)
	assert.Equal(t, StateSeeking, st.State)

	// Periodic updates from before the seek do not move the scrubber back.
	el.emit(Event{Type: EventTimeUpdate, Source: "/media/a.mp4", CurrentTime: 10})
	assert.Equal(t, 90.0, c.State().CurrentTime)

	el.emit(Event{Type: EventSeeked, Source: "/media/a.mp4", CurrentTime: 90})
	assert.Equal(t, StatePlaying, c.State().State)

	require.NoError(t, c.Seek(-5))
	assert.Equal(t, 0.0, c.State().CurrentTime)
	el.emit(Event{Type: EventSeeked, Source: "/media/a.mp4", CurrentTime: 0})

	el.emit(Event{Type: EventTimeUpdate, Source: "/media/a.mp4", CurrentTime: 12.5})
	assert.Equal(t, 12.5, c.State().CurrentTime)
}

func TestController_VolumeAndMute(t *testing.T) {
	c, el := loaded(t, 60)

	require.NoError(t, c.SetVolume(1.7))
	assert.Equal(t, 1.0, c.State().Volume)

	require.NoError(t, c.SetVolume(0.4))
	require.NoError(t, c.Mute())
	st := c.State()
	assert.True(t, st.IsMuted)
	assert.Equal(t, 0.4, st.Volume, "mute keeps the level")

	require.NoError(t, c.Unmute())
	st = c.State()
	assert.False(t, st.IsMuted)
	assert.Equal(t, 0.4, st.Volume)

	// Volume zero counts as muted; unmute brings back the last audible level.
	require.NoError(t, c.SetVolume(0))
	st = c.State()
	assert.True(t, st.IsMuted)
	assert.Equal(t, 0.0, st.Volume)

	require.NoError(t, c.ToggleMute())
	st = c.State()
	assert.False(t, st.IsMuted)
	assert.Equal(t, 0.4, st.Volume)

	// Raising the volume while muted unmutes the element.
	require.NoError(t, c.Mute())
	require.NoError(t, c.SetVolume(0.8))
	assert.False(t, c.State().IsMuted)

	log := el.callLog()
	assert.Equal(t, []string{"volume", "unmute"}, log[len(log)-2:])
}

func TestController_UnmuteDefaultsToFullVolume(t *testing.T) {
	c, _ := loaded(t, 60)

	c.mu.Lock()
	c.lastVolume = 0
	c.mu.Unlock()

	require.NoError(t, c.SetVolume(0))
	require.NoError(t, c.Unmute())
	assert.Equal(t, 1.0, c.State().Volume)
}

func TestController_PlaybackRate(t *testing.T) {
	c, el := loaded(t, 60)

	for _, r := range PlaybackRates {
		require.NoError(t, c.SetPlaybackRate(r))
		assert.Equal(t, r, c.State().PlaybackRate)
	}

	err := c.SetPlaybackRate(3)
	assert.ErrorIs(t, err, ErrUnsupportedRate)
	assert.Equal(t, 2.0, c.State().PlaybackRate)

	el.emit(Event{Type: EventRateChange, Source: "/media/a.mp4", Rate: 0.3})
	assert.Equal(t, 2.0, c.State().PlaybackRate)
}

func TestController_Fullscreen(t *testing.T) {
	c, el := loaded(t, 60)

	require.NoError(t, c.ToggleFullscreen())
	assert.True(t, c.State().IsFullscreen)

	el.emit(Event{Type: EventFullscreenChange, Source: "/media/a.mp4", Fullscreen: false})
	assert.False(t, c.State().IsFullscreen)
}

func TestController_SetSourceResetsState(t *testing.T) {
	c, el := loaded(t, 60)
	require.NoError(t, c.Play())
	require.NoError(t, c.SetPlaybackRate(1.5))
	require.NoError(t, c.SetVolume(0.2))
	el.emit(Event{Type: EventTimeUpdate, Source: "/media/a.mp4", CurrentTime: 30})

	require.NoError(t, c.SetSource("/artifacts/h1"))
	st := c.State()
	assert.Equal(t, StateNoSource, st.State)
	assert.Equal(t, "/artifacts/h1", st.Source)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.Equal(t, 1.0, st.PlaybackRate)
	assert.Equal(t, 1.0, st.Volume)

	// Late events from the previous source are ignored.
	el.emit(Event{Type: EventTimeUpdate, Source: "/media/a.mp4", CurrentTime: 31})
	el.emit(Event{Type: EventLoadedMetadata, Source: "/media/a.mp4", Duration: 60})
	assert.Equal(t, StateNoSource, c.State().State)

	el.emit(Event{Type: EventLoadedMetadata, Source: "/artifacts/h1", Duration: 45})
	st = c.State()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 45.0, st.Duration)
}

func TestController_ElementErrorLeavesStateAlone(t *testing.T) {
	c, el := loaded(t, 60)

	el.mu.Lock()
	el.fail = errors.New("element gone")
	el.mu.Unlock()

	err := c.Play()
	require.Error(t, err)
	assert.False(t, c.State().IsPlaying)
}

func TestController_ControlsHideAfterInactivity(t *testing.T) {
	el := newFakeElement()
	c := NewController(el, Options{HideDelay: 60 * time.Millisecond}, testLogger())
	defer c.Close()

	assert.True(t, c.State().ControlsVisible)
	require.Eventually(t, func() bool { return !c.State().ControlsVisible }, time.Second, time.Millisecond)

	c.PointerMoved()
	assert.True(t, c.State().ControlsVisible)

	// Movement keeps pushing the deadline out.
	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		c.PointerMoved()
		assert.True(t, c.State().ControlsVisible)
	}
	require.Eventually(t, func() bool { return !c.State().ControlsVisible }, time.Second, time.Millisecond)

	c.PointerMoved()
	c.PointerLeft()
	assert.False(t, c.State().ControlsVisible)
}

func TestController_StaleTimerCannotHide(t *testing.T) {
	el := newFakeElement()
	c := NewController(el, Options{HideDelay: time.Hour}, testLogger())
	defer c.Close()

	c.mu.Lock()
	stale := c.timerGen
	c.mu.Unlock()

	c.PointerMoved()
	c.hideControls(stale)
	assert.True(t, c.State().ControlsVisible)
}

func TestController_CloseTearsDown(t *testing.T) {
	el := newFakeElement()
	c := NewController(el, Options{HideDelay: 10 * time.Millisecond}, testLogger())
	require.Equal(t, 1, el.subscribers())

	var events int
	c.Subscribe(func(PlaybackState) { events++ })

	c.Close()
	c.Close()
	assert.Equal(t, 0, el.subscribers())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, c.State().ControlsVisible, "timer cancelled on close")
	assert.Zero(t, events)
	assert.ErrorIs(t, c.SetSource("/x"), ErrClosed)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "00:00", FormatTime(0))
	assert.Equal(t, "00:45", FormatTime(45.9))
	assert.Equal(t, "01:05", FormatTime(65))
	assert.Equal(t, "125:00", FormatTime(7500))
	assert.Equal(t, "00:00", FormatTime(-3))
}
