package player

type EventType string

const (
	EventLoadedMetadata   EventType = "loadedmetadata"
	EventTimeUpdate       EventType = "timeupdate"
	EventPlay             EventType = "play"
	EventPause            EventType = "pause"
	EventEnded            EventType = "ended"
	EventSeeked           EventType = "seeked"
	EventVolumeChange     EventType = "volumechange"
	EventRateChange       EventType = "ratechange"
	EventFullscreenChange EventType = "fullscreenchange"
)

// Event is a notification raised by the media element. Source names the media the element
// had loaded when it raised the event; events for any other source are stale.
type Event struct {
	Type        EventType `json:"type"`
	Source      string    `json:"source"`
	CurrentTime float64   `json:"currentTime,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Volume      float64   `json:"volume,omitempty"`
	Muted       bool      `json:"muted,omitempty"`
	Rate        float64   `json:"rate,omitempty"`
	Fullscreen  bool      `json:"fullscreen,omitempty"`
}

// Element is the media element the controller drives: a browser <video> behind a socket,
// an external player process, or a fake in tests.
//
// Load replaces the media and restores the element defaults (rate 1, volume 1, unmuted).
// Implementations may deliver events from any goroutine, including synchronously from
// inside a command.
type Element interface {
	Load(src string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetVolume(v float64) error
	SetMuted(muted bool) error
	SetRate(rate float64) error
	SetFullscreen(on bool) error
	Subscribe(fn func(Event)) (unsubscribe func())
}
