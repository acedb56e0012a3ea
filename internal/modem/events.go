// Package modem is the boundary to the GSM hardware: typed telephony events
// delivered over a channel, call control operations, and a serial AT-command
// driver implementing both.
package modem

import "context"

// CallEvent describes one ring notification for an incoming call. RingCount
// increases monotonically while the same call keeps ringing.
type CallEvent struct {
	Number      string
	TON         int
	RingCount   int
	DTMFCapable bool
}

// SMSEvent describes one received text message.
type SMSEvent struct {
	Number string
	Time   string
	Text   string
}

// Event is the sum of everything the driver can deliver.
type Event interface {
	eventType() string
}

// RingEvent wraps a CallEvent for channel delivery.
type RingEvent struct {
	Call CallEvent
}

func (RingEvent) eventType() string { return "ring" }

func (SMSEvent) eventType() string { return "sms" }

// PlaybackResult reports how a DTMF tone sequence ended. Cause carries the
// reason when the remote party hung up mid-playback; an interrupted playback
// is an expected outcome, not an error to propagate.
type PlaybackResult struct {
	Completed bool
	Cause     error
}

// CallControl is the subset of a session used to steer an active call.
type CallControl interface {
	Answer(ctx context.Context) error
	Hangup(ctx context.Context) error
	PlayDTMF(ctx context.Context, tones string) PlaybackResult
}

// Session is one open connection to the modem, from establishment to close.
// Events delivers ring and SMS notifications until the session ends; Done is
// closed when the background delivery loop terminates, with Err carrying the
// cause. Close releases the hardware and is safe to call more than once.
type Session interface {
	CallControl
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Factory opens a new session. The supervisor owns exactly one session at a
// time; tests inject factories that fabricate sessions without hardware.
type Factory func(ctx context.Context) (Session, error)
