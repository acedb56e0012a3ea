package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmamatov/call2mqtt/internal/config"
	"github.com/kmamatov/call2mqtt/internal/modem"
	"github.com/kmamatov/call2mqtt/internal/mqtt"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
	onTopic  func(topic string)
}

type recordedMessage struct {
	topic   string
	payload string
}

func (p *recordingPublisher) Publish(topic, payload string) mqtt.Outcome {
	p.mu.Lock()
	p.messages = append(p.messages, recordedMessage{topic: topic, payload: payload})
	p.mu.Unlock()
	if p.onTopic != nil {
		p.onTopic(topic)
	}
	return mqtt.Outcome{OK: true}
}

func (p *recordingPublisher) byTopic(topic string) []recordedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedMessage
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeSession struct {
	events    chan modem.Event
	done      chan struct{}
	err       error
	closeOnce sync.Once
	closes    *int
}

func newFakeSession(closes *int) *fakeSession {
	return &fakeSession{
		events: make(chan modem.Event),
		done:   make(chan struct{}),
		closes: closes,
	}
}

func (s *fakeSession) Events() <-chan modem.Event { return s.events }
func (s *fakeSession) Done() <-chan struct{}      { return s.done }
func (s *fakeSession) Err() error                 { return s.err }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { *s.closes++ })
	return nil
}

func (s *fakeSession) Answer(context.Context) error { return nil }
func (s *fakeSession) Hangup(context.Context) error { return nil }
func (s *fakeSession) PlayDTMF(context.Context, string) modem.PlaybackResult {
	return modem.PlaybackResult{Completed: true}
}

// idleRunner blocks like the real dispatcher does when no events arrive.
type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, _ modem.Session) { <-ctx.Done() }

func testSupervisor(factory modem.Factory, pub Publisher) *Supervisor {
	cfg := config.FromEnv()
	return New(cfg, factory, idleRunner{}, pub)
}

func expiredTimer(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func frozenTimer(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func TestTimeoutPublishesRestartAndCloses(t *testing.T) {
	closes := 0
	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		return newFakeSession(&closes), nil
	}, pub)
	s.after = expiredTimer

	outcome := s.runSession(context.Background())

	assert.Equal(t, OutcomeTimedOut, outcome)
	assert.Equal(t, 1, closes)

	restarts := pub.byTopic("call2mqtt/restart")
	require.Len(t, restarts, 1)
	// One increment at session open, one more at timeout.
	assert.Equal(t, "2", restarts[0].payload)
}

func TestSessionFaultPublishesError(t *testing.T) {
	closes := 0
	sess := newFakeSession(&closes)
	sess.err = errors.New("rx loop died")
	close(sess.done)

	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		return sess, nil
	}, pub)
	s.after = frozenTimer

	outcome := s.runSession(context.Background())

	assert.Equal(t, OutcomeErrored, outcome)
	assert.Equal(t, 1, closes)

	errs := pub.byTopic("call2mqtt/error")
	require.Len(t, errs, 1)
	assert.Equal(t, "rx loop died", errs[0].payload)
	assert.Empty(t, pub.byTopic("call2mqtt/restart"))
}

func TestOpenFailurePublishesErrorAndLoopReopens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("serial port busy")
		}
		// Second open attempt proves the loop survived. Stop here.
		cancel()
		return nil, errors.New("stopping test")
	}, pub)
	s.after = frozenTimer

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)

	errs := pub.byTopic("call2mqtt/error")
	require.Len(t, errs, 1)
	assert.Equal(t, "serial port busy", errs[0].payload)
}

func TestExternalTerminationClosesWithoutNotification(t *testing.T) {
	closes := 0
	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		return newFakeSession(&closes), nil
	}, pub)
	s.after = frozenTimer

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := s.runSession(ctx)

	assert.Equal(t, OutcomeTerminated, outcome)
	assert.Equal(t, 1, closes)
	assert.Empty(t, pub.messages)
}

func TestEverySessionEndingClosesExactlyOnce(t *testing.T) {
	closes := 0
	nextFaults := false
	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		sess := newFakeSession(&closes)
		if nextFaults {
			sess.err = errors.New("fault")
			close(sess.done)
		}
		return sess, nil
	}, pub)

	endings := []Outcome{OutcomeTimedOut, OutcomeErrored, OutcomeTimedOut, OutcomeErrored, OutcomeTimedOut}
	for i, want := range endings {
		nextFaults = want == OutcomeErrored
		if want == OutcomeTimedOut {
			s.after = expiredTimer
		} else {
			s.after = frozenTimer
		}
		got := s.runSession(context.Background())
		assert.Equal(t, want, got, "ending %d", i)
	}

	assert.Equal(t, len(endings), closes)
}

func TestRestartCounterIsStrictlyIncreasing(t *testing.T) {
	closes := 0
	pub := &recordingPublisher{}
	s := testSupervisor(func(context.Context) (modem.Session, error) {
		return newFakeSession(&closes), nil
	}, pub)
	s.after = expiredTimer

	last := s.Restarts()
	for i := 0; i < 5; i++ {
		s.runSession(context.Background())
		assert.Greater(t, s.Restarts(), last)
		last = s.Restarts()
	}
}

func TestRunPublishesStartThenRestartsForever(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closes := 0
	pub := &recordingPublisher{}
	restartsSeen := 0
	pub.onTopic = func(topic string) {
		if topic == "call2mqtt/restart" {
			restartsSeen++
			if restartsSeen == 2 {
				cancel()
			}
		}
	}

	s := testSupervisor(func(context.Context) (modem.Session, error) {
		return newFakeSession(&closes), nil
	}, pub)
	s.after = expiredTimer

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NotEmpty(t, pub.messages)
	assert.Equal(t, "call2mqtt/start", pub.messages[0].topic)
	assert.NotEmpty(t, pub.messages[0].payload)

	restarts := pub.byTopic("call2mqtt/restart")
	require.Len(t, restarts, 2)
	assert.Equal(t, "2", restarts[0].payload)
	assert.Equal(t, "4", restarts[1].payload)
}
