// Package supervisor owns the modem session lifecycle: open, listen, tear
// down, restart. The loop never ends on its own; only process termination
// stops it.
package supervisor

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmamatov/call2mqtt/internal/config"
	"github.com/kmamatov/call2mqtt/internal/log"
	"github.com/kmamatov/call2mqtt/internal/metrics"
	"github.com/kmamatov/call2mqtt/internal/modem"
	"github.com/kmamatov/call2mqtt/internal/mqtt"
)

// Outcome tags how one session ended.
type Outcome string

const (
	// OutcomeTimedOut means the session reached its configured duration with
	// no fault. Expected; surfaced as a restart notification.
	OutcomeTimedOut Outcome = "timeout"

	// OutcomeErrored covers both open failures and delivery-loop faults.
	OutcomeErrored Outcome = "error"

	// OutcomeTerminated means the process is shutting down. No notification
	// goes out on this path.
	OutcomeTerminated Outcome = "terminated"
)

// Publisher is the notification sink for session lifecycle events.
type Publisher interface {
	Publish(topic, payload string) mqtt.Outcome
}

// Runner consumes a session's events for as long as the session lives.
type Runner interface {
	Run(ctx context.Context, sess modem.Session)
}

// Supervisor drives the Idle -> Opening -> Listening -> {TimedOut, Errored}
// -> Closing -> Idle loop. It exclusively owns the active session handle and
// the restart counter; no other goroutine touches either.
type Supervisor struct {
	factory modem.Factory
	runner  Runner
	pub     Publisher
	topics  config.Topics
	timeout time.Duration
	logger  zerolog.Logger

	// injectable for tests
	after func(time.Duration) <-chan time.Time
	now   func() time.Time

	// Incremented once per session open and once more per timeout, matching
	// the behavior external automation already keys on. Strictly increasing
	// for the process lifetime.
	restarts int
}

// New builds a supervisor. The factory opens hardware sessions, the runner
// consumes their events, and every lifecycle notification goes through pub.
func New(cfg config.Config, factory modem.Factory, runner Runner, pub Publisher) *Supervisor {
	return &Supervisor{
		factory: factory,
		runner:  runner,
		pub:     pub,
		topics:  cfg.Topics,
		timeout: cfg.SessionTimeout,
		logger:  log.WithComponent("supervisor"),
		after:   time.After,
		now:     time.Now,
	}
}

// Restarts returns the current restart counter value.
func (s *Supervisor) Restarts() int { return s.restarts }

// Run publishes the start notification, then loops sessions until ctx is
// done. No session failure ever escapes this loop.
func (s *Supervisor) Run(ctx context.Context) error {
	s.pub.Publish(s.topics.Start, s.now().Format("2006-01-02 15:04:05"))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome := s.runSession(ctx)
		metrics.IncSession(string(outcome))
		if outcome == OutcomeTerminated {
			return ctx.Err()
		}
	}
}

// runSession executes one full Opening -> Listening -> Closing cycle and
// reports how it ended. The session is closed on every exit path.
func (s *Supervisor) runSession(ctx context.Context) Outcome {
	s.bumpRestarts()

	s.logger.Info().
		Str("event", "session.opening").
		Int("restart_count", s.restarts).
		Msg("opening modem session")

	sess, err := s.factory(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeTerminated
		}
		s.logger.Warn().
			Err(err).
			Str("event", "session.open_failed").
			Msg("could not open modem session")
		s.pub.Publish(s.topics.Error, err.Error())
		return OutcomeErrored
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn().
				Err(cerr).
				Str("event", "session.close_failed").
				Msg("modem session close failed")
		}
	}()

	dispatchCtx, cancel := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.runner.Run(dispatchCtx, sess)
	}()
	defer func() {
		cancel()
		<-dispatchDone
	}()

	s.logger.Info().
		Str("event", "session.listening").
		Dur("timeout", s.timeout).
		Msg("waiting for incoming calls")

	select {
	case <-s.after(s.timeout):
		s.bumpRestarts()
		s.logger.Info().
			Str("event", "session.timeout").
			Int("restart_count", s.restarts).
			Msg("restart by timeout")
		s.pub.Publish(s.topics.Restart, strconv.Itoa(s.restarts))
		return OutcomeTimedOut

	case <-sess.Done():
		cause := "modem event loop terminated"
		if err := sess.Err(); err != nil {
			cause = err.Error()
		}
		s.logger.Warn().
			Str("event", "session.errored").
			Str("cause", cause).
			Msg("modem session failed")
		s.pub.Publish(s.topics.Error, cause)
		return OutcomeErrored

	case <-ctx.Done():
		s.logger.Info().
			Str("event", "session.terminated").
			Msg("shutdown requested, closing modem session")
		return OutcomeTerminated
	}
}

func (s *Supervisor) bumpRestarts() {
	s.restarts++
	metrics.RestartCounter.Set(float64(s.restarts))
}
