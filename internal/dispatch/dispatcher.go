// Package dispatch turns telephony events into MQTT messages and steers the
// call according to the configured policy.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmamatov/call2mqtt/internal/config"
	"github.com/kmamatov/call2mqtt/internal/log"
	"github.com/kmamatov/call2mqtt/internal/modem"
	"github.com/kmamatov/call2mqtt/internal/mqtt"
	"github.com/kmamatov/call2mqtt/internal/phone"
)

// Publisher is what the dispatcher needs from the publish gateway.
type Publisher interface {
	Publish(topic, payload string) mqtt.Outcome
}

// Dispatcher consumes the event channel of one modem session and reacts to
// each event independently: publish to the bus, then apply call policy.
type Dispatcher struct {
	pub    Publisher
	topics config.Topics
	policy config.CallPolicy
	tones  string
	settle time.Duration
	logger zerolog.Logger
}

// New builds a dispatcher from the loaded configuration.
func New(pub Publisher, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		pub:    pub,
		topics: cfg.Topics,
		policy: cfg.Policy,
		tones:  cfg.DTMFTones,
		settle: cfg.DTMFSettle,
		logger: log.WithComponent("dispatch"),
	}
}

type callPayload struct {
	NumberOrig  string `json:"number_orig"`
	Type        string `json:"type"`
	PhoneNumber string `json:"phone_number"`
}

type smsPayload struct {
	Number string `json:"number"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

// Run consumes events until the session's channel closes or ctx ends. It is
// meant to run on its own goroutine while the supervisor blocks in Listening.
func (d *Dispatcher) Run(ctx context.Context, sess modem.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case modem.RingEvent:
				d.HandleRing(ctx, sess, e.Call)
			case modem.SMSEvent:
				d.HandleSMS(e)
			}
		}
	}
}

// HandleRing applies the call policy to one ring notification. The bus
// message goes out on the first ring only; every later ring is line control.
func (d *Dispatcher) HandleRing(ctx context.Context, line modem.CallControl, call modem.CallEvent) {
	switch {
	case call.RingCount == 1:
		d.logger.Info().
			Str("event", "call.incoming").
			Str("number", call.Number).
			Int("type", call.TON).
			Msg("incoming call")
		d.publishCall(call)
		if d.policy == config.PolicyHangup {
			d.hangup(ctx, line)
		}
	case call.RingCount >= 2 && d.policy == config.PolicyDTMF && call.DTMFCapable:
		d.answerAndPlay(ctx, line)
	default:
		// Never leave a call ringing indefinitely.
		d.hangup(ctx, line)
	}
}

// HandleSMS logs and republishes one received message. No acknowledgment is
// sent back to the sender.
func (d *Dispatcher) HandleSMS(sms modem.SMSEvent) {
	d.logger.Info().
		Str("event", "sms.received").
		Str("number", sms.Number).
		Str("time", sms.Time).
		Str("text", sms.Text).
		Msg("SMS message received")

	payload, err := json.Marshal(smsPayload{Number: sms.Number, Time: sms.Time, Text: sms.Text})
	if err != nil {
		d.logger.Error().Err(err).Str("event", "sms.encode_failed").Msg("dropping SMS notification")
		return
	}
	d.pub.Publish(d.topics.IncomingSMS, string(payload))
}

func (d *Dispatcher) publishCall(call modem.CallEvent) {
	payload, err := json.Marshal(callPayload{
		NumberOrig:  call.Number,
		Type:        strconv.Itoa(call.TON),
		PhoneNumber: phone.Normalize(call.Number, call.TON),
	})
	if err != nil {
		d.logger.Error().Err(err).Str("event", "call.encode_failed").Msg("dropping call notification")
		return
	}
	d.pub.Publish(d.topics.IncomingCall, string(payload))
}

// answerAndPlay picks up the call, waits for slow hardware to settle, plays
// the configured tone sequence and hangs up if the remote side is still
// there. An interrupted playback means the caller already hung up; it is
// logged and goes no further.
func (d *Dispatcher) answerAndPlay(ctx context.Context, line modem.CallControl) {
	if err := line.Answer(ctx); err != nil {
		d.logger.Warn().Err(err).Str("event", "call.answer_failed").Msg("could not answer call")
		d.hangup(ctx, line)
		return
	}

	select {
	case <-time.After(d.settle):
	case <-ctx.Done():
		d.hangup(ctx, line)
		return
	}

	result := line.PlayDTMF(ctx, d.tones)
	if result.Completed {
		d.logger.Info().
			Str("event", "call.dtmf_played").
			Str("tones", d.tones).
			Msg("tone sequence played")
		d.hangup(ctx, line)
		return
	}
	d.logger.Info().
		Err(result.Cause).
		Str("event", "call.dtmf_interrupted").
		Msg("tone playback interrupted")
}

func (d *Dispatcher) hangup(ctx context.Context, line modem.CallControl) {
	if err := line.Hangup(ctx); err != nil {
		d.logger.Warn().Err(err).Str("event", "call.hangup_failed").Msg("could not hang up")
	}
}
