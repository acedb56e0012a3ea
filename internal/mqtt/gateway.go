package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/kmamatov/call2mqtt/internal/log"
	"github.com/kmamatov/call2mqtt/internal/metrics"
)

// publisher is the slice of the paho client the gateway needs. The concrete
// client satisfies it; tests substitute a fake.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Outcome reports how a single publish attempt went. OK means the client
// queued the message for delivery to the broker, not that a subscriber saw it.
type Outcome struct {
	OK  bool
	Err error
}

// Gateway wraps the broker client with structured logging of every publish
// attempt. Publishing is fire-and-forget: failures are logged and counted,
// never retried and never escalated.
type Gateway struct {
	client  publisher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGateway returns a gateway publishing through the given client. A zero
// timeout disables the bounded wait and reports every queued publish as OK.
func NewGateway(client publisher, timeout time.Duration) *Gateway {
	return &Gateway{
		client:  client,
		timeout: timeout,
		logger:  log.WithComponent("publish"),
	}
}

// Publish sends payload to topic at QoS 0 and reports the delivery outcome.
// The outcome is always logged; a failed publish never fails the caller.
func (g *Gateway) Publish(topic, payload string) Outcome {
	token := g.client.Publish(topic, 0, false, payload)

	out := Outcome{OK: true}
	if g.timeout > 0 {
		if !token.WaitTimeout(g.timeout) {
			out = Outcome{OK: false, Err: errPublishTimeout}
		} else if err := token.Error(); err != nil {
			out = Outcome{OK: false, Err: err}
		}
	}

	status := "SUCCESS"
	if !out.OK {
		status = "ERROR"
	}
	evt := g.logger.Info().
		Str("event", "publish.attempt").
		Str("topic", topic).
		Str("payload", payload).
		Str("status", status)
	if out.Err != nil {
		evt = evt.Err(out.Err)
	}
	evt.Msg("published message")

	metrics.IncPublish(topic, out.OK)
	return out
}

var errPublishTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "publish confirmation timed out" }
