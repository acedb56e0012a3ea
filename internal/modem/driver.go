package modem

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/kmamatov/call2mqtt/internal/log"
	"github.com/kmamatov/call2mqtt/internal/metrics"
)

// Config holds everything needed to open the hardware.
type Config struct {
	Device   string
	BaudRate int
	SIMPin   string
}

const (
	// commandTimeout bounds one AT command exchange.
	commandTimeout = 5 * time.Second

	// ringGap is the silence after which the next RING is treated as a new
	// call rather than a continuation of the previous one.
	ringGap = 10 * time.Second

	eventBuffer = 16
)

type cmdReply struct {
	final string
	data  []string
}

// Driver is a Session backed by a serial AT-command modem. A single reader
// goroutine owns the port input: it routes unsolicited RING/+CLIP/+CMT lines
// to the event channel and final result codes to the command in flight.
type Driver struct {
	cfg    Config
	port   serial.Port
	logger zerolog.Logger

	events chan Event
	done   chan struct{}

	cmdMu   sync.Mutex // serializes command exchanges on the wire
	replyMu sync.Mutex
	waiting chan cmdReply // non-nil while a command awaits its final result

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	errMu sync.Mutex
	err   error

	callMu      sync.Mutex
	ringCount   int
	pendingRing bool
	number      string
	ton         int
	lastRing    time.Time

	smsHeader *SMSEvent // header seen, body line pending (reader only)

	dtmfCapable bool
}

var _ Session = (*Driver)(nil)

// Open connects to the modem on the configured device, runs the init command
// sequence (caller id, SIM unlock, SMS delivery mode, DTMF capability probe)
// and starts event delivery. The returned driver must be closed by the caller
// on every path.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	logger := log.WithComponent("modem")
	logger.Info().
		Str("event", "modem.open").
		Str("device", cfg.Device).
		Int("baudrate", cfg.BaudRate).
		Msg("opening modem")

	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	d := &Driver{
		cfg:    cfg,
		port:   port,
		logger: logger,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go d.readLoop()

	if err := d.init(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}

	logger.Info().
		Str("event", "modem.ready").
		Bool("dtmf_capable", d.dtmfCapable).
		Msg("modem initialised, waiting for events")
	return d, nil
}

func (d *Driver) init(ctx context.Context) error {
	for _, cmd := range []string{"ATZ", "ATE0", "AT+CLIP=1"} {
		if err := d.run(ctx, cmd); err != nil {
			return fmt.Errorf("init %s: %w", cmd, err)
		}
	}

	if d.cfg.SIMPin != "" {
		reply, err := d.exchange(ctx, "AT+CPIN?")
		if err != nil {
			return fmt.Errorf("query SIM state: %w", err)
		}
		if replyContains(reply, "SIM PIN") {
			if err := d.run(ctx, fmt.Sprintf("AT+CPIN=%q", d.cfg.SIMPin)); err != nil {
				return fmt.Errorf("unlock SIM: %w", err)
			}
		}
	}

	// SMS delivery is best-effort: not every modem supports direct +CMT
	// forwarding, and call handling must still work without it.
	for _, cmd := range []string{"AT+CMGF=1", "AT+CNMI=2,2,0,0,0"} {
		if err := d.run(ctx, cmd); err != nil {
			d.logger.Warn().
				Err(err).
				Str("event", "modem.sms_init_failed").
				Str("command", cmd).
				Msg("SMS delivery unavailable")
			break
		}
	}

	reply, err := d.exchange(ctx, "AT+VTS=?")
	d.dtmfCapable = err == nil && reply.final == "OK"

	return nil
}

// Events returns the channel ring and SMS notifications arrive on. It is
// closed when the delivery loop terminates.
func (d *Driver) Events() <-chan Event { return d.events }

// Done is closed when the background delivery loop has terminated.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Err reports why the delivery loop terminated. It is nil after an explicit
// Close and while the loop is still running.
func (d *Driver) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Answer picks up the ringing call.
func (d *Driver) Answer(ctx context.Context) error {
	return d.run(ctx, "ATA")
}

// Hangup terminates the active or ringing call and resets per-call state.
func (d *Driver) Hangup(ctx context.Context) error {
	err := d.run(ctx, "ATH")
	d.resetCall()
	return err
}

// PlayDTMF plays the tone sequence into the answered call, one AT+VTS command
// per tone. A NO CARRIER final means the remote party hung up mid-playback;
// that is reported as an interrupted playback, not as an error.
func (d *Driver) PlayDTMF(ctx context.Context, tones string) PlaybackResult {
	for _, tone := range tones {
		reply, err := d.exchange(ctx, fmt.Sprintf("AT+VTS=%c", tone))
		if err != nil {
			return PlaybackResult{Cause: err}
		}
		switch reply.final {
		case "OK":
		case "NO CARRIER":
			return PlaybackResult{Cause: fmt.Errorf("remote party hung up during tone %q", string(tone))}
		default:
			return PlaybackResult{Cause: fmt.Errorf("play tone %q: modem answered %s", string(tone), reply.final)}
		}
	}
	return PlaybackResult{Completed: true}
}

// Close releases the serial port and waits for the delivery loop to stop.
// Safe to call multiple times.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.port.Close()
		<-d.done
		d.logger.Info().Str("event", "modem.closed").Msg("modem session closed")
	})
	return d.closeErr
}

// run executes one AT command and expects an OK final result.
func (d *Driver) run(ctx context.Context, cmd string) error {
	reply, err := d.exchange(ctx, cmd)
	if err != nil {
		return err
	}
	if reply.final != "OK" {
		return fmt.Errorf("command %s: modem answered %s", cmd, reply.final)
	}
	return nil
}

// exchange writes one AT command and waits for its final result code.
func (d *Driver) exchange(ctx context.Context, cmd string) (cmdReply, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	reply := make(chan cmdReply, 1)
	d.replyMu.Lock()
	d.waiting = reply
	d.replyMu.Unlock()
	defer func() {
		d.replyMu.Lock()
		d.waiting = nil
		d.replyMu.Unlock()
	}()

	if _, err := d.port.Write([]byte(cmd + "\r")); err != nil {
		return cmdReply{}, fmt.Errorf("write %s: %w", cmd, err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-time.After(commandTimeout):
		return cmdReply{}, fmt.Errorf("command %s: no response within %s", cmd, commandTimeout)
	case <-ctx.Done():
		return cmdReply{}, ctx.Err()
	case <-d.done:
		return cmdReply{}, fmt.Errorf("command %s: modem session terminated", cmd)
	}
}

func (d *Driver) readLoop() {
	defer close(d.done)
	defer close(d.events)

	var data []string
	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if d.handleUnsolicited(line) {
			continue
		}
		if isFinalResult(line) {
			d.replyMu.Lock()
			waiting := d.waiting
			d.waiting = nil
			d.replyMu.Unlock()
			if waiting != nil {
				waiting <- cmdReply{final: line, data: data}
				data = nil
				continue
			}
			if line == "NO CARRIER" {
				// Caller hung up between rings.
				d.resetCall()
				continue
			}
			d.logger.Debug().Str("line", line).Msg("unmatched final result")
			continue
		}
		if d.smsHeader != nil {
			sms := *d.smsHeader
			sms.Text = line
			d.smsHeader = nil
			d.emit(sms, "sms")
			continue
		}
		d.replyMu.Lock()
		waiting := d.waiting != nil
		d.replyMu.Unlock()
		if waiting {
			data = append(data, line)
			continue
		}
		d.logger.Debug().Str("line", line).Msg("unhandled modem line")
	}

	err := scanner.Err()
	if !d.closed.Load() {
		if err == nil {
			err = fmt.Errorf("modem stream closed unexpectedly")
		}
		d.errMu.Lock()
		d.err = err
		d.errMu.Unlock()
	}
}

// handleUnsolicited reacts to notification lines the modem pushes on its own.
// Returns true when the line was consumed.
func (d *Driver) handleUnsolicited(line string) bool {
	switch {
	case line == "RING":
		d.onRing()
		return true
	case strings.HasPrefix(line, "+CLIP:"):
		number, ton, ok := parseCLIP(line)
		if !ok {
			d.logger.Warn().Str("line", line).Msg("unparseable +CLIP line")
			return true
		}
		d.onCallerID(number, ton)
		return true
	case strings.HasPrefix(line, "+CMT:"):
		number, timestamp, ok := parseCMTHeader(line)
		if !ok {
			d.logger.Warn().Str("line", line).Msg("unparseable +CMT header")
			return true
		}
		d.smsHeader = &SMSEvent{Number: number, Time: timestamp}
		return true
	}
	return false
}

func (d *Driver) onRing() {
	d.callMu.Lock()
	if !d.lastRing.IsZero() && time.Since(d.lastRing) > ringGap {
		d.ringCount = 0
		d.number = ""
		d.ton = 0
	}
	d.ringCount++
	d.lastRing = time.Now()
	d.pendingRing = d.number == ""
	emit := !d.pendingRing
	ev := d.ringEventLocked()
	d.callMu.Unlock()

	if emit {
		d.emit(ev, "ring")
	}
}

func (d *Driver) onCallerID(number string, ton int) {
	d.callMu.Lock()
	d.number = number
	d.ton = ton
	emit := d.pendingRing
	d.pendingRing = false
	ev := d.ringEventLocked()
	d.callMu.Unlock()

	if emit {
		d.emit(ev, "ring")
	}
}

func (d *Driver) ringEventLocked() RingEvent {
	return RingEvent{Call: CallEvent{
		Number:      d.number,
		TON:         d.ton,
		RingCount:   d.ringCount,
		DTMFCapable: d.dtmfCapable,
	}}
}

func (d *Driver) resetCall() {
	d.callMu.Lock()
	d.ringCount = 0
	d.pendingRing = false
	d.number = ""
	d.ton = 0
	d.lastRing = time.Time{}
	d.callMu.Unlock()
}

// emit delivers an event without ever blocking the read loop. A full buffer
// drops the event; delivery is best-effort end to end.
func (d *Driver) emit(ev Event, eventType string) {
	metrics.IncEvent(eventType)
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().
			Str("event", "modem.event_dropped").
			Str("type", eventType).
			Msg("event buffer full, dropping")
	}
}

func replyContains(reply cmdReply, substr string) bool {
	for _, line := range reply.data {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
