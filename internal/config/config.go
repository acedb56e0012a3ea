package config

import (
	"fmt"
	"strings"
	"time"
)

// CallPolicy selects how the dispatcher treats an incoming call after the
// first ring. The two policies are mutually exclusive deployment variants.
type CallPolicy string

const (
	// PolicyHangup terminates every call without answering. This is the
	// production default: the call itself is the signal.
	PolicyHangup CallPolicy = "hangup"

	// PolicyDTMF answers on the second ring and plays a fixed tone sequence
	// into the call (e.g. to trigger a remote relay), then hangs up.
	PolicyDTMF CallPolicy = "dtmf"
)

// Topics holds the MQTT topic names for every notification the bridge emits.
type Topics struct {
	Start        string
	IncomingCall string
	IncomingSMS  string
	Restart      string
	Error        string
}

// Config is the full static configuration of the bridge. It is loaded once at
// startup and never re-read.
type Config struct {
	// MQTT broker
	BrokerHost     string
	BrokerPort     int
	BrokerLogin    string
	BrokerPassword string
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Topics         Topics

	// Modem hardware
	Device         string
	BaudRate       int
	SIMPin         string
	SessionTimeout time.Duration

	// Call handling
	Policy     CallPolicy
	DTMFTones  string
	DTMFSettle time.Duration

	// Observability
	LogLevel    string
	MetricsAddr string
}

// FromEnv loads the configuration from CALL2MQTT_* environment variables,
// applying defaults for everything optional.
func FromEnv() Config {
	return Config{
		BrokerHost:     ParseString("CALL2MQTT_MQTT_HOST", "localhost"),
		BrokerPort:     ParseInt("CALL2MQTT_MQTT_PORT", 1883),
		BrokerLogin:    ParseString("CALL2MQTT_MQTT_LOGIN", ""),
		BrokerPassword: ParseString("CALL2MQTT_MQTT_PASSWORD", ""),
		ClientID:       ParseString("CALL2MQTT_MQTT_CLIENT_ID", ""),
		ConnectTimeout: ParseDuration("CALL2MQTT_MQTT_CONNECT_TIMEOUT", 10*time.Second),
		PublishTimeout: ParseDuration("CALL2MQTT_MQTT_PUBLISH_TIMEOUT", 5*time.Second),
		Topics: Topics{
			Start:        ParseString("CALL2MQTT_TOPIC_START", "call2mqtt/start"),
			IncomingCall: ParseString("CALL2MQTT_TOPIC_CALL", "call2mqtt/call"),
			IncomingSMS:  ParseString("CALL2MQTT_TOPIC_SMS", "call2mqtt/sms"),
			Restart:      ParseString("CALL2MQTT_TOPIC_RESTART", "call2mqtt/restart"),
			Error:        ParseString("CALL2MQTT_TOPIC_ERROR", "call2mqtt/error"),
		},
		Device:         ParseString("CALL2MQTT_MODEM_PORT", "/dev/ttyUSB0"),
		BaudRate:       ParseInt("CALL2MQTT_MODEM_BAUDRATE", 115200),
		SIMPin:         ParseString("CALL2MQTT_MODEM_SIM_PIN", ""),
		SessionTimeout: ParseDuration("CALL2MQTT_MODEM_RESTART_TIMEOUT", 60*time.Second),
		Policy:         CallPolicy(strings.ToLower(ParseString("CALL2MQTT_CALL_POLICY", string(PolicyHangup)))),
		DTMFTones:      ParseString("CALL2MQTT_DTMF_TONES", "1"),
		DTMFSettle:     ParseDuration("CALL2MQTT_DTMF_SETTLE", 2*time.Second),
		LogLevel:       ParseString("CALL2MQTT_LOG_LEVEL", "info"),
		MetricsAddr:    ParseString("CALL2MQTT_METRICS_ADDR", ""),
	}
}

// Validate rejects configurations the daemon cannot start with. It is called
// once at startup; the daemon fails fast on any error here.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BrokerHost) == "" {
		return fmt.Errorf("broker host must not be empty")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("broker port %d out of range", c.BrokerPort)
	}
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("modem device path must not be empty")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate %d must be positive", c.BaudRate)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout %s must be positive", c.SessionTimeout)
	}
	switch c.Policy {
	case PolicyHangup, PolicyDTMF:
	default:
		return fmt.Errorf("unknown call policy %q (want %q or %q)", c.Policy, PolicyHangup, PolicyDTMF)
	}
	if c.Policy == PolicyDTMF && strings.TrimSpace(c.DTMFTones) == "" {
		return fmt.Errorf("dtmf policy requires a tone sequence")
	}
	for _, t := range []string{c.Topics.Start, c.Topics.IncomingCall, c.Topics.IncomingSMS, c.Topics.Restart, c.Topics.Error} {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("topic names must not be empty")
		}
	}
	return nil
}

// BrokerURL returns the tcp:// URL of the configured broker.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerHost, c.BrokerPort)
}
