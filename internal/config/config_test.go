package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "localhost", cfg.BrokerHost)
	assert.Equal(t, 1883, cfg.BrokerPort)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 60*time.Second, cfg.SessionTimeout)
	assert.Equal(t, PolicyHangup, cfg.Policy)
	assert.Equal(t, "call2mqtt/call", cfg.Topics.IncomingCall)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CALL2MQTT_MQTT_HOST", "broker.lan")
	t.Setenv("CALL2MQTT_MQTT_PORT", "8883")
	t.Setenv("CALL2MQTT_MODEM_PORT", "/dev/ttyACM1")
	t.Setenv("CALL2MQTT_MODEM_RESTART_TIMEOUT", "90s")
	t.Setenv("CALL2MQTT_CALL_POLICY", "DTMF")
	t.Setenv("CALL2MQTT_DTMF_TONES", "12#")

	cfg := FromEnv()

	assert.Equal(t, "broker.lan", cfg.BrokerHost)
	assert.Equal(t, 8883, cfg.BrokerPort)
	assert.Equal(t, "/dev/ttyACM1", cfg.Device)
	assert.Equal(t, 90*time.Second, cfg.SessionTimeout)
	assert.Equal(t, PolicyDTMF, cfg.Policy)
	assert.Equal(t, "12#", cfg.DTMFTones)
	require.NoError(t, cfg.Validate())
}

func TestParseDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("CALL2MQTT_MODEM_RESTART_TIMEOUT", "120")
	cfg := FromEnv()
	assert.Equal(t, 120*time.Second, cfg.SessionTimeout)
}

func TestParseIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CALL2MQTT_MQTT_PORT", "not-a-port")
	cfg := FromEnv()
	assert.Equal(t, 1883, cfg.BrokerPort)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := FromEnv()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty broker host", func(c *Config) { c.BrokerHost = " " }},
		{"port out of range", func(c *Config) { c.BrokerPort = 70000 }},
		{"empty device", func(c *Config) { c.Device = "" }},
		{"zero baud", func(c *Config) { c.BaudRate = 0 }},
		{"zero timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"unknown policy", func(c *Config) { c.Policy = "answer-machine" }},
		{"dtmf without tones", func(c *Config) {
			c.Policy = PolicyDTMF
			c.DTMFTones = ""
		}},
		{"empty topic", func(c *Config) { c.Topics.Error = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := Config{BrokerHost: "10.0.0.5", BrokerPort: 1883}
	assert.Equal(t, "tcp://10.0.0.5:1883", cfg.BrokerURL())
}
