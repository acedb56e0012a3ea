// Package mqtt owns the connection to the broker and the publish gateway the
// rest of the bridge goes through.
package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kmamatov/call2mqtt/internal/config"
	"github.com/kmamatov/call2mqtt/internal/log"
)

// Connect builds a paho client for the configured broker, starts its network
// loop and waits for the initial connection. The returned client reconnects
// on its own for the process lifetime; callers share it freely, paho
// synchronizes publish calls internally.
func Connect(cfg config.Config) (pahomqtt.Client, error) {
	logger := log.WithComponent("mqtt")

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "call2mqtt-" + uuid.NewString()[:8]
	}

	logger.Info().
		Str("event", "mqtt.connect").
		Str("broker", cfg.BrokerURL()).
		Str("client_id", clientID).
		Msg("connecting to MQTT broker")

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetUsername(cfg.BrokerLogin).
		SetPassword(cfg.BrokerPassword).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true)

	opts.OnConnect = func(pahomqtt.Client) {
		logger.Info().
			Str("event", "mqtt.connected").
			Str("broker", cfg.BrokerURL()).
			Msg("broker connection established")
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logger.Warn().
			Err(err).
			Str("event", "mqtt.connection_lost").
			Msg("broker connection lost, auto-reconnect will retry")
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout after %s", cfg.BrokerURL(), cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL(), err)
	}

	return client, nil
}
