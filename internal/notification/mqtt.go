package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/model"
)

type mqttPublisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTSink publishes each notification to <prefix>/<recipient>.
type MQTTSink struct {
	cm     mqttPublisher
	prefix string
	qos    byte
	log    *zap.Logger
	close  func(ctx context.Context) error
}

// NewMQTTSink connects to the broker in the background and returns a sink
// bound to that connection.
func NewMQTTSink(ctx context.Context, cfg config.MQTTConfig, log *zap.Logger) (*MQTTSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	brokerURL, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     keepAlive,
		ReconnectBackoff:              autopaho.NewConstantBackoff(5 * time.Second),
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		ConnectUsername:               cfg.Username,
		ConnectPassword:               []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, c *paho.Connack) {
			log.Info("connected to MQTT broker", zap.String("broker", cfg.BrokerURL))
		},
		OnConnectError: func(err error) {
			log.Warn("failed to connect to MQTT broker", zap.String("broker", cfg.BrokerURL), zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				log.Error("MQTT client error", zap.Error(err))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				log.Info("MQTT server requested disconnect", zap.Uint8("reason_code", d.ReasonCode))
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt connection manager: %w", err)
	}
	return &MQTTSink{cm: cm, prefix: cfg.TopicPrefix, qos: 1, log: log, close: cm.Disconnect}, nil
}

// Name implements AlertSink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic a recipient's notifications are published on.
func (s *MQTTSink) Topic(recipient string) string {
	return s.prefix + "/" + recipient
}

// Deliver implements AlertSink.
func (s *MQTTSink) Deliver(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	pr, err := s.cm.Publish(ctx, &paho.Publish{
		QoS:     s.qos,
		Topic:   s.Topic(n.Recipient),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.Topic(n.Recipient), err)
	}
	// 16: accepted, no subscribers.
	if pr != nil && pr.ReasonCode != 0 && pr.ReasonCode != 16 {
		return fmt.Errorf("publish to %s: reason code %d", s.Topic(n.Recipient), pr.ReasonCode)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
