// Package telemetry publishes Guild Hall presence events over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicClientStatus = "client/status"
	TopicPresence     = "presence"
	TopicGames        = "games"
	TopicAdventures   = "adventures"
	TopicHealth       = "health"
)

// topicFor maps each published event type to its topic.
var topicFor = map[events.EventType]string{
	events.EventPlayerEnteredRoom:  TopicPresence,
	events.EventPlayerLeftRoom:     TopicPresence,
	events.EventGameListed:         TopicGames,
	events.EventGameUnlisted:       TopicGames,
	events.EventCreateConfirmed:    TopicGames,
	events.EventJoinConfirmed:      TopicGames,
	events.EventJoinCanceled:       TopicGames,
	events.EventAdventureLaunched:  TopicAdventures,
	events.EventAdventureConcluded: TopicAdventures,
	events.EventLaunchReport:       TopicAdventures,
	events.EventHealthWarning:      TopicHealth,
}

// Publisher is the subset of the MQTT client used for publishing.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler manages the MQTT connection and publishes presence events.
type MQTTHandler struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	client     mqtt.Client
	publisher  Publisher
	prefix     string
	instanceID string
	logger     zerolog.Logger

	// included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	handler := newHandler(cfg, eventBus)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID("guildhall-" + handler.instanceID)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.publisher = handler.client
	return handler, nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus) *MQTTHandler {
	app := cfg.GetApplicationData()
	player := cfg.GetPlayerData()
	sysInfo := util.GetSystemInfo()
	instanceID := uuid.NewString()

	prefix := app.MQTT.TopicPrefix
	if prefix == "" {
		prefix = "guildhall"
	}

	return &MQTTHandler{
		cfg:        cfg,
		eventBus:   eventBus,
		prefix:     prefix,
		instanceID: instanceID,
		logger:     util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"instance_id": instanceID,
			"player":      player.PlayerName,
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"os":          sysInfo.OS,
		},
	}
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the broker and publishes events until ctx is canceled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	h.logger.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicClientStatus, map[string]interface{}{"event": "online"})

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for eventType := range topicFor {
		h.eventBus.Subscribe(eventType, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for eventType := range topicFor {
		h.eventBus.Unsubscribe(eventType, "mqtt")
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, ok := topicFor[event.Type]
	if !ok {
		return nil
	}
	h.publish(topic, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// publish sends a JSON message to prefix/topic at QoS 1.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return
	}

	full := h.prefix + "/" + topic
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", full).Msg("failed to marshal MQTT message")
		return
	}

	token := h.publisher.Publish(full, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that this client is going offline.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicClientStatus, map[string]interface{}{"event": "offline"})
}
