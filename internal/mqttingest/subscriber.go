package mqttingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/service"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	qos            = 1
	tokenTimeout   = 10 * time.Second
	defaultTimeout = 5 * time.Second
)

// Client is the part of the paho client the subscriber needs.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Ingester stores one submission.
type Ingester interface {
	Ingest(ctx context.Context, req service.IngestRequest) (models.StoredReading, error)
}

// Subscriber feeds readings published on an MQTT topic into the ingestion service.
// A single '+' wildcard in the topic filter names the basin.
type Subscriber struct {
	topic   string
	ingest  Ingester
	timeout time.Duration
	logger  zerolog.Logger
}

func NewSubscriber(topic string, ingest Ingester, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		topic:   topic,
		ingest:  ingest,
		timeout: defaultTimeout,
		logger:  logger.With().Str("component", "mqtt_ingest").Str("topic", topic).Logger(),
	}
}

// Subscribe registers the message handler. It is safe to call again after a reconnect.
func (s *Subscriber) Subscribe(c Client) error {
	token := c.Subscribe(s.topic, qos, s.handle)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe %s: timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info().Msg("subscribed")
	return nil
}

func (s *Subscriber) Unsubscribe(c Client) error {
	token := c.Unsubscribe(s.topic)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("unsubscribe %s: timed out", s.topic)
	}
	return token.Error()
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stored, err := s.ingest.Ingest(ctx, service.IngestRequest{
		Body:      msg.Payload(),
		BasinID:   BasinFromTopic(s.topic, msg.Topic()),
		Transport: service.TransportMQTT,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("message_topic", msg.Topic()).Msg("reading rejected")
		return
	}
	s.logger.Debug().Str("basin_id", stored.BasinID).Str("reading_id", stored.ID).Msg("reading stored")
}

// BasinFromTopic returns the topic level matched by the first '+' of filter,
// or "" when the topic does not match.
func BasinFromTopic(filter, topic string) string {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	basin := ""
	for i, f := range fl {
		if f == "#" {
			return basin
		}
		if i >= len(tl) {
			return ""
		}
		switch f {
		case "+":
			if basin == "" {
				basin = tl[i]
			}
		case tl[i]:
		default:
			return ""
		}
	}
	if len(tl) != len(fl) {
		return ""
	}
	return basin
}

// Connect dials the broker. onConnect runs after every (re)connection.
func Connect(broker, clientID string, onConnect func(mqtt.Client), logger zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		return client, fmt.Errorf("connect %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return client, nil
}
