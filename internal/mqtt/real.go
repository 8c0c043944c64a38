package mqtt

import (
	"fmt"
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
}

// RealPublisher publishes to a broker.
type RealPublisher struct {
	client paho.Client
	topic  string
	logger logger.Logger
}

// NewRealPublisher connects to cfg.Broker. The client reconnects on its
// own after the first successful connection.
func NewRealPublisher(cfg Config, log logger.Logger) (*RealPublisher, error) {
	errFactory := errors.New()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bcld"
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errFactory.WithMessage(ErrTimeout, "mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errFactory.Wrap(ErrConnect, err)
	}

	return &RealPublisher{client: client, topic: topic, logger: log}, nil
}

// Publish sends ev with QoS 0, not retained.
func (p *RealPublisher) Publish(ev event.Event) error {
	errFactory := errors.New()

	payload, err := FormatPayload(ev)
	if err != nil {
		return errFactory.Wrap(ErrFormat, err)
	}

	token := p.client.Publish(Topic(p.topic, ev), 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errFactory.WithMessage(ErrTimeout, fmt.Sprintf("publish to %s timed out", Topic(p.topic, ev)))
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}
	return nil
}

func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
