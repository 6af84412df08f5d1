package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/securiface/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTPublisher forwards attendance events to an MQTT topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to broker (tcp://host:1883) with a random client id.
func NewMQTTPublisher(broker, topic string) (*MQTTPublisher, error) {
	clientID := "securiface-" + uuid.New().String()
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("connected to mqtt", logger.LoggerOptions{Key: "broker", Data: broker})
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", broker, token.Error())
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

// Publish sends one event as JSON (QoS 1, not retained).
func (p *MQTTPublisher) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// Run publishes attendance events arriving on ch until ctx is done, then removes ch from b.
// Register ch with b.AddListener before starting the loop so no early event is missed.
func (p *MQTTPublisher) Run(ctx context.Context, b *Broadcaster, ch chan Event) {
	defer b.RemoveListener(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != TypeAttendance {
				continue
			}
			if err := p.Publish(ev); err != nil {
				logger.Error("mqtt publish failed",
					logger.LoggerOptions{Key: "topic", Data: p.topic},
					logger.LoggerOptions{Key: "error", Data: err},
				)
			}
		}
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
