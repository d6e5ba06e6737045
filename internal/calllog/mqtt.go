package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publishes each record as JSON to
// {prefix}/call/{correlation id}/record. Messages are retained so a
// resubmission overwrites rather than duplicates the broker's copy.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// NewMQTTSink creates and connects an MQTT sink.
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return newMQTTSink(client, opts.TopicPrefix, opts.QoS), nil
}

func newMQTTSink(client mqtt.Client, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

// Topic returns the topic a record is published to.
func Topic(prefix, correlationID string) string {
	return fmt.Sprintf("%s/call/%s/record", prefix, correlationID)
}

func (s *MQTTSink) Submit(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	token := s.client.Publish(Topic(s.prefix, rec.ExternalCorrelationID), s.qos, true, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(1000)
	return nil
}
