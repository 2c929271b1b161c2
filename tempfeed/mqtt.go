package tempfeed

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/brandondube/ringo"
	"github.com/cenkalti/backoff"
)

// DefaultChannelCapacity bounds the delivery channel; beyond this, older
// deliveries are dropped in favor of newer ones.
const DefaultChannelCapacity = 16

// diagnosticRingCapacity is the size of the raw-delivery ring buffers kept
// purely for "what did we see right before/after a broker drop" diagnostics,
// independent of the control loop's own history.History window.
const diagnosticRingCapacity = 64

// MQTTSubscriber delivers samples received on an MQTT topic.
type MQTTSubscriber struct {
	client mqtt.Client
	topic  string

	ch chan Delivery

	rawTemp ringo.CircleF64
	rawTime ringo.CircleTime
}

// NewMQTTSubscriber returns a subscriber for topic on the broker at
// brokerURL (e.g. "tcp://localhost:1883"). token, if non-empty, is sent
// as an MQTT username for brokers that gate subscriptions on it.
func NewMQTTSubscriber(brokerURL, topic, token string) *MQTTSubscriber {
	s := &MQTTSubscriber{
		topic: topic,
		ch:    make(chan Delivery, DefaultChannelCapacity),
	}
	s.rawTemp.Init(diagnosticRingCapacity)
	s.rawTime.Init(diagnosticRingCapacity)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("autoaircon").
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("tempfeed: mqtt connection lost: %v", err)
		})
	if token != "" {
		opts.SetUsername(token)
	}
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker, retrying with exponential backoff, and
// subscribes to the configured topic.
func (s *MQTTSubscriber) Start() error {
	op := func() error {
		tok := s.client.Connect()
		tok.Wait()
		return tok.Error()
	}
	if err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Clock:               backoff.SystemClock,
	}); err != nil {
		return fmt.Errorf("tempfeed: connect: %w", err)
	}

	tok := s.client.Subscribe(s.topic, 0, s.handle)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("tempfeed: subscribe %s: %w", s.topic, err)
	}
	return nil
}

func (s *MQTTSubscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	d, err := parsePayload(msg.Payload())
	if err != nil {
		log.Printf("tempfeed: %v", err)
		return
	}
	s.rawTemp.Append(d.Sample.Temp)
	s.rawTime.Append(time.Now())
	sendDropOldest(s.ch, d)
}

// Samples implements Subscriber.
func (s *MQTTSubscriber) Samples() <-chan Delivery {
	return s.ch
}

// Close implements Subscriber.
func (s *MQTTSubscriber) Close() error {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic)
		s.client.Disconnect(250)
	}
	close(s.ch)
	return nil
}

// RecentRaw returns the raw (unfiltered, pre-channel-drop) temperature
// and arrival-time samples retained for reconnect diagnostics.
func (s *MQTTSubscriber) RecentRaw() ([]float64, []time.Time) {
	return s.rawTemp.Contiguous(), s.rawTime.Contiguous()
}
