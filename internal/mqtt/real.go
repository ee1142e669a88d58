package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultBufferSize is the number of messages kept while the broker is unreachable.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed after reconnection.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu      sync.Mutex
	buf     *ringBuffer
	handler func(payload string)
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker holds a retained OFFLINE will on the system topic.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "speedometer"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics: NewTopics(o.TopicPrefix),
		buf:    newRingBuffer(o.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.topics.System, string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// Retry continues in the background; publishes buffer until then.
		log.Printf("mqtt: broker %s not reachable yet, buffering", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect restores the command subscription and flushes the buffer.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	handler := p.handler
	pending, dropped := p.buf.drainAll()
	p.mu.Unlock()

	log.Printf("mqtt: connected")
	if handler != nil {
		if err := p.subscribe(handler); err != nil {
			log.Printf("mqtt: resubscribe: %v", err)
		}
	}

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(pending), dropped)
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// PublishReading sends the period counter, speed string and JSON reading.
func (p *RealPublisher) PublishReading(r Reading) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0, retained so late subscribers see the current value
	if err := p.publish(p.topics.Period, 0, true, r.PeriodPayload()); err != nil {
		return err
	}
	if err := p.publish(p.topics.Speed, 0, true, []byte(r.Speed)); err != nil {
		return err
	}
	return p.publish(p.topics.Reading, 0, false, payload)
}

// PublishSystem sends a system event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle and calibration events
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.enqueue(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *RealPublisher) enqueue(m bufferedMsg) {
	p.mu.Lock()
	p.buf.push(m)
	p.mu.Unlock()
}

// SubscribeCommands registers handler for payloads on the command topic.
// The subscription is restored on every reconnect.
func (p *RealPublisher) SubscribeCommands(handler func(payload string)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribe(handler)
}

func (p *RealPublisher) subscribe(handler func(payload string)) error {
	token := p.client.Subscribe(p.topics.Command, 1, func(_ paho.Client, m paho.Message) {
		handler(string(m.Payload()))
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", p.topics.Command)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.topics.Command, err)
	}
	return nil
}

// IsConnected reports whether the MQTT client has an active connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for reconnection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
