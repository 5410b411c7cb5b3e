// Package telemetry publishes control loop activity to an MQTT broker so a
// remote dashboard can follow the car. Publishing is asynchronous and lossy:
// the loop hands reports to a bounded queue and never waits on the network.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/monitoring"
)

const (
	queueSize      = 64
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
	qos            = 0
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// NewClient connects to broker (e.g. "tcp://localhost:1883") with automatic
// reconnection enabled.
func NewClient(broker string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("camdrive-" + uuid.NewString()[:8])
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		monitoring.Logf("telemetry: connected to %s", broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		monitoring.Logf("telemetry: connection to %s lost: %v", broker, err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("telemetry: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to %s failed: %w", broker, err)
	}
	return client, nil
}

// StateMessage is published on <topic>/state for each transition.
type StateMessage struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type message struct {
	topic   string
	payload []byte
}

// Publisher is a controlloop.Observer publishing JSON messages: cycle
// reports on <topic>/cycle and transitions on <topic>/state.
type Publisher struct {
	client Client
	topic  string
	queue  chan message
	done   chan struct{}

	mu        sync.Mutex
	published int
	dropped   int
	failed    int
	closed    bool
}

// NewPublisher starts the publishing goroutine. Call Close to drain and
// stop it.
func NewPublisher(client Client, topic string) *Publisher {
	p := &Publisher{
		client: client,
		topic:  topic,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for m := range p.queue {
		token := p.client.Publish(m.topic, qos, false, m.payload)
		var err error
		if !token.WaitTimeout(publishTimeout) {
			err = errors.New("timeout")
		} else {
			err = token.Error()
		}

		p.mu.Lock()
		if err != nil {
			p.failed++
		} else {
			p.published++
		}
		p.mu.Unlock()

		if err != nil {
			monitoring.Logf("telemetry: publish to %s failed: %v", m.topic, err)
		}
	}
}

// ObserveCycle queues a cycle report.
func (p *Publisher) ObserveCycle(r controlloop.CycleReport) {
	p.enqueue(p.topic+"/cycle", r)
}

// ObserveState queues a state transition.
func (p *Publisher) ObserveState(from, to controlloop.State, at time.Time) {
	p.enqueue(p.topic+"/state", StateMessage{From: from.String(), To: to.String(), At: at})
}

func (p *Publisher) enqueue(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("telemetry: failed to marshal %T: %v", v, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		p.dropped++
	}
}

// Stats returns how many messages were published, dropped on a full queue
// and failed at the broker.
func (p *Publisher) Stats() (published, dropped, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.dropped, p.failed
}

// Close stops accepting messages, waits for queued ones to be sent and
// disconnects the client.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect(250)
}
