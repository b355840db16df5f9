package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/errors"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics

	// BufferSize bounds the messages kept while disconnected.
	BufferSize int

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	RetryInterval  time.Duration

	// Will, if set, is published retained on Topics.System by the broker
	// when the connection is lost.
	Will []byte
}

func (o *Options) defaults() {
	if o.ClientID == "" {
		o.ClientID = "field-logger"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	opts   Options
	log    zerolog.Logger

	mu     sync.Mutex
	buffer *outbox
}

// NewRealPublisher creates a publisher for the configured broker. A broker
// that cannot be reached within ConnectTimeout is not an error: the
// client keeps retrying in the background and messages are buffered.
func NewRealPublisher(opts Options, log zerolog.Logger) (*RealPublisher, error) {
	opts.defaults()

	p := &RealPublisher{
		opts:   opts,
		log:    log,
		buffer: newOutbox(opts.BufferSize, log),
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(opts.RetryInterval).
		SetMaxReconnectInterval(opts.RetryInterval * 6).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", opts.Broker).Msg("mqtt connected")
			go p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", opts.Broker).Msg("mqtt connection lost")
		})
	if opts.Will != nil && opts.Topics.System != "" {
		co.SetBinaryWill(opts.Topics.System, opts.Will, 1, true)
	}

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		log.Warn().Str("broker", opts.Broker).Dur("timeout", opts.ConnectTimeout).Msg("mqtt broker not reachable yet, buffering")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.client.Disconnect(0)
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}
	return p, nil
}

// PublishTransition sends a transition to the events topic.
func (p *RealPublisher) PublishTransition(event TransitionEvent) error {
	payload, err := FormatTransitionPayload(event)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}
	// QoS 1: transitions are rare and each one matters
	return p.publish(p.opts.Topics.Events, 1, false, payload)
}

// PublishSummary sends a report summary to the summary topic.
func (p *RealPublisher) PublishSummary(event SummaryEvent) error {
	payload, err := FormatSummaryPayload(event)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}
	return p.publish(p.opts.Topics.Summary, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}
	return p.publish(p.opts.Topics.System, 1, event.Retained, payload)
}

// publish sends one message. The lock only guards the outbox so a slow
// broker never holds up callers beyond their own PublishTimeout.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	errFactory := errors.New()
	msg := queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		p.enqueue(msg)
		return errFactory.WithData(errors.ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		p.enqueue(msg)
		return errFactory.Wrap(errors.ErrPublish, err)
	}
	return nil
}

func (p *RealPublisher) enqueue(msgs ...queuedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.buffer.push(m)
	}
}

func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.buffer.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	var failed []queuedMsg
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(p.opts.PublishTimeout) || token.Error() != nil {
			failed = append(failed, m)
		}
	}
	p.enqueue(failed...)
	p.log.Info().Int("replayed", len(msgs)-len(failed)).Int("pending", p.Buffered()).Msg("mqtt outbox replayed")
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
