package mqtt

import (
	"net"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T, addr string) {
	t.Helper()
	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
}

func subscribe(t *testing.T, addr, topic string) <-chan paho.Message {
	t.Helper()
	msgs := make(chan paho.Message, 16)
	client := paho.NewClient(paho.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID("test-subscriber"))
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "subscriber connect timeout")
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		msgs <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, token.Error())
	return msgs
}

func receive(t *testing.T, msgs <-chan paho.Message) paho.Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestRealPublisherDeliversTransition(t *testing.T) {
	addr := freeAddress(t)
	startBroker(t, addr)
	topics := TopicsFor("K1")
	msgs := subscribe(t, addr, topics.Events)

	p, err := NewRealPublisher(Options{
		Broker:   "tcp://" + addr,
		ClientID: "publisher-1",
		Topics:   topics,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()
	require.True(t, p.IsConnected())

	require.NoError(t, p.PublishTransition(TransitionEvent{
		Timestamp: time.Now(),
		Device:    "K1",
		Tracker:   launchTracker(t),
	}))

	m := receive(t, msgs)
	if m.Topic() != topics.Events {
		t.Errorf("unexpected topic %s", m.Topic())
	}
	if !strings.Contains(string(m.Payload()), `"event":"launch"`) {
		t.Errorf("unexpected payload %s", m.Payload())
	}
}

func TestRealPublisherBuffersUntilBrokerAppears(t *testing.T) {
	addr := freeAddress(t)
	topics := TopicsFor("K2")

	p, err := NewRealPublisher(Options{
		Broker:         "tcp://" + addr,
		ClientID:       "publisher-2",
		Topics:         topics,
		ConnectTimeout: 200 * time.Millisecond,
		RetryInterval:  200 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	require.False(t, p.IsConnected())
	require.NoError(t, p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}))
	require.Equal(t, 1, p.Buffered())

	startBroker(t, addr)
	msgs := subscribe(t, addr, topics.System)

	m := receive(t, msgs)
	if !strings.Contains(string(m.Payload()), `"event":"STARTUP"`) {
		t.Errorf("unexpected payload %s", m.Payload())
	}
	require.Eventually(t, func() bool { return p.Buffered() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestRealPublisherInterfaces(t *testing.T) {
	var _ Publisher = (*RealPublisher)(nil)
	var _ ConnectionStatus = (*RealPublisher)(nil)
	var _ Publisher = (*FakePublisher)(nil)
	var _ ConnectionStatus = (*FakePublisher)(nil)
}

// stallingClient publishes instantly except on the stall topic, whose
// tokens wait until release is closed.
type stallingClient struct {
	paho.Client
	stall   string
	started chan struct{}
	release chan struct{}
}

func (c *stallingClient) IsConnectionOpen() bool { return true }

func (c *stallingClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if topic == c.stall {
		close(c.started)
		return &heldToken{release: c.release}
	}
	return &heldToken{}
}

type heldToken struct {
	paho.Token
	release chan struct{}
}

func (tk *heldToken) WaitTimeout(d time.Duration) bool {
	if tk.release == nil {
		return true
	}
	select {
	case <-tk.release:
		return true
	case <-time.After(d):
		return false
	}
}

func (tk *heldToken) Error() error { return nil }

func TestRealPublisherPublishesDuringSlowReplay(t *testing.T) {
	client := &stallingClient{
		stall:   "slow",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := &RealPublisher{
		client: client,
		opts:   Options{PublishTimeout: 10 * time.Second, Topics: TopicsFor("K3")},
		log:    zerolog.Nop(),
		buffer: newOutbox(8, zerolog.Nop()),
	}
	p.buffer.push(queuedMsg{topic: "slow", payload: []byte("old"), qos: 1})

	replayed := make(chan struct{})
	go func() {
		p.replay()
		close(replayed)
	}()
	<-client.started

	published := make(chan error, 1)
	go func() {
		published <- p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "ACTION"})
	}()
	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked behind replay")
	}
	require.Equal(t, 0, p.Buffered())

	close(client.release)
	<-replayed
	require.Equal(t, 0, p.Buffered())
}

func TestRealPublisherReplayRequeuesFailures(t *testing.T) {
	client := &stallingClient{
		stall:   "slow",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := &RealPublisher{
		client: client,
		opts:   Options{PublishTimeout: 50 * time.Millisecond},
		log:    zerolog.Nop(),
		buffer: newOutbox(8, zerolog.Nop()),
	}
	p.buffer.push(queuedMsg{topic: "slow", payload: []byte("old"), qos: 1})
	p.buffer.push(queuedMsg{topic: "fine", payload: []byte("ok")})

	p.replay()

	require.Equal(t, 1, p.Buffered())
	msgs := p.buffer.drain()
	require.Equal(t, "slow", msgs[0].topic)
}
