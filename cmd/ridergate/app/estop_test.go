package app

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/ridergate/internal/transport"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

// brokerStub acknowledges the connection after connackDelay, or never when
// the delay is negative. Its AwaitConnection returns at once, like autopaho
// does before the subscriptions are sent.
type brokerStub struct {
	cfg          *mqtt.ClientConfig
	connackDelay time.Duration

	mu     sync.Mutex
	topics []string
	bodies []string
}

func (b *brokerStub) Start(context.Context) error {
	if b.connackDelay >= 0 {
		time.AfterFunc(b.connackDelay, b.cfg.OnConnectionUp)
	}
	return nil
}

func (b *brokerStub) Disconnect(context.Context) error { return nil }
func (b *brokerStub) Stop()                            {}

func (b *brokerStub) Publish(_ context.Context, t string, _ int, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, t)
	b.bodies = append(b.bodies, string(payload))
	return nil
}

func (b *brokerStub) Subscribe(context.Context, string, int, mqtt.MessageHandler) error { return nil }
func (b *brokerStub) Unsubscribe(context.Context, string) error                         { return nil }
func (b *brokerStub) AwaitConnection(context.Context) error                             { return nil }
func (b *brokerStub) IsConnected() bool                                                 { return true }

func (b *brokerStub) published() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...), append([]string(nil), b.bodies...)
}

func newEstopTransport(stub *brokerStub) *transport.Client {
	cfg := transport.Config{
		BrokerURL:    "tcp://127.0.0.1:1883",
		FlushDelay:   time.Millisecond,
		CloseTimeout: 50 * time.Millisecond,
		ForceTimeout: 20 * time.Millisecond,
	}
	factory := func(c *mqtt.ClientConfig) (mqtt.Client, error) {
		stub.cfg = c
		return stub, nil
	}
	return transport.New(cfg, topic.NewTable("rider"),
		transport.WithClientFactory(factory),
		transport.WithLogger(log.NewNopLogger()),
	)
}

func TestEstopSendsStops(t *testing.T) {
	stub := &brokerStub{connackDelay: 30 * time.Millisecond}
	tr := newEstopTransport(stub)

	var out bytes.Buffer
	if err := estop(context.Background(), &out, tr, 5*time.Second); err != nil {
		t.Fatalf("estop: %v", err)
	}

	topics, bodies := stub.published()
	if len(topics) < 2 {
		t.Fatalf("published %v, want the stop commands", topics)
	}
	if topics[0] != "rider/control/movement" || !strings.Contains(bodies[0], `"x":0,"y":0`) {
		t.Errorf("first command = %s %s, want movement stop", topics[0], bodies[0])
	}
	if topics[1] != "rider/control/system" || !strings.Contains(bodies[1], `"action":"emergency_stop"`) {
		t.Errorf("second command = %s %s, want emergency stop", topics[1], bodies[1])
	}
	if !strings.Contains(out.String(), "emergency stop sent to tcp://127.0.0.1:1883") {
		t.Errorf("output = %q", out.String())
	}
	if tr.State() != transport.StateDisconnected {
		t.Errorf("transport state = %q after estop", tr.State())
	}
}

func TestEstopBrokerUnreachable(t *testing.T) {
	stub := &brokerStub{connackDelay: -1}
	tr := newEstopTransport(stub)

	err := estop(context.Background(), &bytes.Buffer{}, tr, 20*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("estop() = %v, want not reachable", err)
	}
	if topics, _ := stub.published(); len(topics) != 0 {
		t.Errorf("published %v without a connection", topics)
	}
}
