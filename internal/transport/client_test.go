package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

func newTestClient(t *testing.T, ff *fakeFactory) *Client {
	t.Helper()
	cfg := Config{
		BrokerURL:      "mqtt://127.0.0.1:1883",
		FlushDelay:     time.Millisecond,
		CloseTimeout:   50 * time.Millisecond,
		ForceTimeout:   20 * time.Millisecond,
		ReconnectPause: time.Millisecond,
	}
	return New(cfg, topic.NewTable(""), WithClientFactory(ff.New), WithLogger(log.NewNopLogger()))
}

func connectAndUp(t *testing.T, c *Client, ff *fakeFactory) *fakeMQTT {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f := ff.last()
	f.cfg.OnConnectionUp()
	if !c.IsConnected() {
		t.Fatal("not connected after CONNACK")
	}
	return f
}

func TestPublishWhileDisconnected(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)

	before := testutil.ToFloat64(metrics.CommandsPublishedTotal.WithLabelValues(string(topic.ControlMovement), metrics.ResultNotConnected))

	err := c.Publish(context.Background(), topic.ControlMovement, protocol.Movement{X: 10})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() = %v, want ErrNotConnected", err)
	}
	if ff.count() != 0 {
		t.Error("publish while disconnected created a client")
	}

	// Started but no CONNACK yet: still no network call.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Publish(context.Background(), topic.ControlMovement, protocol.Movement{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() while connecting = %v, want ErrNotConnected", err)
	}
	if n := len(ff.last().published()); n != 0 {
		t.Errorf("%d network publishes while not connected", n)
	}

	after := testutil.ToFloat64(metrics.CommandsPublishedTotal.WithLabelValues(string(topic.ControlMovement), metrics.ResultNotConnected))
	if after-before != 2 {
		t.Errorf("not_connected counter moved by %v, want 2", after-before)
	}
}

func TestConnectSubscribesInboundOnly(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)

	want := map[string]bool{
		"rider/status":                 true,
		"rider/status/battery":         true,
		"rider/status/imu":             true,
		"rider/response/image_capture": true,
	}
	if len(f.subscriptions) != len(want) {
		t.Fatalf("subscriptions = %v", f.subscriptions)
	}
	for _, s := range f.subscriptions {
		if !want[s] {
			t.Errorf("unexpected subscription %q", s)
		}
	}

	if !strings.HasPrefix(f.cfg.ClientID, DefaultClientIDPrefix) {
		t.Errorf("client id %q lacks prefix", f.cfg.ClientID)
	}
	if c.ClientID() != f.cfg.ClientID {
		t.Errorf("ClientID() = %q, want %q", c.ClientID(), f.cfg.ClientID)
	}
}

func TestPublishEncodesEnvelope(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)

	if err := c.Publish(context.Background(), topic.ControlMovement, protocol.Movement{X: -20, Y: 45, Timestamp: 1.5}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := f.published()
	if len(got) != 1 || got[0].topic != "rider/control/movement" {
		t.Fatalf("published = %+v", got)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(got[0].payload), &m); err != nil {
		t.Fatal(err)
	}
	if m["x"] != float64(-20) || m["y"] != float64(45) || m["timestamp"] != 1.5 {
		t.Errorf("payload = %s", got[0].payload)
	}

	if err := c.Publish(context.Background(), topic.Battery, struct{}{}); !errors.Is(err, ErrNotPublishable) {
		t.Errorf("Publish on inbound channel = %v, want ErrNotPublishable", err)
	}
}

func TestPublishErrorSurfaced(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)
	f.publishErr = errors.New("socket closed")

	if err := c.Publish(context.Background(), topic.ControlCamera, protocol.Action{Action: protocol.ActionToggleCamera}); err == nil {
		t.Fatal("Publish() = nil with a failing client")
	}
}

func TestLinkEvents(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)

	var ups, fails, downs int
	c.OnConnect(func(ok bool) {
		if ok {
			ups++
		} else {
			fails++
		}
	})
	c.OnDisconnect(func() { downs++ })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	f := ff.last()
	f.cfg.OnConnectError(errors.New("refused"))
	if c.State() != StateConnecting {
		t.Errorf("State() = %q after failed attempt", c.State())
	}
	f.cfg.OnConnectionUp()
	f.cfg.OnConnectionDown()
	if c.State() != StateConnecting {
		t.Errorf("State() = %q after link loss", c.State())
	}
	f.cfg.OnConnectionUp()

	if ups != 2 || fails != 1 || downs != 1 {
		t.Errorf("ups=%d fails=%d downs=%d", ups, fails, downs)
	}
}

func TestForcedDisconnect(t *testing.T) {
	ff := &fakeFactory{prepare: func(f *fakeMQTT) { f.blockClose = make(chan struct{}) }}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)
	defer close(f.blockClose)

	downs := 0
	c.OnDisconnect(func() { downs++ })

	start := time.Now()
	c.Disconnect()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("forced disconnect took %v with a hung broker", elapsed)
	}

	if !f.stopped {
		t.Error("network loop not stopped")
	}
	if c.State() != StateDisconnected || downs != 1 {
		t.Errorf("state %q, downs %d", c.State(), downs)
	}
	if err := c.Publish(context.Background(), topic.ControlMovement, protocol.Movement{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish after Disconnect = %v, want ErrNotConnected", err)
	}

	// Idempotent.
	c.Disconnect()
}

func TestGracefulDisconnectSendsSafetyCommands(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)

	c.GracefulDisconnect()

	got := f.published()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2: %+v", len(got), got)
	}
	if got[0].topic != "rider/control/system" || !strings.Contains(got[0].payload, `"action":"emergency_stop"`) {
		t.Errorf("first = %+v, want emergency stop", got[0])
	}
	if got[1].topic != "rider/control/movement" || !strings.Contains(got[1].payload, `"x":0,"y":0`) {
		t.Errorf("second = %+v, want movement stop", got[1])
	}
	for _, p := range got {
		if !strings.Contains(p.payload, `"source":"disconnect_cleanup"`) {
			t.Errorf("payload %s not tagged", p.payload)
		}
	}
	if f.disconnects != 1 || !f.stopped || c.State() != StateDisconnected {
		t.Errorf("disconnects=%d stopped=%v state=%q", f.disconnects, f.stopped, c.State())
	}
}

func TestGracefulDisconnectFallsBack(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)
	f.publishErr = errors.New("broken pipe")

	c.GracefulDisconnect()

	if !f.stopped || c.State() != StateDisconnected {
		t.Errorf("stopped=%v state=%q", f.stopped, c.State())
	}
}

func TestGracefulDisconnectWhenNotConnected(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)

	c.GracefulDisconnect()
	if c.State() != StateDisconnected {
		t.Errorf("State() = %q", c.State())
	}
}

func TestReconnect(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	first := connectAndUp(t, c, ff)

	c.SetBroker("mqtt://10.0.0.7:1883")
	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	if ff.count() != 2 {
		t.Fatalf("clients created = %d, want 2", ff.count())
	}
	if len(first.published()) != 2 {
		t.Error("reconnect did not stop the robot first")
	}
	if got := ff.last().cfg.BrokerURL; got != "mqtt://10.0.0.7:1883" {
		t.Errorf("reconnected to %q", got)
	}
	if c.State() != StateConnecting {
		t.Errorf("State() = %q, want connecting", c.State())
	}
}

func TestGracefulDisconnectAttemptsBothStops(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	f := connectAndUp(t, c, ff)
	f.failTopic = "rider/control/system"

	c.GracefulDisconnect()

	got := f.published()
	if len(got) != 1 || got[0].topic != "rider/control/movement" {
		t.Fatalf("published = %+v, want the movement stop after a failed emergency stop", got)
	}
	if !f.stopped || c.State() != StateDisconnected {
		t.Errorf("stopped=%v state=%q", f.stopped, c.State())
	}
}

func TestAwaitConnectionWaitsForSession(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)

	if err := c.AwaitConnection(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("AwaitConnection() before Connect = %v, want ErrNotConnected", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	f := ff.last()

	// The MQTT client reports the link before the session has subscribed.
	if err := f.AwaitConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.AwaitConnection(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("AwaitConnection() = %v before the session was up", err)
	case <-time.After(50 * time.Millisecond):
	}

	f.cfg.OnConnectionUp()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitConnection() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitConnection did not return after CONNACK")
	}
	if err := c.Publish(context.Background(), topic.ControlMovement, protocol.Movement{}); err != nil {
		t.Errorf("Publish right after AwaitConnection = %v", err)
	}

	// A lost link re-arms the wait.
	f.cfg.OnConnectionDown()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.AwaitConnection(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitConnection() after link loss = %v, want deadline exceeded", err)
	}
}

func TestAwaitConnectionEndsOnDisconnect(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.AwaitConnection(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("AwaitConnection() = %v, want ErrNotConnected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitConnection still blocked after Disconnect")
	}
}

func TestStaleSessionHooksIgnored(t *testing.T) {
	ff := &fakeFactory{}
	c := newTestClient(t, ff)

	var (
		mu    sync.Mutex
		calls []bool
		downs int
	)
	c.OnConnect(func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, ok)
	})
	c.OnDisconnect(func() {
		mu.Lock()
		defer mu.Unlock()
		downs++
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	old := ff.last()
	c.Disconnect()

	old.cfg.OnConnectionUp()
	old.cfg.OnConnectError(errors.New("refused"))
	old.cfg.OnConnectionDown()

	if c.State() != StateDisconnected {
		t.Errorf("State() = %q after a late CONNACK", c.State())
	}
	mu.Lock()
	if len(calls) != 0 || downs != 0 {
		t.Errorf("OnConnect calls = %v, downs = %d from a closed session", calls, downs)
	}
	mu.Unlock()

	// A new session is not disturbed by the old one.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	cur := ff.last()
	cur.cfg.OnConnectionUp()
	old.cfg.OnConnectionDown()
	if !c.IsConnected() {
		t.Errorf("State() = %q, old session hook dropped the new link", c.State())
	}
}
