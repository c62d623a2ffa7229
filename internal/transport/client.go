package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

var (
	// ErrNotConnected is returned by Publish when no broker link is up.
	ErrNotConnected = errors.New("not connected")

	// ErrNotPublishable is returned when publishing on an inbound channel.
	ErrNotPublishable = errors.New("channel is not publishable")
)

// ClientFactory builds the underlying MQTT client.
type ClientFactory func(cfg *mqtt.ClientConfig) (mqtt.Client, error)

// Client is the gateway's single broker session. It publishes commands at
// QoS 0; a nil error means the command was handed to the network layer, not
// that the robot received it.
type Client struct {
	cfg       Config
	table     *topic.Table
	logger    log.Logger
	clock     clock.Clock
	newClient ClientFactory

	fsm *fsm.FSM

	mu           sync.Mutex
	mc           mqtt.Client
	cancel       context.CancelFunc
	session      uint64
	up           chan struct{}
	closed       chan struct{}
	brokerURL    string
	clientID     string
	handler      mqtt.MessageHandler
	onConnect    []func(success bool)
	onDisconnect []func()
}

// Option configures a Client.
type Option func(*Client)

// WithClientFactory replaces the paho backed client, mainly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Client) { c.newClient = f }
}

// WithClock replaces the wall clock used for client ids and pauses.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a disconnected client.
func New(cfg Config, table *topic.Table, opts ...Option) *Client {
	cfg.setDefaults()

	c := &Client{
		cfg:       cfg,
		table:     table,
		logger:    log.WithName("transport"),
		clock:     clock.RealClock{},
		newClient: mqtt.NewClient,
		brokerURL: cfg.BrokerURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fsm = c.newStateMachine()
	return c
}

// SetMessageHandler sets the receiver of every subscribed message.
func (c *Client) SetMessageHandler(h mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// OnConnect registers a callback for connection attempts. It runs on the
// network goroutine with true after a CONNACK and false after a failure.
func (c *Client) OnConnect(f func(success bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, f)
}

// OnDisconnect registers a callback for a lost or closed link.
func (c *Client) OnDisconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, f)
}

// SetBroker changes the broker used by the next Connect.
func (c *Client) SetBroker(brokerURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brokerURL = brokerURL
}

// Broker returns the broker URL of the current or next session.
func (c *Client) Broker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brokerURL
}

// ClientID returns the id of the current session, empty when none was started.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// State returns the connection state.
func (c *Client) State() string {
	return c.fsm.Current()
}

// IsConnected reports whether a broker link is up.
func (c *Client) IsConnected() bool {
	return c.fsm.Current() == StateConnected
}

// Table returns the topic table in use.
func (c *Client) Table() *topic.Table {
	return c.table
}

// Connect starts a session with a fresh client id and subscribes every
// inbound channel. It returns once the connection manager is running;
// the outcome of the handshake is reported through OnConnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.mc != nil {
		c.mu.Unlock()
		c.logger.Debug("Connect ignored, session already active", "clientID", c.clientID)
		return nil
	}

	clientID := c.cfg.ClientIDPrefix + strconv.FormatInt(c.clock.Now().Unix(), 10)
	session := c.session + 1
	mc, err := c.newClient(&mqtt.ClientConfig{
		BrokerURL:          c.brokerURL,
		ClientID:           clientID,
		Username:           c.cfg.Username,
		Password:           c.cfg.Password,
		KeepAlive:          c.cfg.KeepAlive,
		ConnectTimeout:     c.cfg.ConnectTimeout,
		ReconnectDelay:     c.cfg.ReconnectDelay,
		CleanStart:         c.cfg.CleanStart,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		Logger:             c.logger.WithName("mqtt"),
		OnConnectionUp:     func() { c.handleUp(session) },
		OnConnectError:     func(err error) { c.handleConnectError(session, err) },
		OnConnectionDown:   func() { c.handleDown(session) },
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create mqtt client: %w", err)
	}

	// The session outlives the caller's context; Disconnect cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mc = mc
	c.cancel = cancel
	c.clientID = clientID
	c.session = session
	c.up = make(chan struct{})
	c.closed = make(chan struct{})
	c.mu.Unlock()

	c.transition(EventStart)

	if err := mc.Start(runCtx); err != nil {
		_, cancelSession := c.teardown()
		cancelSession()
		return fmt.Errorf("start mqtt client: %w", err)
	}

	for _, e := range c.table.Entries() {
		if !e.Category.Inbound() {
			c.logger.Debug("Not subscribing outbound channel", "channel", string(e.Channel), "topic", e.Topic)
			continue
		}
		if err := mc.Subscribe(runCtx, e.Topic, 0, c.dispatch); err != nil {
			c.logger.Error(err, "Subscribe failed", "topic", e.Topic)
		}
	}

	c.logger.Info("Connecting to broker", "broker", c.Broker(), "clientID", clientID)
	return nil
}

// AwaitConnection blocks until the session is connected and its inbound
// subscriptions have been sent, so that Publish succeeds right after it
// returns. It fails with ErrNotConnected when the session is closed first.
func (c *Client) AwaitConnection(ctx context.Context) error {
	c.mu.Lock()
	mc, up, closed := c.mc, c.up, c.closed
	c.mu.Unlock()

	if mc == nil {
		return ErrNotConnected
	}
	select {
	case <-up:
		return nil
	case <-closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish encodes v as JSON and publishes it on ch at QoS 0.
func (c *Client) Publish(ctx context.Context, ch topic.Channel, v any) error {
	entry, err := c.table.Entry(ch)
	if err != nil {
		return err
	}
	if entry.Category.Inbound() {
		return fmt.Errorf("%w: %s", ErrNotPublishable, ch)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		metrics.CommandsPublishedTotal.WithLabelValues(string(ch), metrics.ResultFailed).Inc()
		return fmt.Errorf("encode %s: %w", ch, err)
	}

	c.mu.Lock()
	mc := c.mc
	c.mu.Unlock()

	if mc == nil || !c.IsConnected() {
		metrics.CommandsPublishedTotal.WithLabelValues(string(ch), metrics.ResultNotConnected).Inc()
		c.logger.Warn("Dropping command, not connected", "channel", string(ch))
		return ErrNotConnected
	}

	start := c.clock.Now()
	err = mc.Publish(ctx, entry.Topic, 0, false, payload)
	metrics.PublishLatency.WithLabelValues(string(ch)).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		metrics.CommandsPublishedTotal.WithLabelValues(string(ch), metrics.ResultFailed).Inc()
		return fmt.Errorf("publish %s: %w", entry.Topic, err)
	}

	metrics.CommandsPublishedTotal.WithLabelValues(string(ch), metrics.ResultSuccess).Inc()
	c.logger.Debug("Published command", "topic", entry.Topic, "payload", payload)
	return nil
}

// Disconnect is the forced close: a bounded best-effort DISCONNECT followed
// by cancelling the network loop. It never fails and never blocks longer
// than ForceTimeout.
func (c *Client) Disconnect() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Errorf("panic: %v", r), "Forced disconnect panicked")
		}
	}()

	mc, cancel := c.teardown()
	if mc == nil {
		return
	}
	defer cancel()

	if err := c.closeWithin(mc, c.cfg.ForceTimeout); err != nil {
		c.logger.Debug("Best-effort DISCONNECT did not complete", "reason", err.Error())
	}
	c.logger.Info("Disconnected from broker (forced)")
}

// GracefulDisconnect stops the robot before closing the session: it sends an
// emergency stop and a zero movement, waits FlushDelay and then performs an
// orderly DISCONNECT. Any failure falls back to Disconnect.
func (c *Client) GracefulDisconnect() {
	if !c.IsConnected() {
		c.Disconnect()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Errorf("panic: %v", r), "Graceful disconnect panicked, forcing")
			c.Disconnect()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
	defer cancel()

	// Both stops are attempted even when the first one fails.
	now := protocol.NewTimestamp(c.clock.Now())
	stop := protocol.Action{Action: string(protocol.SystemEmergencyStop), Timestamp: now, Source: protocol.SourceDisconnectCleanup}
	halt := protocol.Movement{X: 0, Y: 0, Timestamp: now, Source: protocol.SourceDisconnectCleanup}
	stopErr := c.Publish(ctx, topic.ControlSystem, stop)
	if stopErr != nil {
		c.logger.Error(stopErr, "Emergency stop before disconnect failed")
	}
	haltErr := c.Publish(ctx, topic.ControlMovement, halt)
	if haltErr != nil {
		c.logger.Error(haltErr, "Movement stop before disconnect failed")
	}
	if stopErr != nil || haltErr != nil {
		c.logger.Warn("Safety commands incomplete, forcing disconnect")
		c.Disconnect()
		return
	}

	c.clock.Sleep(c.cfg.FlushDelay)

	mc, cancelSession := c.teardown()
	if mc == nil {
		return
	}
	defer cancelSession()

	if err := c.closeWithin(mc, c.cfg.CloseTimeout); err != nil {
		c.logger.Error(err, "Orderly disconnect failed, network loop stopped")
		return
	}
	c.logger.Info("Disconnected from broker")
}

// Reconnect closes the session gracefully, pauses and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.GracefulDisconnect()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.cfg.ReconnectPause):
	}

	return c.Connect(ctx)
}

// teardown detaches the current session and moves to disconnected. It
// returns the detached client, or nil when there was none, and the function
// that cancels the session context.
func (c *Client) teardown() (mqtt.Client, context.CancelFunc) {
	c.mu.Lock()
	mc, cancel := c.mc, c.cancel
	c.mc, c.cancel = nil, nil
	if c.closed != nil {
		close(c.closed)
		c.closed = nil
	}
	c.mu.Unlock()

	wasConnected := c.IsConnected()
	c.transition(EventClose)

	if cancel == nil {
		cancel = func() {}
	}
	if mc != nil && wasConnected {
		c.notifyDisconnect()
	}
	return mc, cancel
}

// closeWithin runs DISCONNECT on mc and stops its network loop, giving up
// after d even when the client ignores its context.
func (c *Client) closeWithin(mc mqtt.Client, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- mc.Disconnect(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-c.clock.After(d):
		err = fmt.Errorf("disconnect timed out after %s", d)
	}

	mc.Stop()
	return err
}

func (c *Client) dispatch(ctx context.Context, t string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		c.logger.Debug("No message handler, dropping", "topic", t)
		return
	}
	h(ctx, t, payload)
}

// live reports whether session is the active one. Hooks of a torn down
// session may still fire from its network goroutine and are ignored.
func (c *Client) live(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mc != nil && c.session == session
}

func (c *Client) handleUp(session uint64) {
	if !c.live(session) {
		c.logger.Debug("Ignoring CONNACK of a closed session", "session", session)
		return
	}
	c.transition(EventUp)
	if !c.IsConnected() {
		return
	}

	c.mu.Lock()
	if c.session == session && c.up != nil {
		select {
		case <-c.up:
		default:
			close(c.up)
		}
	}
	c.mu.Unlock()

	c.logger.Info("Connected to broker", "broker", c.Broker(), "clientID", c.ClientID())
	c.notifyConnect(true)
}

func (c *Client) handleConnectError(session uint64, err error) {
	if !c.live(session) {
		return
	}
	c.logger.Warn("Broker connection attempt failed", "broker", c.Broker(), "error", err)
	c.notifyConnect(false)
}

func (c *Client) handleDown(session uint64) {
	if !c.live(session) {
		return
	}
	c.transition(EventDown)

	c.mu.Lock()
	if c.session == session {
		c.up = make(chan struct{})
	}
	c.mu.Unlock()

	c.logger.Warn("Broker link lost, reconnecting", "broker", c.Broker())
	c.notifyDisconnect()
}

func (c *Client) notifyConnect(success bool) {
	c.mu.Lock()
	hooks := append([]func(bool){}, c.onConnect...)
	c.mu.Unlock()

	for _, f := range hooks {
		f(success)
	}
}

func (c *Client) notifyDisconnect() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	for _, f := range hooks {
		f()
	}
}
