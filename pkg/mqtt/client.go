package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/ridergate/pkg/log"
)

type pahoClient struct {
	cfg    *ClientConfig
	logger log.Logger

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc

	connected atomic.Bool

	// subscriptions maps topic filter -> subscriptionEntry.
	subscriptions sync.Map
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler
}

var _ Client = (*pahoClient)(nil)

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:    cfg,
		logger: cfg.Logger.WithValues("clientID", cfg.ClientID),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		Errors:     &pahoLogger{logger: c.logger.WithName("autopaho")},
		PahoErrors: &pahoLogger{logger: c.logger.WithName("paho")},
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	c.logger.Info("Starting MQTT client", "broker", c.cfg.BrokerURL)

	runCtx, cancel := context.WithCancel(ctx)
	cm, err := autopaho.NewConnection(runCtx, pahoCfg)
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.cm = cm
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

func (c *pahoClient) manager() *autopaho.ConnectionManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cm
}

func (c *pahoClient) Disconnect(ctx context.Context) error {
	cm := c.manager()
	if cm == nil {
		return nil
	}

	c.connected.Store(false)
	err := cm.Disconnect(ctx)
	c.Stop()
	if err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.logger.Info("MQTT client disconnected")
	return nil
}

func (c *pahoClient) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.connected.Store(false)
	if cancel != nil {
		cancel()
	}
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cm := c.manager()
	if cm == nil {
		return ErrNotStarted
	}

	// For QoS 0 this returns once the packet is written to the connection.
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	cm := c.manager()
	if cm == nil {
		return ErrNotStarted
	}

	c.subscriptions.Store(topic, subscriptionEntry{
		topic:   topic,
		qos:     qos,
		handler: handler,
	})

	// Not connected yet: onConnectionUp sends it.
	if !c.connected.Load() {
		c.logger.Debug("Subscription deferred until connected", "topic", topic)
		return nil
	}

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	}); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	c.logger.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	cm := c.manager()
	if cm == nil {
		return ErrNotStarted
	}

	c.subscriptions.Delete(topic)
	if !c.connected.Load() {
		return nil
	}

	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm := c.manager()
	if cm == nil {
		return ErrNotStarted
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	var subs []paho.SubscribeOptions
	c.subscriptions.Range(func(_, value any) bool {
		entry := value.(subscriptionEntry)
		subs = append(subs, paho.SubscribeOptions{Topic: entry.topic, QoS: byte(entry.qos)})
		return true
	})

	if len(subs) > 0 {
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{Subscriptions: subs}); err != nil {
			c.logger.Error(err, "Failed to subscribe", "count", len(subs))
		} else {
			for _, s := range subs {
				c.logger.Info("Subscribed to topic", "topic", s.Topic)
			}
		}
	}

	if c.cfg.OnConnectionUp != nil {
		c.cfg.OnConnectionUp()
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.logger.Error(err, "MQTT connection attempt failed, retrying")
	if c.cfg.OnConnectError != nil {
		c.cfg.OnConnectError(err)
	}
}

func (c *pahoClient) onClientError(err error) {
	c.logger.Error(err, "MQTT client error")
	c.linkDown()
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", "reasonCode", d.ReasonCode, "reason", reason)
	c.linkDown()
}

func (c *pahoClient) linkDown() {
	if c.connected.CompareAndSwap(true, false) && c.cfg.OnConnectionDown != nil {
		c.cfg.OnConnectionDown()
	}
}

// route dispatches a received message to every matching handler, inline on
// the receive goroutine so that handlers observe messages in arrival order.
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(_, value any) bool {
		entry := value.(subscriptionEntry)
		if topicsMatch(topicFilter(entry.topic), p.Packet.Topic) {
			c.dispatch(entry, p.Packet.Topic, p.Packet.Payload)
			matched = true
		}
		return true
	})

	if !matched {
		c.logger.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil
}

func (c *pahoClient) dispatch(entry subscriptionEntry, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Errorf("panic: %v", r), "Message handler panicked", "topic", topic)
		}
	}()
	entry.handler(context.Background(), topic, payload)
}

// topicsMatch checks if a topic matches a filter (supports wildcards + and #).
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}

	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// topicFilter strips the $share/<group>/ prefix of a shared subscription.
func topicFilter(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}

// pahoLogger routes paho diagnostics into the structured logger.
type pahoLogger struct {
	logger log.Logger
}

func (l *pahoLogger) Println(v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *pahoLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
