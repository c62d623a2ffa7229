package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/internal/state"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

// ImageResponder correlates image capture responses.
type ImageResponder interface {
	HandleImageResponse(ctx context.Context, r *protocol.ImageCaptureResponse) bool
}

type route struct {
	channel topic.Channel
	handle  HandlerFunc
}

// Router dispatches inbound messages by exact topic. It is the only writer
// of the state store and runs on the network goroutine.
type Router struct {
	store  *state.Store
	images ImageResponder
	logger log.Logger
	routes map[string]route
}

// New builds the routing table from table's inbound channels.
func New(table *topic.Table, store *state.Store, images ImageResponder, logger log.Logger) *Router {
	if logger == nil {
		logger = log.WithName("router")
	}

	r := &Router{
		store:  store,
		images: images,
		logger: logger,
		routes: make(map[string]route),
	}

	handlers := map[topic.Channel]HandlerFunc{
		topic.Status:        JSONAdapter(r.handleStatus),
		topic.Battery:       JSONAdapter(r.handleBattery),
		topic.IMU:           JSONAdapter(r.handleIMU),
		topic.ImageResponse: JSONAdapter(r.handleImageResponse),
	}
	for _, e := range table.Subscribed() {
		h, ok := handlers[e.Channel]
		if !ok {
			logger.Warn("No handler for inbound channel", "channel", string(e.Channel))
			continue
		}
		r.routes[e.Topic] = route{channel: e.Channel, handle: h}
	}
	return r
}

// HandleMessage is the transport's message handler. Bad payloads and unknown
// topics are logged and dropped; nothing escapes into the network loop.
func (r *Router) HandleMessage(ctx context.Context, t string, payload []byte) {
	rt, ok := r.routes[t]
	if !ok {
		metrics.MessagesReceivedTotal.WithLabelValues("", metrics.ResultUnknownTopic).Inc()
		r.logger.Debug("Dropping message on unknown topic", "topic", t)
		return
	}

	channel := string(rt.channel)
	defer func() {
		if rec := recover(); rec != nil {
			metrics.MessagesReceivedTotal.WithLabelValues(channel, metrics.ResultPanic).Inc()
			r.logger.Error(fmt.Errorf("panic: %v", rec), "Message handler panicked", "topic", t)
		}
	}()

	r.logger.Debug("Received message", "topic", t, "payload", payload)

	if err := rt.handle(ctx, payload); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			metrics.MessagesReceivedTotal.WithLabelValues(channel, metrics.ResultDecodeError).Inc()
			r.logger.Warn("Dropping malformed payload", "topic", t, "error", de.Err, "payload", payload)
			return
		}
		metrics.MessagesReceivedTotal.WithLabelValues(channel, metrics.ResultFailed).Inc()
		r.logger.Error(err, "Message handler failed", "topic", t)
		return
	}
	metrics.MessagesReceivedTotal.WithLabelValues(channel, metrics.ResultSuccess).Inc()
}

// HandleLinkUp records a connection attempt outcome.
func (r *Router) HandleLinkUp(success bool) {
	if success {
		r.store.SetConnectionStatus(state.Connected)
		return
	}
	r.store.SetConnectionStatus(state.Disconnected)
}

// HandleLinkDown records a lost or closed link.
func (r *Router) HandleLinkDown() {
	r.store.SetConnectionStatus(state.Disconnected)
}

// Topics returns the routed topics.
func (r *Router) Topics() []string {
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	return out
}

func (r *Router) handleStatus(_ context.Context, msg *protocol.StatusReport) error {
	r.store.UpdateStatus(msg)
	return nil
}

func (r *Router) handleBattery(_ context.Context, msg *protocol.BatteryReport) error {
	r.store.UpdateBattery(msg)
	return nil
}

func (r *Router) handleIMU(_ context.Context, msg *protocol.IMUReport) error {
	r.store.UpdateIMU(msg)
	return nil
}

func (r *Router) handleImageResponse(ctx context.Context, msg *protocol.ImageCaptureResponse) error {
	if r.images == nil {
		r.logger.Debug("No image responder, dropping response", "requestID", msg.RequestID)
		return nil
	}
	r.images.HandleImageResponse(ctx, msg)
	return nil
}

var _ ImageResponder = (*command.Facade)(nil)
