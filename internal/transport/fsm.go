package transport

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/ridergate/internal/pkg/util/fsm"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	// EventStart begins a session.
	EventStart = "start"
	// EventUp is a CONNACK.
	EventUp = "up"
	// EventDown is a lost link; the connection manager keeps retrying.
	EventDown = "down"
	// EventClose ends the session from any state.
	EventClose = "close"
)

var allStates = []string{StateDisconnected, StateConnecting, StateConnected}

func (c *Client) newStateMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{StateDisconnected}, Dst: StateConnecting},
		{Name: EventUp, Src: []string{StateConnecting, StateConnected}, Dst: StateConnected},
		{Name: EventDown, Src: []string{StateConnected}, Dst: StateConnecting},
		{Name: EventClose, Src: allStates, Dst: StateDisconnected},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(c.actionEnterState),
	}

	m := fsm.NewFSM(StateDisconnected, events, callbacks)
	recordState(StateDisconnected)
	return m
}

func (c *Client) actionEnterState(_ context.Context, e *fsm.Event) error {
	c.logger.Info("Transport state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	recordState(e.Dst)
	return nil
}

func (c *Client) transition(event string) {
	if err := fsmutil.IgnoreNoTransition(c.fsm.Event(context.Background(), event)); err != nil {
		c.logger.Debug("Ignored transport event", "event", event, "state", c.fsm.Current(), "reason", err.Error())
	}
}

func recordState(current string) {
	for _, s := range allStates {
		metrics.TransportState.WithLabelValues(s).Set(metrics.BoolGauge(s == current))
	}
	metrics.BrokerConnected.Set(metrics.BoolGauge(current == StateConnected))
}
