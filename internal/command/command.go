package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

// ErrUnknownAction is returned for an action outside its closed set.
var ErrUnknownAction = errors.New("unknown action")

// Publisher is the outbound half of the transport.
type Publisher interface {
	Publish(ctx context.Context, ch topic.Channel, v any) error
}

// Facade turns operator intent into command envelopes. It never touches the
// robot state snapshot.
type Facade struct {
	pub    Publisher
	clock  clock.PassiveClock
	logger log.Logger
	newID  func() string
	policy Policy

	mu        sync.Mutex
	pending   *PendingCapture
	callbacks []ImageCaptureHandler
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock replaces the wall clock used for envelope timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(f *Facade) { f.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithPolicy selects how image capture responses are correlated.
func WithPolicy(p Policy) Option {
	return func(f *Facade) { f.policy = p }
}

// WithIDGenerator replaces the request id source.
func WithIDGenerator(gen func() string) Option {
	return func(f *Facade) { f.newID = gen }
}

// New returns a Facade publishing through pub.
func New(pub Publisher, opts ...Option) *Facade {
	f := &Facade{
		pub:    pub,
		clock:  clock.RealClock{},
		logger: log.WithName("command"),
		newID:  uuid.NewString,
		policy: PolicyStrict,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) now() protocol.Timestamp {
	return protocol.NewTimestamp(f.clock.Now())
}

// Movement sends a joystick vector. Values are not range checked.
func (f *Facade) Movement(ctx context.Context, x, y int) error {
	return f.pub.Publish(ctx, topic.ControlMovement, protocol.Movement{X: x, Y: y, Timestamp: f.now()})
}

// Stop sends a zero movement.
func (f *Facade) Stop(ctx context.Context) error {
	return f.Movement(ctx, 0, 0)
}

// Settings sends a settings action. A nil value is omitted from the envelope.
func (f *Facade) Settings(ctx context.Context, action string, value any) error {
	if action == "" {
		return fmt.Errorf("%w: empty settings action", ErrUnknownAction)
	}
	return f.pub.Publish(ctx, topic.ControlSettings, protocol.Action{Action: action, Value: value, Timestamp: f.now()})
}

// ChangeSpeed sets the speed scale; the robot clamps it to 0.1..2.0.
func (f *Facade) ChangeSpeed(ctx context.Context, scale float64) error {
	return f.Settings(ctx, protocol.ActionChangeSpeed, scale)
}

// ToggleRollBalance flips roll balancing.
func (f *Facade) ToggleRollBalance(ctx context.Context) error {
	return f.Settings(ctx, protocol.ActionToggleRollBalance, nil)
}

// TogglePerformance flips performance mode.
func (f *Facade) TogglePerformance(ctx context.Context) error {
	return f.Settings(ctx, protocol.ActionTogglePerformance, nil)
}

// Camera sends a camera action.
func (f *Facade) Camera(ctx context.Context, action string) error {
	if action == "" {
		return fmt.Errorf("%w: empty camera action", ErrUnknownAction)
	}
	return f.pub.Publish(ctx, topic.ControlCamera, protocol.Action{Action: action, Timestamp: f.now()})
}

// ToggleCamera flips the camera.
func (f *Facade) ToggleCamera(ctx context.Context) error {
	return f.Camera(ctx, protocol.ActionToggleCamera)
}

// System sends one of the system actions.
func (f *Facade) System(ctx context.Context, action protocol.SystemAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: system action %q", ErrUnknownAction, action)
	}
	return f.pub.Publish(ctx, topic.ControlSystem, protocol.Action{Action: string(action), Timestamp: f.now()})
}

// EmergencyStop sends the system emergency stop.
func (f *Facade) EmergencyStop(ctx context.Context) error {
	return f.System(ctx, protocol.SystemEmergencyStop)
}

// RequestBattery asks the robot to report its battery.
func (f *Facade) RequestBattery(ctx context.Context) error {
	return f.pub.Publish(ctx, topic.RequestBattery, protocol.Action{Action: protocol.ActionRequestBattery, Timestamp: f.now()})
}
