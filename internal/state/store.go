package state

import (
	"context"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/log"
)

// Store owns the robot state snapshot. Updates come from the message router
// only; observers are notified after the snapshot lock is released, on the
// goroutine that performed the update.
type Store struct {
	clock             clock.Clock
	logger            log.Logger
	bus               *Bus
	controllerTimeout time.Duration

	mu             sync.Mutex
	snap           Snapshot
	lastController time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithControllerTimeout sets how long a controller heartbeat stays valid.
func WithControllerTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.controllerTimeout = d
		}
	}
}

// NewStore returns a store holding the default snapshot.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:             clock.RealClock{},
		logger:            log.WithName("state"),
		controllerTimeout: DefaultControllerTimeout,
		snap:              defaultSnapshot(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus = NewBus(s.logger)
	return s
}

// Subscribe registers h for category.
func (s *Store) Subscribe(category Category, h Handler) (Subscription, error) {
	return s.bus.Subscribe(category, h)
}

// Unsubscribe removes a handler registered with Subscribe.
func (s *Store) Unsubscribe(sub Subscription) {
	s.bus.Unsubscribe(sub)
}

func (s *Store) stamp() {
	now := s.clock.Now()
	s.snap.LastUpdate = &now
}

// UpdateBattery records a battery report and emits a BatteryEvent when the
// integer level changed.
func (s *Store) UpdateBattery(r *protocol.BatteryReport) {
	level := r.Percent()

	s.mu.Lock()
	old := s.snap.BatteryLevel
	s.snap.BatteryLevel = level
	s.stamp()
	s.mu.Unlock()

	if old != level {
		s.logger.Debug("Battery level changed", "from", old, "to", level)
		s.bus.Publish(BatteryEvent{Level: level})
	}
}

// UpdateIMU records an attitude report and emits an IMUEvent when any axis
// moved by more than IMUThreshold.
func (s *Store) UpdateIMU(r *protocol.IMUReport) {
	roll, pitch, yaw := r.Angles()

	s.mu.Lock()
	prev := IMU{Roll: s.snap.Roll, Pitch: s.snap.Pitch, Yaw: s.snap.Yaw}
	s.snap.Roll, s.snap.Pitch, s.snap.Yaw = roll, pitch, yaw
	s.stamp()
	s.mu.Unlock()

	if math.Abs(prev.Roll-roll) > IMUThreshold ||
		math.Abs(prev.Pitch-pitch) > IMUThreshold ||
		math.Abs(prev.Yaw-yaw) > IMUThreshold {
		s.bus.Publish(IMUEvent{IMU: IMU{Roll: roll, Pitch: pitch, Yaw: yaw}})
	}
}

// UpdateStatus merges a status report and emits a StatusEvent with the fields
// whose value changed. Only controller_connected=true refreshes the
// controller heartbeat.
func (s *Store) UpdateStatus(r *protocol.StatusReport) {
	var (
		c       StatusChange
		changed bool
	)

	s.mu.Lock()
	if r.SpeedScale != nil {
		v := clampSpeed(*r.SpeedScale)
		changed = setFloat(&s.snap.SpeedScale, v, &c.SpeedScale) || changed
	}
	if r.RollBalanceEnabled != nil {
		changed = setBool(&s.snap.RollBalanceEnabled, *r.RollBalanceEnabled, &c.RollBalanceEnabled) || changed
	}
	if r.PerformanceModeEnabled != nil {
		changed = setBool(&s.snap.PerformanceModeEnabled, *r.PerformanceModeEnabled, &c.PerformanceModeEnabled) || changed
	}
	if r.CameraEnabled != nil {
		changed = setBool(&s.snap.CameraEnabled, *r.CameraEnabled, &c.CameraEnabled) || changed
	}
	if r.ControllerConnected != nil {
		changed = setBool(&s.snap.ControllerConnected, *r.ControllerConnected, &c.ControllerConnected) || changed
		if *r.ControllerConnected {
			s.lastController = s.clock.Now()
		}
	}
	if r.Height != nil {
		changed = setInt(&s.snap.Height, protocol.Round(*r.Height), &c.Height) || changed
	}
	if r.BatteryLevel != nil {
		changed = setInt(&s.snap.BatteryLevel, protocol.ClampPercent(*r.BatteryLevel), &c.BatteryLevel) || changed
	}
	if r.Roll != nil {
		changed = setFloat(&s.snap.Roll, *r.Roll, &c.Roll) || changed
	}
	if r.Pitch != nil {
		changed = setFloat(&s.snap.Pitch, *r.Pitch, &c.Pitch) || changed
	}
	if r.Yaw != nil {
		changed = setFloat(&s.snap.Yaw, *r.Yaw, &c.Yaw) || changed
	}
	if r.CPUPercent != nil {
		changed = setFloat(&s.snap.CPUPercent, *r.CPUPercent, &c.CPUPercent) || changed
	}
	if r.CPULoad1Min != nil {
		changed = setFloat(&s.snap.CPULoad1Min, *r.CPULoad1Min, &c.CPULoad1Min) || changed
	}
	if r.CPULoad5Min != nil {
		changed = setFloat(&s.snap.CPULoad5Min, *r.CPULoad5Min, &c.CPULoad5Min) || changed
	}
	if r.CPULoad15Min != nil {
		changed = setFloat(&s.snap.CPULoad15Min, *r.CPULoad15Min, &c.CPULoad15Min) || changed
	}
	s.stamp()
	s.mu.Unlock()

	if changed {
		s.bus.Publish(StatusEvent{Changed: c})
	}
}

// SetConnectionStatus records the broker link state and emits a StatusEvent on change.
func (s *Store) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	changed := s.snap.ConnectionStatus != status
	s.snap.ConnectionStatus = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("Robot link status changed", "status", string(status))
		s.bus.Publish(StatusEvent{Changed: StatusChange{ConnectionStatus: &status}})
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	if snap.LastUpdate != nil {
		t := *snap.LastUpdate
		snap.LastUpdate = &t
	}
	return snap
}

// BatteryLevel returns the last battery level.
func (s *Store) BatteryLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.BatteryLevel
}

// IMU returns the last attitude.
func (s *Store) IMU() IMU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IMU{Roll: s.snap.Roll, Pitch: s.snap.Pitch, Yaw: s.snap.Yaw}
}

// CPU returns the last processor telemetry.
func (s *Store) CPU() CPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CPU{
		Percent:   s.snap.CPUPercent,
		Load1Min:  s.snap.CPULoad1Min,
		Load5Min:  s.snap.CPULoad5Min,
		Load15Min: s.snap.CPULoad15Min,
	}
}

// IsRobotConnected reports whether the broker link is up.
func (s *Store) IsRobotConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ConnectionStatus == Connected
}

// ControllerConnected expires a stale controller heartbeat and returns the flag.
func (s *Store) ControllerConnected() bool {
	s.CheckControllerTimeout()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ControllerConnected
}

// FeatureStatus expires a stale controller heartbeat and returns the toggles.
func (s *Store) FeatureStatus() Features {
	s.CheckControllerTimeout()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Features{
		RollBalanceEnabled:     s.snap.RollBalanceEnabled,
		PerformanceModeEnabled: s.snap.PerformanceModeEnabled,
		CameraEnabled:          s.snap.CameraEnabled,
		ControllerConnected:    s.snap.ControllerConnected,
	}
}

// CheckControllerTimeout forces controller_connected to false once the last
// heartbeat is older than the timeout. It reports whether the flag flipped.
func (s *Store) CheckControllerTimeout() bool {
	s.mu.Lock()
	if s.lastController.IsZero() || !s.snap.ControllerConnected ||
		s.clock.Since(s.lastController) <= s.controllerTimeout {
		s.mu.Unlock()
		return false
	}
	s.snap.ControllerConnected = false
	s.mu.Unlock()

	s.logger.Info("Controller heartbeat expired", "timeout", s.controllerTimeout)
	off := false
	s.bus.Publish(StatusEvent{Changed: StatusChange{ControllerConnected: &off}})
	return true
}

// RunLivenessMonitor checks the controller heartbeat every interval until ctx is done.
func (s *Store) RunLivenessMonitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.CheckControllerTimeout()
		}
	}
}

func clampSpeed(v float64) float64 {
	return math.Min(MaxSpeedScale, math.Max(MinSpeedScale, v))
}

func setFloat(dst *float64, v float64, out **float64) bool {
	if *dst == v {
		return false
	}
	*dst = v
	*out = &v
	return true
}

func setBool(dst *bool, v bool, out **bool) bool {
	if *dst == v {
		return false
	}
	*dst = v
	*out = &v
	return true
}

func setInt(dst *int, v int, out **int) bool {
	if *dst == v {
		return false
	}
	*dst = v
	*out = &v
	return true
}
