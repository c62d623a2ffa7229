package protocol

import (
	"fmt"
	"time"
)

// Timestamp is a wall-clock instant encoded as fractional Unix seconds.
type Timestamp float64

// NewTimestamp converts t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixNano()) / float64(time.Second))
}

// Time converts back to time.Time.
func (ts Timestamp) Time() time.Time {
	sec := int64(ts)
	nsec := int64((float64(ts) - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Source values tag envelopes emitted by the gateway itself rather than by an operator.
const (
	SourceDisconnectCleanup = "disconnect_cleanup"
	SourceShutdown          = "shutdown"
)

// Movement is published on control_movement. X and Y are conventionally -100..100.
type Movement struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Timestamp Timestamp `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Action is the envelope of the settings, camera, system and battery request channels.
type Action struct {
	Action    string    `json:"action"`
	Value     any       `json:"value,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Settings actions understood by the robot.
const (
	ActionChangeSpeed       = "change_speed"
	ActionToggleRollBalance = "toggle_roll_balance"
	ActionTogglePerformance = "toggle_performance"
)

// Camera actions.
const (
	ActionToggleCamera = "toggle_camera"
)

// ActionRequestBattery is the only action of the battery request channel.
const ActionRequestBattery = "request_battery"

// SystemAction is the closed set of system level commands.
type SystemAction string

const (
	SystemEmergencyStop SystemAction = "emergency_stop"
	SystemResetRobot    SystemAction = "reset_robot"
	SystemRebootPi      SystemAction = "reboot_pi"
	SystemPoweroffPi    SystemAction = "poweroff_pi"
)

// Valid reports whether a is one of the known system actions.
func (a SystemAction) Valid() bool {
	switch a {
	case SystemEmergencyStop, SystemResetRobot, SystemRebootPi, SystemPoweroffPi:
		return true
	}
	return false
}

// ParseSystemAction converts s, rejecting unknown actions.
func ParseSystemAction(s string) (SystemAction, error) {
	a := SystemAction(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: system action %q", ErrUnknownValue, s)
	}
	return a, nil
}

// Resolution selects the size of a captured frame.
type Resolution string

const (
	ResolutionHigh Resolution = "high"
	ResolutionLow  Resolution = "low"
	ResolutionTiny Resolution = "tiny"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionHigh, ResolutionLow, ResolutionTiny:
		return true
	}
	return false
}

// ParseResolution converts s. An empty string selects ResolutionHigh.
func ParseResolution(s string) (Resolution, error) {
	if s == "" {
		return ResolutionHigh, nil
	}
	r := Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: resolution %q", ErrUnknownValue, s)
	}
	return r, nil
}

// ImageCaptureRequest is published on request_image.
type ImageCaptureRequest struct {
	RequestID  string     `json:"request_id"`
	Resolution Resolution `json:"resolution"`
	Timestamp  Timestamp  `json:"timestamp"`
}
