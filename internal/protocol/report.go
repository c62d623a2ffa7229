package protocol

import (
	"errors"
	"math"
)

var (
	// ErrInvalidPayload marks an inbound payload that fails schema validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownValue marks an enumeration value outside its closed set.
	ErrUnknownValue = errors.New("unknown value")
)

// Validator is implemented by every inbound report.
type Validator interface {
	Validate() error
}

// BatteryReport arrives on rider/status/battery. Older firmware sends
// battery_level instead of level.
type BatteryReport struct {
	Level        *float64   `json:"level"`
	BatteryLevel *float64   `json:"battery_level"`
	Status       string     `json:"status,omitempty"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
}

func (r *BatteryReport) Validate() error {
	if r.Level == nil && r.BatteryLevel == nil {
		return errors.Join(ErrInvalidPayload, errors.New("battery report without level"))
	}
	return nil
}

// Percent returns the reported level rounded and clamped to 0..100.
func (r *BatteryReport) Percent() int {
	v := r.Level
	if v == nil {
		v = r.BatteryLevel
	}
	if v == nil {
		return 0
	}
	return clampPercent(*v)
}

// IMUReport arrives on rider/status/imu. Angles are degrees.
type IMUReport struct {
	Roll      *float64   `json:"roll"`
	Pitch     *float64   `json:"pitch"`
	Yaw       *float64   `json:"yaw"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

// Validate requires at least one axis; missing axes read as zero.
func (r *IMUReport) Validate() error {
	if r.Roll == nil && r.Pitch == nil && r.Yaw == nil {
		return errors.Join(ErrInvalidPayload, errors.New("imu report without any axis"))
	}
	return nil
}

// Angles returns roll, pitch and yaw with missing axes as zero.
func (r *IMUReport) Angles() (roll, pitch, yaw float64) {
	return deref(r.Roll), deref(r.Pitch), deref(r.Yaw)
}

// StatusReport arrives on rider/status. Every field is optional and a message
// carries any subset of them.
type StatusReport struct {
	SpeedScale             *float64   `json:"speed_scale,omitempty"`
	RollBalanceEnabled     *bool      `json:"roll_balance_enabled,omitempty"`
	PerformanceModeEnabled *bool      `json:"performance_mode_enabled,omitempty"`
	CameraEnabled          *bool      `json:"camera_enabled,omitempty"`
	ControllerConnected    *bool      `json:"controller_connected,omitempty"`
	Height                 *float64   `json:"height,omitempty"`
	BatteryLevel           *float64   `json:"battery_level,omitempty"`
	Roll                   *float64   `json:"roll,omitempty"`
	Pitch                  *float64   `json:"pitch,omitempty"`
	Yaw                    *float64   `json:"yaw,omitempty"`
	CPUPercent             *float64   `json:"cpu_percent,omitempty"`
	CPULoad1Min            *float64   `json:"cpu_load_1min,omitempty"`
	CPULoad5Min            *float64   `json:"cpu_load_5min,omitempty"`
	CPULoad15Min           *float64   `json:"cpu_load_15min,omitempty"`
	Timestamp              *Timestamp `json:"timestamp,omitempty"`
}

// Validate accepts any subset. Out of range values are clamped by the store.
func (r *StatusReport) Validate() error {
	return nil
}

// Empty reports whether no state field is set.
func (r *StatusReport) Empty() bool {
	return r.SpeedScale == nil && r.RollBalanceEnabled == nil && r.PerformanceModeEnabled == nil &&
		r.CameraEnabled == nil && r.ControllerConnected == nil && r.Height == nil &&
		r.BatteryLevel == nil && r.Roll == nil && r.Pitch == nil && r.Yaw == nil &&
		r.CPUPercent == nil && r.CPULoad1Min == nil && r.CPULoad5Min == nil && r.CPULoad15Min == nil
}

// ImageCaptureResponse arrives on rider/response/image_capture.
type ImageCaptureResponse struct {
	Success    *bool      `json:"success"`
	RequestID  string     `json:"request_id"`
	ImageData  string     `json:"image_data,omitempty"`
	ImageSize  int        `json:"image_size,omitempty"`
	Resolution Resolution `json:"resolution,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  *Timestamp `json:"timestamp,omitempty"`
}

func (r *ImageCaptureResponse) Validate() error {
	if r.Success == nil {
		return errors.Join(ErrInvalidPayload, errors.New("image response without success"))
	}
	if r.RequestID == "" {
		return errors.Join(ErrInvalidPayload, errors.New("image response without request_id"))
	}
	return nil
}

// Succeeded is the decoded success flag.
func (r *ImageCaptureResponse) Succeeded() bool {
	return r.Success != nil && *r.Success
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clampPercent(v float64) int {
	p := int(math.Round(v))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Round converts a reported float to the nearest int.
func Round(v float64) int {
	return int(math.Round(v))
}

// ClampPercent rounds v and clamps it to 0..100.
func ClampPercent(v float64) int {
	return clampPercent(v)
}
