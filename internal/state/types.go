package state

import "time"

// ConnectionStatus is the broker link as seen by the gateway.
type ConnectionStatus string

const (
	Disconnected ConnectionStatus = "disconnected"
	Connected    ConnectionStatus = "connected"
)

const (
	DefaultHeight            = 85
	DefaultSpeedScale        = 1.0
	MinSpeedScale            = 0.1
	MaxSpeedScale            = 2.0
	DefaultControllerTimeout = 5 * time.Second

	// IMUThreshold is the smallest per-axis change, in degrees, that is reported.
	IMUThreshold = 0.1
)

// Snapshot is a copy of the robot state.
type Snapshot struct {
	BatteryLevel           int              `json:"battery_level"`
	SpeedScale             float64          `json:"speed_scale"`
	RollBalanceEnabled     bool             `json:"roll_balance_enabled"`
	PerformanceModeEnabled bool             `json:"performance_mode_enabled"`
	CameraEnabled          bool             `json:"camera_enabled"`
	ControllerConnected    bool             `json:"controller_connected"`
	Roll                   float64          `json:"roll"`
	Pitch                  float64          `json:"pitch"`
	Yaw                    float64          `json:"yaw"`
	Height                 int              `json:"height"`
	CPUPercent             float64          `json:"cpu_percent"`
	CPULoad1Min            float64          `json:"cpu_load_1min"`
	CPULoad5Min            float64          `json:"cpu_load_5min"`
	CPULoad15Min           float64          `json:"cpu_load_15min"`
	ConnectionStatus       ConnectionStatus `json:"connection_status"`
	LastUpdate             *time.Time       `json:"last_update"`
}

func defaultSnapshot() Snapshot {
	return Snapshot{
		SpeedScale:       DefaultSpeedScale,
		Height:           DefaultHeight,
		ConnectionStatus: Disconnected,
	}
}

// IMU is an attitude triple in degrees.
type IMU struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// CPU is the robot's processor telemetry.
type CPU struct {
	Percent   float64 `json:"cpu_percent"`
	Load1Min  float64 `json:"cpu_load_1min"`
	Load5Min  float64 `json:"cpu_load_5min"`
	Load15Min float64 `json:"cpu_load_15min"`
}

// Features are the toggles shown on the robot panel.
type Features struct {
	RollBalanceEnabled     bool `json:"roll_balance_enabled"`
	PerformanceModeEnabled bool `json:"performance_mode_enabled"`
	CameraEnabled          bool `json:"camera_enabled"`
	ControllerConnected    bool `json:"controller_connected"`
}

// StatusChange holds only the status fields that changed; nil means unchanged.
type StatusChange struct {
	SpeedScale             *float64          `json:"speed_scale,omitempty"`
	RollBalanceEnabled     *bool             `json:"roll_balance_enabled,omitempty"`
	PerformanceModeEnabled *bool             `json:"performance_mode_enabled,omitempty"`
	CameraEnabled          *bool             `json:"camera_enabled,omitempty"`
	ControllerConnected    *bool             `json:"controller_connected,omitempty"`
	Height                 *int              `json:"height,omitempty"`
	BatteryLevel           *int              `json:"battery_level,omitempty"`
	Roll                   *float64          `json:"roll,omitempty"`
	Pitch                  *float64          `json:"pitch,omitempty"`
	Yaw                    *float64          `json:"yaw,omitempty"`
	CPUPercent             *float64          `json:"cpu_percent,omitempty"`
	CPULoad1Min            *float64          `json:"cpu_load_1min,omitempty"`
	CPULoad5Min            *float64          `json:"cpu_load_5min,omitempty"`
	CPULoad15Min           *float64          `json:"cpu_load_15min,omitempty"`
	ConnectionStatus       *ConnectionStatus `json:"connection_status,omitempty"`
}
