package paths

// Topic segments of the rider control protocol. Every topic is {root}/{segment};
// the robot side listens on the downstream segments and publishes the upstream ones.

// Downstream: gateway -> robot (commands and requests)
const (
	// ControlMovement carries joystick style movement.
	// Payload: { "x": -100..100, "y": -100..100, "timestamp": ... }
	ControlMovement = "control/movement"

	// ControlSettings carries speed, balance and performance toggles.
	// Payload: { "action": "change_speed", "value": 1.5, "timestamp": ... }
	ControlSettings = "control/settings"

	// ControlCamera carries camera on/off.
	// Payload: { "action": "toggle_camera", "timestamp": ... }
	ControlCamera = "control/camera"

	// ControlSystem carries emergency stop, reset, reboot and poweroff.
	// Payload: { "action": "emergency_stop", "timestamp": ... }
	ControlSystem = "control/system"

	// RequestBattery asks the robot for a battery report.
	RequestBattery = "request/battery"

	// RequestImageCapture asks the robot for a still frame.
	// Payload: { "request_id": "...", "resolution": "high|low|tiny", "timestamp": ... }
	RequestImageCapture = "request/image_capture"
)

// Upstream: robot -> gateway (status and responses)
const (
	// Status is the periodic status report.
	Status = "status"

	// StatusBattery is the battery report.
	// Payload: { "level": 0..100 }
	StatusBattery = "status/battery"

	// StatusIMU is the attitude report.
	// Payload: { "roll": ..., "pitch": ..., "yaw": ... }
	StatusIMU = "status/imu"

	// ResponseImageCapture answers RequestImageCapture.
	// Payload: { "success": true, "request_id": "...", "image_data": "<base64>" }
	ResponseImageCapture = "response/image_capture"
)
