package topic

// Category groups channels by direction. Only inbound categories are ever
// subscribed.
type Category string

const (
	CategoryStatus   Category = "status"
	CategoryResponse Category = "response"
	CategoryControl  Category = "control"
	CategoryRequest  Category = "request"
)

// Inbound reports whether messages of this category flow robot -> gateway.
func (c Category) Inbound() bool {
	return c == CategoryStatus || c == CategoryResponse
}

// Channel is the logical name of a topic, independent of the root namespace.
type Channel string

// Inbound channels.
const (
	Status        Channel = "status"
	Battery       Channel = "battery"
	IMU           Channel = "imu"
	ImageResponse Channel = "image_response"
)

// Outbound channels.
const (
	ControlMovement Channel = "control_movement"
	ControlSettings Channel = "control_settings"
	ControlCamera   Channel = "control_camera"
	ControlSystem   Channel = "control_system"
	RequestBattery  Channel = "request_battery"
	RequestImage    Channel = "request_image"
)

// DefaultRoot is the namespace the robot firmware uses.
const DefaultRoot = "rider"
