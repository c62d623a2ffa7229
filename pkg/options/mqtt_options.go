package options

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains the broker connection and topic namespace.
type MqttOptions struct {
	// Host and Port locate the broker, which usually runs on the robot itself.
	Host   string `json:"host" mapstructure:"host"`
	Port   int    `json:"port" mapstructure:"port"`
	Scheme string `json:"scheme" mapstructure:"scheme"`

	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`

	// ClientIDPrefix is followed by the connect time in epoch seconds.
	ClientIDPrefix string `json:"client-id-prefix" mapstructure:"client-id-prefix"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// If true, TLS accepts any certificate presented by the server and any host name in that certificate.
	// In this mode, TLS is susceptible to man-in-the-middle attacks. This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot is the namespace every topic lives under: {TopicRoot}/status, ...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Host:           "192.168.1.173",
		Port:           1883,
		Scheme:         "tcp",
		ClientIDPrefix: "rider_pc_client_",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		ReconnectDelay: 3 * time.Second,
		CleanStart:     true,
		TopicRoot:      "rider",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Host == "" {
		errors = append(errors, fmt.Errorf("--mqtt.host must not be empty"))
	}
	if err := ValidatePort(strconv.Itoa(o.Port)); err != nil {
		errors = append(errors, fmt.Errorf("--mqtt.port: %w", err))
	}
	switch o.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		errors = append(errors, fmt.Errorf("--mqtt.scheme %q is not supported", o.Scheme))
	}
	if o.KeepAlive < time.Second || o.KeepAlive.Seconds() > 65535 {
		errors = append(errors, fmt.Errorf("--mqtt.keep-alive must be between 1s and 65535s"))
	}
	if o.ClientIDPrefix == "" {
		errors = append(errors, fmt.Errorf("--mqtt.client-id-prefix must not be empty"))
	}

	return errors
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "mqtt.host", o.Host, "The robot's MQTT broker host or IP address.")
	fs.IntVar(&o.Port, "mqtt.port", o.Port, "The robot's MQTT broker port.")
	fs.StringVar(&o.Scheme, "mqtt.scheme", o.Scheme, "The broker URL scheme (tcp, ssl, ws, wss).")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientIDPrefix, "mqtt.client-id-prefix", o.ClientIDPrefix, "Client ID prefix; the connect time is appended.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectDelay, "mqtt.reconnect-delay", o.ReconnectDelay, "Delay between automatic reconnect attempts.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start every connection with a clean session.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	// Topics
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic namespace shared with the robot.")
}

// BrokerURL joins scheme, host and port.
func (o *MqttOptions) BrokerURL() string {
	u := url.URL{Scheme: o.Scheme, Host: net.JoinHostPort(o.Host, strconv.Itoa(o.Port))}
	return u.String()
}

// KeepAliveSeconds is the keep alive as sent in CONNECT.
func (o *MqttOptions) KeepAliveSeconds() uint16 {
	return uint16(o.KeepAlive.Seconds())
}
