package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/autopeer-io/ridergate/pkg/log"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout bounds a single connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectDelay is the constant pause between connection attempts. Default is 3s.
	ReconnectDelay time.Duration

	// CleanStart requests a fresh session on the first connection.
	CleanStart bool

	// SessionExpiry in seconds. Zero ends the session with the network connection.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification for ssl:// and wss:// brokers.
	InsecureSkipVerify bool

	// Logger receives client and library diagnostics. Defaults to the global logger.
	Logger log.Logger

	// OnConnectionUp is called after every successful CONNACK.
	OnConnectionUp func()

	// OnConnectError is called when a connection attempt fails.
	OnConnectError func(err error)

	// OnConnectionDown is called when an established link is lost.
	OnConnectionDown func()
}

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}

	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = log.WithName("mqtt")
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("broker url %q has no host", c.BrokerURL)
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	return nil
}
