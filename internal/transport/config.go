package transport

import (
	"time"
)

const (
	DefaultClientIDPrefix = "rider_pc_client_"
	DefaultFlushDelay     = 200 * time.Millisecond
	DefaultCloseTimeout   = 500 * time.Millisecond
	DefaultForceTimeout   = 250 * time.Millisecond
	DefaultReconnectPause = time.Second
)

// Config holds the broker session parameters.
type Config struct {
	BrokerURL          string
	Username           string
	Password           string
	ClientIDPrefix     string
	KeepAlive          uint16
	ConnectTimeout     time.Duration
	ReconnectDelay     time.Duration
	CleanStart         bool
	InsecureSkipVerify bool

	// FlushDelay is the pause after the safety commands of a graceful
	// disconnect, giving the network loop time to write them.
	FlushDelay time.Duration

	// CloseTimeout bounds the orderly DISCONNECT of a graceful disconnect.
	CloseTimeout time.Duration

	// ForceTimeout bounds the best-effort DISCONNECT of a forced disconnect.
	ForceTimeout time.Duration

	// ReconnectPause separates the disconnect and connect halves of Reconnect.
	ReconnectPause time.Duration
}

func (c *Config) setDefaults() {
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = DefaultClientIDPrefix
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = DefaultFlushDelay
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.ForceTimeout <= 0 {
		c.ForceTimeout = DefaultForceTimeout
	}
	if c.ReconnectPause <= 0 {
		c.ReconnectPause = DefaultReconnectPause
	}
}
