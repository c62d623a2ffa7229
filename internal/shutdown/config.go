package shutdown

import "time"

const (
	DefaultSafetyTimeout    = 500 * time.Millisecond
	DefaultFlushDelay       = 200 * time.Millisecond
	DefaultPresenterTimeout = time.Second
	DefaultWatchdogTimeout  = 2 * time.Second
)

// Config bounds each phase of the sequence. Zero values take the defaults.
type Config struct {
	// SafetyTimeout bounds each stop command.
	SafetyTimeout time.Duration
	// FlushDelay lets queued commands leave before the link closes.
	FlushDelay time.Duration
	// PresenterTimeout bounds each presenter's stop.
	PresenterTimeout time.Duration
	// WatchdogTimeout is how long the whole sequence may take before the
	// process is killed.
	WatchdogTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = DefaultSafetyTimeout
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = DefaultFlushDelay
	}
	if c.PresenterTimeout <= 0 {
		c.PresenterTimeout = DefaultPresenterTimeout
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = DefaultWatchdogTimeout
	}
}
