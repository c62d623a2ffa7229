package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ShutdownOptions)(nil)

// ShutdownOptions bounds the disconnect and termination sequences.
type ShutdownOptions struct {
	// FlushDelay is the pause after the safety commands before the link closes.
	FlushDelay time.Duration `json:"flush-delay" mapstructure:"flush-delay"`

	// CloseTimeout bounds an orderly broker disconnect.
	CloseTimeout time.Duration `json:"close-timeout" mapstructure:"close-timeout"`

	// SafetyTimeout bounds each stop command sent on shutdown.
	SafetyTimeout time.Duration `json:"safety-timeout" mapstructure:"safety-timeout"`

	// WatchdogTimeout is the hard limit on the whole shutdown.
	WatchdogTimeout time.Duration `json:"watchdog-timeout" mapstructure:"watchdog-timeout"`
}

func NewShutdownOptions() *ShutdownOptions {
	return &ShutdownOptions{
		FlushDelay:      200 * time.Millisecond,
		CloseTimeout:    500 * time.Millisecond,
		SafetyTimeout:   500 * time.Millisecond,
		WatchdogTimeout: 2 * time.Second,
	}
}

func (o *ShutdownOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.FlushDelay <= 0 || o.CloseTimeout <= 0 || o.SafetyTimeout <= 0 {
		errors = append(errors, fmt.Errorf("shutdown delays must be positive"))
	}
	if o.WatchdogTimeout <= o.FlushDelay {
		errors = append(errors, fmt.Errorf("--shutdown.watchdog-timeout must exceed --shutdown.flush-delay"))
	}

	return errors
}

func (o *ShutdownOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.FlushDelay, "shutdown.flush-delay", o.FlushDelay, "Pause after the stop commands before disconnecting.")
	fs.DurationVar(&o.CloseTimeout, "shutdown.close-timeout", o.CloseTimeout, "Time allowed for an orderly broker disconnect.")
	fs.DurationVar(&o.SafetyTimeout, "shutdown.safety-timeout", o.SafetyTimeout, "Time allowed for each stop command on shutdown.")
	fs.DurationVar(&o.WatchdogTimeout, "shutdown.watchdog-timeout", o.WatchdogTimeout, "Kill the process if shutdown takes longer than this.")
}
