package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CaptureOptions)(nil)

// CaptureOptions configures image capture and robot liveness tracking.
type CaptureOptions struct {
	// Policy is "strict" (match request_id) or "latest" (accept any response).
	Policy string `json:"policy" mapstructure:"policy"`

	// ControllerTimeout marks the game controller disconnected after this long
	// without a heartbeat.
	ControllerTimeout time.Duration `json:"controller-timeout" mapstructure:"controller-timeout"`

	// LivenessInterval is how often the controller heartbeat is checked.
	LivenessInterval time.Duration `json:"liveness-interval" mapstructure:"liveness-interval"`
}

func NewCaptureOptions() *CaptureOptions {
	return &CaptureOptions{
		Policy:            "strict",
		ControllerTimeout: 5 * time.Second,
		LivenessInterval:  time.Second,
	}
}

func (o *CaptureOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Policy != "strict" && o.Policy != "latest" {
		errors = append(errors, fmt.Errorf("--capture.policy must be \"strict\" or \"latest\", got %q", o.Policy))
	}
	if o.ControllerTimeout <= 0 || o.LivenessInterval <= 0 {
		errors = append(errors, fmt.Errorf("liveness durations must be positive"))
	}

	return errors
}

func (o *CaptureOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Policy, "capture.policy", o.Policy, "Image response correlation: strict or latest.")
	fs.DurationVar(&o.ControllerTimeout, "capture.controller-timeout", o.ControllerTimeout, "Heartbeat age after which the controller counts as disconnected.")
	fs.DurationVar(&o.LivenessInterval, "capture.liveness-interval", o.LivenessInterval, "How often controller liveness is checked.")
}
