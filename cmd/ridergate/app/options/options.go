package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/ridergate/internal/gateway"
	"github.com/autopeer-io/ridergate/pkg/log"
	genericoptions "github.com/autopeer-io/ridergate/pkg/options"
)

// GatewayOptions is the full configuration of ridergate. The mapstructure
// tags are the sections of the config file.
type GatewayOptions struct {
	Mqtt     *genericoptions.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	Http     *genericoptions.HttpOptions     `json:"http" mapstructure:"http"`
	S3       *genericoptions.S3Options       `json:"s3" mapstructure:"s3"`
	Shutdown *genericoptions.ShutdownOptions `json:"shutdown" mapstructure:"shutdown"`
	Capture  *genericoptions.CaptureOptions  `json:"capture" mapstructure:"capture"`
	Log      *log.Options                    `json:"log" mapstructure:"log"`
}

func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{
		Mqtt:     genericoptions.NewMqttOptions(),
		Http:     genericoptions.NewHttpOptions(),
		S3:       genericoptions.NewS3Options(),
		Shutdown: genericoptions.NewShutdownOptions(),
		Capture:  genericoptions.NewCaptureOptions(),
		Log:      log.NewOptions(),
	}
}

func (o *GatewayOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	o.Mqtt.AddFlags(fss.FlagSet("MQTT"))
	o.Http.AddFlags(fss.FlagSet("HTTP"))
	o.S3.AddFlags(fss.FlagSet("Image Archive"))
	o.Shutdown.AddFlags(fss.FlagSet("Shutdown"))
	o.Capture.AddFlags(fss.FlagSet("Capture"))
	o.Log.AddFlags(fss.FlagSet("Log"))

	return fss
}

// Complete fills derived defaults after flags and config are merged.
func (o *GatewayOptions) Complete() error {
	if o.Mqtt.Scheme == "" {
		o.Mqtt.Scheme = "tcp"
	}
	if o.Mqtt.TopicRoot == "" {
		o.Mqtt.TopicRoot = "rider"
	}
	return nil
}

func (o *GatewayOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Shutdown.Validate()...)
	errs = append(errs, o.Capture.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return utilerrors.NewAggregate(errs)
}

func (o *GatewayOptions) Config(persist gateway.BrokerPersister) (*gateway.Config, error) {
	if err := o.Complete(); err != nil {
		return nil, fmt.Errorf("failed to complete options: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	return &gateway.Config{
		MqttOptions:     o.Mqtt,
		HttpOptions:     o.Http,
		S3Options:       o.S3,
		ShutdownOptions: o.Shutdown,
		CaptureOptions:  o.Capture,
		PersistBroker:   persist,
	}, nil
}
