package gateway

import (
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/gateway/archive"
	"github.com/autopeer-io/ridergate/internal/router"
	"github.com/autopeer-io/ridergate/internal/shutdown"
	"github.com/autopeer-io/ridergate/internal/state"
	"github.com/autopeer-io/ridergate/internal/transport"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
	"github.com/autopeer-io/ridergate/pkg/options"
)

// Config is the completed configuration of a gateway.
type Config struct {
	MqttOptions     *options.MqttOptions
	HttpOptions     *options.HttpOptions
	S3Options       *options.S3Options
	ShutdownOptions *options.ShutdownOptions
	CaptureOptions  *options.CaptureOptions

	// PersistBroker saves a broker changed through the API. Nil disables it.
	PersistBroker BrokerPersister
}

// TransportConfig derives the broker session parameters.
func (cfg *Config) TransportConfig() transport.Config {
	return transport.Config{
		BrokerURL:          cfg.MqttOptions.BrokerURL(),
		Username:           cfg.MqttOptions.Username,
		Password:           cfg.MqttOptions.Password,
		ClientIDPrefix:     cfg.MqttOptions.ClientIDPrefix,
		KeepAlive:          cfg.MqttOptions.KeepAliveSeconds(),
		ConnectTimeout:     cfg.MqttOptions.ConnectTimeout,
		ReconnectDelay:     cfg.MqttOptions.ReconnectDelay,
		CleanStart:         cfg.MqttOptions.CleanStart,
		InsecureSkipVerify: cfg.MqttOptions.InsecureSkipVerify,
		FlushDelay:         cfg.ShutdownOptions.FlushDelay,
		CloseTimeout:       cfg.ShutdownOptions.CloseTimeout,
	}
}

// NewGateway wires every component.
func (cfg *Config) NewGateway() (*Gateway, error) {
	policy, err := command.ParsePolicy(cfg.CaptureOptions.Policy)
	if err != nil {
		return nil, err
	}

	table := topic.NewTable(cfg.MqttOptions.TopicRoot)
	tr := transport.New(cfg.TransportConfig(), table, transport.WithLogger(log.WithName("transport")))

	store := state.NewStore(
		state.WithLogger(log.WithName("state")),
		state.WithControllerTimeout(cfg.CaptureOptions.ControllerTimeout),
	)
	facade := command.New(tr,
		command.WithPolicy(policy),
		command.WithLogger(log.WithName("command")),
	)

	rt := router.New(table, store, facade, log.WithName("router"))
	tr.SetMessageHandler(rt.HandleMessage)
	tr.OnConnect(rt.HandleLinkUp)
	tr.OnDisconnect(rt.HandleLinkDown)

	events := NewEventHub(log.WithName("events"))
	if _, err := store.Subscribe(state.CategoryAll, recordEvent); err != nil {
		return nil, err
	}
	if _, err := store.Subscribe(state.CategoryAll, events.HandleStateEvent); err != nil {
		return nil, err
	}
	facade.OnImageCapture(events.HandleCapture)

	var arch *archive.Archive
	if cfg.S3Options.Enabled {
		client, err := archive.NewMinIOClient(cfg.S3Options)
		if err != nil {
			return nil, fmt.Errorf("failed to init image archive: %w", err)
		}
		arch = archive.New(archive.Config{
			Bucket:    cfg.S3Options.BucketName,
			Region:    cfg.S3Options.Region,
			Prefix:    cfg.S3Options.Prefix,
			QueueSize: cfg.S3Options.QueueSize,
		}, client, clock.RealClock{}, log.WithName("archive"))
		facade.OnImageCapture(arch.HandleCapture)
	}

	orch := shutdown.New(shutdown.Config{
		SafetyTimeout:   cfg.ShutdownOptions.SafetyTimeout,
		FlushDelay:      cfg.ShutdownOptions.FlushDelay,
		WatchdogTimeout: cfg.ShutdownOptions.WatchdogTimeout,
	}, safetyCommands{pub: tr, clock: clock.RealClock{}}, tr, shutdown.WithLogger(log.WithName("shutdown")))

	api := NewAPI(APIConfig{
		HttpOptions: cfg.HttpOptions,
		MqttOptions: cfg.MqttOptions,
		Store:       store,
		Commands:    facade,
		Link:        tr,
		Table:       table,
		Events:      events,
		Trigger:     orch.Trigger,
		Persist:     cfg.PersistBroker,
		Logger:      log.WithName("api"),
	})

	orch.Register("api", api.Stop)
	orch.Register("events", events.Stop)
	if arch != nil {
		orch.Register("archive", arch.Stop)
	}

	return &Gateway{
		logger:           log.WithName("gateway"),
		transport:        tr,
		store:            store,
		commands:         facade,
		router:           rt,
		events:           events,
		archive:          arch,
		api:              api,
		shutdown:         orch,
		livenessInterval: cfg.CaptureOptions.LivenessInterval,
	}, nil
}
