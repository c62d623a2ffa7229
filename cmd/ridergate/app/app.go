package app

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app/options"
	"github.com/autopeer-io/ridergate/pkg/log"
)

const (
	commandName = "ridergate"
	commandDesc = `ridergate connects to the MQTT broker on a rider robot, keeps a live copy of
the robot's state and exposes driving, settings, camera and system commands
through a local HTTP API and WebSocket event stream.

On exit it always tells the robot to stop before the connection closes.`
)

// NewRidergateCommand returns the root command. Without a subcommand it
// runs the gateway.
func NewRidergateCommand() *cobra.Command {
	opts := options.NewGatewayOptions()
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "MQTT gateway for the rider robot",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, configFile, cmd.Flags(), opts); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log.Init(opts.Log)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()

			cfg, err := opts.Config(brokerPersister(v))
			if err != nil {
				log.Error(err, "invalid configuration")
				return err
			}
			watchConfig(v)

			gw, err := cfg.NewGateway()
			if err != nil {
				log.Error(err, "failed to create gateway")
				return err
			}
			return gw.Run(cmd.Context())
		},
		Args: cobra.NoArgs,
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile(), "Path to the YAML configuration file.")

	fs := cmd.PersistentFlags()
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	cmd.AddCommand(
		newTopicsCmd(opts),
		newEstopCmd(opts),
		newMonitorCmd(opts),
	)

	return cmd
}
