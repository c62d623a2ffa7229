package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app/options"
	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/transport"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

func newEstopCmd(opts *options.GatewayOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "estop",
		Short: "Connect, stop the robot and disconnect",
		Long: `estop connects to the broker, sends a zero movement and an emergency stop
and then disconnects gracefully. It exits non-zero when the broker cannot be
reached within --timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()

			cfg, err := opts.Config(nil)
			if err != nil {
				return err
			}

			tr := transport.New(cfg.TransportConfig(), topic.NewTable(opts.Mqtt.TopicRoot))
			return estop(cmd.Context(), cmd.OutOrStdout(), tr, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the broker.")
	return cmd
}

// estop sends a zero movement and an emergency stop over tr once its session
// is up, then closes the session gracefully.
func estop(ctx context.Context, out io.Writer, tr *transport.Client, timeout time.Duration) error {
	facade := command.New(tr)

	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.GracefulDisconnect()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tr.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("broker %s not reachable: %w", tr.Broker(), err)
	}

	if err := errors.Join(facade.Stop(ctx), facade.EmergencyStop(ctx)); err != nil {
		return fmt.Errorf("failed to send stop: %w", err)
	}
	fmt.Fprintf(out, "emergency stop sent to %s\n", tr.Broker())
	return nil
}
