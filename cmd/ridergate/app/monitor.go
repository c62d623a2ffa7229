package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app/options"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt"
)

func newMonitorCmd(opts *options.GatewayOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print every message under the topic root",
		Long: `monitor subscribes to <root>/# and prints each message with its topic,
including the commands other clients send to the robot. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()

			cfg, err := opts.Config(nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := mqtt.NewClient(&mqtt.ClientConfig{
				BrokerURL:          cfg.MqttOptions.BrokerURL(),
				ClientID:           "ridergate_monitor_" + strconv.FormatInt(time.Now().Unix(), 10),
				Username:           cfg.MqttOptions.Username,
				Password:           cfg.MqttOptions.Password,
				KeepAlive:          cfg.MqttOptions.KeepAliveSeconds(),
				ConnectTimeout:     cfg.MqttOptions.ConnectTimeout,
				ReconnectDelay:     cfg.MqttOptions.ReconnectDelay,
				CleanStart:         true,
				InsecureSkipVerify: cfg.MqttOptions.InsecureSkipVerify,
				Logger:             log.WithName("monitor"),
			})
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}

			p := &printer{w: cmd.OutOrStdout(), raw: raw}
			filter := cfg.MqttOptions.TopicRoot + "/#"
			if err := client.Subscribe(ctx, filter, 0, p.print); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "monitoring %s on %s\n", filter, cfg.MqttOptions.BrokerURL())

			<-ctx.Done()

			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = client.Disconnect(closeCtx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print payloads as received instead of indented JSON.")
	return cmd
}

type printer struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
}

func (p *printer) print(_ context.Context, topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body := payload
	if !p.raw {
		var buf bytes.Buffer
		if err := json.Indent(&buf, payload, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	fmt.Fprintf(p.w, "[%s] %s\n%s\n", time.Now().Format("15:04:05.000"), topic, body)
}
