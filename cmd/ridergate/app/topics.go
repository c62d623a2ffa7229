package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app/options"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"
)

func newTopicsCmd(opts *options.GatewayOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print the topic table for the configured root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := topic.NewTable(opts.Mqtt.TopicRoot)
			return printTopics(cmd.OutOrStdout(), table.Entries(), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, yaml or json.")
	return cmd
}

func printTopics(w io.Writer, entries []topic.Entry, output string) error {
	switch output {
	case outputTable:
		t := uitable.New()
		t.MaxColWidth = 60
		t.AddRow("CHANNEL", "TOPIC", "CATEGORY", "DIRECTION")
		for _, e := range entries {
			dir := "publish"
			if e.Category.Inbound() {
				dir = "subscribe"
			}
			t.AddRow(e.Channel, e.Topic, e.Category, dir)
		}
		_, err := fmt.Fprintln(w, t)
		return err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
