package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app/options"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

func TestPrintTopics(t *testing.T) {
	entries := topic.NewTable("rider").Entries()

	var buf bytes.Buffer
	if err := printTopics(&buf, entries, outputTable); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"CHANNEL", "rider/status/battery", "rider/control/movement", "subscribe", "publish"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printTopics(&buf, entries, outputYAML); err != nil {
		t.Fatal(err)
	}
	var decoded []topic.Entry
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("yaml output: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Errorf("yaml has %d entries, want %d", len(decoded), len(entries))
	}

	if err := printTopics(&buf, entries, "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestLoadConfigLayers(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ridergate.yaml")
	content := "mqtt:\n  host: 10.1.1.1\n  topic-root: lab\ncapture:\n  policy: latest\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIDERGATE_MQTT_PORT", "1884")

	cmd := NewRidergateCommand()
	if err := cmd.ParseFlags([]string{"--mqtt.topic-root=override"}); err != nil {
		t.Fatal(err)
	}

	opts := options.NewGatewayOptions()
	if err := loadConfig(viper.New(), file, cmd.Flags(), opts); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if opts.Mqtt.Host != "10.1.1.1" {
		t.Errorf("host = %q, want value from file", opts.Mqtt.Host)
	}
	if opts.Mqtt.Port != 1884 {
		t.Errorf("port = %d, want value from env", opts.Mqtt.Port)
	}
	if opts.Mqtt.TopicRoot != "override" {
		t.Errorf("topic root = %q, want flag value", opts.Mqtt.TopicRoot)
	}
	if opts.Capture.Policy != "latest" {
		t.Errorf("policy = %q", opts.Capture.Policy)
	}
	if opts.Mqtt.KeepAlive.Seconds() != 60 {
		t.Errorf("keep alive = %v, want flag default", opts.Mqtt.KeepAlive)
	}
}

func TestMissingConfigFileIsFine(t *testing.T) {
	opts := options.NewGatewayOptions()
	cmd := NewRidergateCommand()
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	if err := loadConfig(viper.New(), missing, cmd.Flags(), opts); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if opts.Mqtt.Host != "192.168.1.173" {
		t.Errorf("host = %q", opts.Mqtt.Host)
	}
}

func TestBrokerPersister(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ridergate.yaml")
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")

	if err := brokerPersister(v)("10.0.0.9", 1883); err != nil {
		t.Fatalf("persist: %v", err)
	}

	saved := viper.New()
	saved.SetConfigFile(file)
	if err := saved.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	if saved.GetString("mqtt.host") != "10.0.0.9" || saved.GetInt("mqtt.port") != 1883 {
		t.Errorf("saved = %v", saved.AllSettings())
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}
	p.print(context.Background(), "rider/status", []byte(`{"battery_level":55}`))
	p.print(context.Background(), "rider/status", []byte(`not json`))

	out := buf.String()
	if !strings.Contains(out, "\"battery_level\": 55") || !strings.Contains(out, "not json") {
		t.Errorf("output:\n%s", out)
	}
}
