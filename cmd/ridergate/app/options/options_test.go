package options

import (
	"strings"
	"testing"
)

func TestGatewayOptions(t *testing.T) {
	o := NewGatewayOptions()
	if err := o.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	fss := o.Flags()
	for _, name := range []string{"mqtt.host", "mqtt.topic-root", "http.addr", "s3.enabled", "shutdown.watchdog-timeout", "capture.policy", "log.level"} {
		found := false
		for _, fs := range fss.FlagSets {
			if fs.Lookup(name) != nil {
				found = true
			}
		}
		if !found {
			t.Errorf("flag --%s not registered", name)
		}
	}

	o.Mqtt.Port = 0
	o.Capture.Policy = "newest"
	err := o.Validate()
	if err == nil || !strings.Contains(err.Error(), "mqtt.port") || !strings.Contains(err.Error(), "capture.policy") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfigCompletes(t *testing.T) {
	o := NewGatewayOptions()
	o.Mqtt.TopicRoot = ""
	o.Mqtt.Scheme = ""

	cfg, err := o.Config(nil)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.MqttOptions.TopicRoot != "rider" || cfg.MqttOptions.BrokerURL() != "tcp://192.168.1.173:1883" {
		t.Errorf("completed options = %+v", cfg.MqttOptions)
	}
}
