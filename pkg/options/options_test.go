package options

import (
	"testing"
	"time"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8080", false},
		{":8080", false},
		{"localhost:1", false},
		{"127.0.0.1", true},
		{"127.0.0.1:0", true},
		{"127.0.0.1:65536", true},
		{"127.0.0.1:http", true},
	}

	for _, tt := range tests {
		err := ValidateAddress(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestMqttOptions(t *testing.T) {
	o := NewMqttOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults invalid: %v", errs)
	}
	if got := o.BrokerURL(); got != "tcp://192.168.1.173:1883" {
		t.Errorf("BrokerURL() = %q", got)
	}
	if got := o.KeepAliveSeconds(); got != 60 {
		t.Errorf("KeepAliveSeconds() = %d", got)
	}

	o.Host = "::1"
	o.Scheme = "ws"
	if got := o.BrokerURL(); got != "ws://[::1]:1883" {
		t.Errorf("BrokerURL() = %q", got)
	}

	bad := &MqttOptions{Scheme: "http", Port: 0, KeepAlive: 0}
	if errs := bad.Validate(); len(errs) != 5 {
		t.Errorf("got %d errors, want 5: %v", len(errs), errs)
	}
}

func TestOptionalGroups(t *testing.T) {
	s3 := NewS3Options()
	s3.BucketName = ""
	if errs := s3.Validate(); len(errs) != 0 {
		t.Errorf("disabled archive validated: %v", errs)
	}
	s3.Enabled = true
	if errs := s3.Validate(); len(errs) != 1 {
		t.Errorf("got %v, want one error", errs)
	}

	c := NewCaptureOptions()
	c.Policy = "newest"
	if errs := c.Validate(); len(errs) != 1 {
		t.Errorf("got %v, want one error", errs)
	}

	sd := NewShutdownOptions()
	sd.WatchdogTimeout = 100 * time.Millisecond
	if errs := sd.Validate(); len(errs) != 1 {
		t.Errorf("got %v, want one error", errs)
	}
}
