package command

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

type sent struct {
	channel topic.Channel
	body    map[string]any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, ch topic.Channel, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	data, _ := json.Marshal(v)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	p.sent = append(p.sent, sent{channel: ch, body: body})
	return nil
}

func newTestFacade(pub Publisher, opts ...Option) (*Facade, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	n := 0
	gen := func() string {
		n++
		return "req-" + strconv.Itoa(n)
	}
	opts = append([]Option{WithClock(clk), WithLogger(log.NewNopLogger()), WithIDGenerator(gen)}, opts...)
	return New(pub, opts...), clk
}

func TestCommandEnvelopes(t *testing.T) {
	pub := &fakePublisher{}
	f, _ := newTestFacade(pub)
	ctx := context.Background()

	steps := []struct {
		name    string
		call    func() error
		channel topic.Channel
		want    map[string]any
	}{
		{"movement", func() error { return f.Movement(ctx, 50, -30) }, topic.ControlMovement, map[string]any{"x": 50.0, "y": -30.0}},
		{"stop", func() error { return f.Stop(ctx) }, topic.ControlMovement, map[string]any{"x": 0.0, "y": 0.0}},
		{"speed", func() error { return f.ChangeSpeed(ctx, 1.5) }, topic.ControlSettings, map[string]any{"action": "change_speed", "value": 1.5}},
		{"height", func() error { return f.Settings(ctx, "set_height", 90) }, topic.ControlSettings, map[string]any{"action": "set_height", "value": 90.0}},
		{"roll balance", func() error { return f.ToggleRollBalance(ctx) }, topic.ControlSettings, map[string]any{"action": "toggle_roll_balance"}},
		{"performance", func() error { return f.TogglePerformance(ctx) }, topic.ControlSettings, map[string]any{"action": "toggle_performance"}},
		{"camera", func() error { return f.ToggleCamera(ctx) }, topic.ControlCamera, map[string]any{"action": "toggle_camera"}},
		{"estop", func() error { return f.EmergencyStop(ctx) }, topic.ControlSystem, map[string]any{"action": "emergency_stop"}},
		{"reboot", func() error { return f.System(ctx, protocol.SystemRebootPi) }, topic.ControlSystem, map[string]any{"action": "reboot_pi"}},
		{"battery", func() error { return f.RequestBattery(ctx) }, topic.RequestBattery, map[string]any{"action": "request_battery"}},
	}

	for i, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			if err := st.call(); err != nil {
				t.Fatalf("call: %v", err)
			}
			got := pub.sent[i]
			if got.channel != st.channel {
				t.Errorf("channel = %q, want %q", got.channel, st.channel)
			}
			if got.body["timestamp"] != 1700000000.0 {
				t.Errorf("timestamp = %v", got.body["timestamp"])
			}
			for k, v := range st.want {
				if got.body[k] != v {
					t.Errorf("%s = %v, want %v", k, got.body[k], v)
				}
			}
			if _, ok := st.want["value"]; !ok {
				if _, present := got.body["value"]; present {
					t.Errorf("value present in %v", got.body)
				}
			}
		})
	}
}

func TestRejectsUnknownActions(t *testing.T) {
	pub := &fakePublisher{}
	f, _ := newTestFacade(pub)
	ctx := context.Background()

	if err := f.System(ctx, "self_destruct"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("System() = %v, want ErrUnknownAction", err)
	}
	if _, err := f.RequestImageCapture(ctx, "4k"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("RequestImageCapture() = %v, want ErrUnknownAction", err)
	}
	if err := f.Settings(ctx, "", nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Settings() = %v, want ErrUnknownAction", err)
	}
	if len(pub.sent) != 0 {
		t.Errorf("rejected commands were published: %+v", pub.sent)
	}
}

func TestPublishFailureLeavesNoPending(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	f, _ := newTestFacade(pub)

	id, err := f.RequestImageCapture(context.Background(), protocol.ResolutionLow)
	if err == nil || id != "" {
		t.Fatalf("RequestImageCapture() = %q, %v", id, err)
	}
	if _, ok := f.Pending(); ok {
		t.Error("pending record left after failed publish")
	}
}

func response(id string, ok bool) *protocol.ImageCaptureResponse {
	return &protocol.ImageCaptureResponse{Success: &ok, RequestID: id, ImageData: "aGk="}
}

func TestCorrelationPolicies(t *testing.T) {
	tests := []struct {
		policy       Policy
		wantAccepted []string
	}{
		// r1 is superseded by r2; "bogus" was never requested; r2 twice is a duplicate.
		{PolicyStrict, []string{"req-2"}},
		{PolicyLatest, []string{"req-1", "req-2", "bogus", "req-2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			pub := &fakePublisher{}
			f, clk := newTestFacade(pub, WithPolicy(tt.policy))
			ctx := context.Background()

			var accepted []CaptureResult
			f.OnImageCapture(func(_ context.Context, r CaptureResult) { accepted = append(accepted, r) })

			if _, err := f.RequestImageCapture(ctx, protocol.ResolutionHigh); err != nil {
				t.Fatal(err)
			}
			id2, err := f.RequestImageCapture(ctx, protocol.ResolutionTiny)
			if err != nil {
				t.Fatal(err)
			}
			if p, _ := f.Pending(); p.RequestID != id2 {
				t.Fatalf("pending = %q, want %q", p.RequestID, id2)
			}
			clk.Step(300 * time.Millisecond)

			for _, id := range []string{"req-1", "req-2", "bogus", "req-2"} {
				f.HandleImageResponse(ctx, response(id, true))
			}

			if len(accepted) != len(tt.wantAccepted) {
				t.Fatalf("accepted %d responses, want %d: %+v", len(accepted), len(tt.wantAccepted), accepted)
			}
			for i, id := range tt.wantAccepted {
				if accepted[i].RequestID != id {
					t.Errorf("accepted[%d] = %q, want %q", i, accepted[i].RequestID, id)
				}
			}
			if tt.policy == PolicyStrict {
				if accepted[0].Resolution != protocol.ResolutionTiny || accepted[0].Latency != 300*time.Millisecond {
					t.Errorf("result = %+v", accepted[0])
				}
			}
			if _, ok := f.Pending(); ok {
				t.Error("pending record not cleared")
			}
		})
	}
}

func TestFailedCaptureDelivered(t *testing.T) {
	f, _ := newTestFacade(&fakePublisher{})
	ctx := context.Background()

	var got []CaptureResult
	f.OnImageCapture(func(context.Context, CaptureResult) { panic("ui bug") })
	f.OnImageCapture(func(_ context.Context, r CaptureResult) { got = append(got, r) })

	id, _ := f.RequestImageCapture(ctx, protocol.ResolutionLow)
	r := response(id, false)
	r.Error = "camera busy"
	if !f.HandleImageResponse(ctx, r) {
		t.Fatal("matching failure response rejected")
	}
	if len(got) != 1 || got[0].Success || got[0].Error != "camera busy" {
		t.Errorf("results = %+v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("latest"); err != nil || p != PolicyLatest {
		t.Errorf("ParsePolicy(latest) = %q, %v", p, err)
	}
	if _, err := ParsePolicy("whatever"); err == nil {
		t.Error("ParsePolicy accepted an unknown policy")
	}
}
