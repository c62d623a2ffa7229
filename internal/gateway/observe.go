package gateway

import (
	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/internal/state"
)

// recordEvent mirrors state events into the robot gauges.
func recordEvent(e state.Event) error {
	metrics.StateEventsTotal.WithLabelValues(string(e.Category())).Inc()

	switch ev := e.(type) {
	case state.BatteryEvent:
		metrics.RobotBatteryLevel.Set(float64(ev.Level))
	case state.StatusEvent:
		if ev.Changed.BatteryLevel != nil {
			metrics.RobotBatteryLevel.Set(float64(*ev.Changed.BatteryLevel))
		}
		if ev.Changed.ControllerConnected != nil {
			metrics.ControllerConnected.Set(metrics.BoolGauge(*ev.Changed.ControllerConnected))
		}
	}
	return nil
}
