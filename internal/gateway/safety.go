package gateway

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

type publisher interface {
	Publish(ctx context.Context, ch topic.Channel, v any) error
}

// safetyCommands sends the shutdown stop commands tagged with their source so
// the robot log tells them apart from operator input.
type safetyCommands struct {
	pub   publisher
	clock clock.PassiveClock
}

func (s safetyCommands) Stop(ctx context.Context) error {
	return s.pub.Publish(ctx, topic.ControlMovement, protocol.Movement{
		Timestamp: protocol.NewTimestamp(s.clock.Now()),
		Source:    protocol.SourceShutdown,
	})
}

func (s safetyCommands) EmergencyStop(ctx context.Context) error {
	return s.pub.Publish(ctx, topic.ControlSystem, protocol.Action{
		Action:    string(protocol.SystemEmergencyStop),
		Timestamp: protocol.NewTimestamp(s.clock.Now()),
		Source:    protocol.SourceShutdown,
	})
}
