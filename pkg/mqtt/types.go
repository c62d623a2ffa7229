package mqtt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler processes one received message. It runs on the client's
// receive goroutine and must not block.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client abstracts the paho connection manager.
type Client interface {
	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT and stops the connection manager. It returns
	// when the manager has shut down or ctx expires.
	Disconnect(ctx context.Context) error

	// Stop tears the network loop down without any broker interaction.
	Stop()

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. The SUBSCRIBE packet is
	// sent now when connected and again after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends UNSUBSCRIBE when connected.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports whether a broker link is currently up.
	IsConnected() bool
}
