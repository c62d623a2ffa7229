package router

import (
	"context"
	"fmt"

	"github.com/autopeer-io/ridergate/internal/protocol"
)

// HandlerFunc processes a raw payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// TypedHandlerFunc processes a decoded and validated report.
type TypedHandlerFunc[T any, P interface {
	*T
	protocol.Validator
}] func(ctx context.Context, msg P) error

// DecodeError marks a payload that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode failed: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// JSONAdapter decodes the payload into T before calling handler.
func JSONAdapter[T any, P interface {
	*T
	protocol.Validator
}](handler TypedHandlerFunc[T, P]) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg, err := protocol.Decode[T, P](payload)
		if err != nil {
			return &DecodeError{Err: err}
		}
		return handler(ctx, msg)
	}
}
