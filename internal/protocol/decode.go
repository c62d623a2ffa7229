package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Decode parses a UTF-8 JSON payload into a fresh T and validates it.
func Decode[T any, P interface {
	*T
	Validator
}](payload []byte) (P, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidPayload)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidPayload)
	}

	var msg P = new(T)
	if err := json.Unmarshal(trimmed, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
