// ABOUTME: JSON codec for the wire model, shared by the webhook and socket transports.
// ABOUTME: Uses json-iterator in stdlib-compatible mode for hot-path encoding.

package api

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes a wire value.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a wire value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeRequest parses a RequestData payload.
func DecodeRequest(data []byte) (*RequestData, error) {
	var req RequestData
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return &req, nil
}

// DecodeResponse parses a ResponseData payload.
func DecodeResponse(data []byte) (*ResponseData, error) {
	var resp ResponseData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// Equal reports whether two configurations are the same by value.
func (c *ClientConfiguration) Equal(other *ClientConfiguration) bool {
	if c == nil || other == nil {
		return c == other
	}
	a, err := json.Marshal(c)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
