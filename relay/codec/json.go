package codec

import (
	"encoding/json"
	"errors"
	"time"
)

// JSON implements Codec using JSON serialization.
// This is the default codec, providing human-readable output.
type JSON struct{}

// jsonEnvelope is the JSON wire format
type jsonEnvelope struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Domain   string            `json:"domain"`
	Event    string            `json:"event"`
	Target   json.RawMessage   `json:"target,omitempty"`
	Args     []any             `json:"args,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Time     time.Time         `json:"time"`
}

// Encode serializes an envelope to JSON bytes
func (c JSON) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(jsonEnvelope(*env))
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes JSON bytes to an envelope
func (c JSON) Decode(data []byte) (*Envelope, error) {
	var je jsonEnvelope
	if err := json.Unmarshal(data, &je); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	env := Envelope(je)
	return &env, nil
}

// ContentType returns the MIME type for JSON
func (c JSON) ContentType() string {
	return "application/json"
}

// Name returns the codec identifier
func (c JSON) Name() string {
	return "json"
}

// Compile-time check
var _ Codec = JSON{}
