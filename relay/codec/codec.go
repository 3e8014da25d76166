// Package codec provides envelope serialization for relay transports.
//
// Supported formats:
//   - JSON (default, human-readable)
//   - MessagePack (binary, compact)
//   - Protocol Buffers (binary, google.protobuf.Struct)
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode envelope")
	ErrDecodeFailure = errors.New("failed to decode envelope")
	ErrUnknownCodec  = errors.New("unknown codec")
)

// Envelope is one domain firing in transit between processes
type Envelope struct {
	// ID uniquely identifies the firing
	ID string
	// Source is the id of the node that published it
	Source string
	// Domain is the type tag of the domain the firing was dispatched on
	Domain string
	// Event is the event name
	Event string
	// Target is the JSON document describing the firing target
	Target json.RawMessage
	// Args are the firing arguments. After a round trip they hold the
	// codec's generic representation (numbers, strings, maps, slices).
	Args []any
	// Metadata carries string key-value pairs
	Metadata map[string]string
	// Time is when the firing was forwarded
	Time time.Time
}

// Codec handles envelope serialization. Implementations must be safe for
// concurrent use.
type Codec interface {
	// Encode serializes an envelope. Returns ErrEncodeFailure on failure.
	Encode(env *Envelope) ([]byte, error)
	// Decode deserializes an envelope. Returns ErrDecodeFailure on failure.
	Decode(data []byte) (*Envelope, error)
	// ContentType returns the MIME type for this codec
	ContentType() string
	// Name returns a short identifier ("json", "msgpack", "proto")
	Name() string
}

// Default returns the default codec (JSON)
func Default() Codec {
	return JSON{}
}

// ByName returns the codec registered under name
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return MsgPack{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}
