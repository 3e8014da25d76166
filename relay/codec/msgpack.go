package codec

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack implements Codec using MessagePack serialization.
// The target document is carried as raw JSON bytes.
type MsgPack struct{}

// msgpackEnvelope is the MessagePack wire format
type msgpackEnvelope struct {
	ID       string            `msgpack:"id"`
	Source   string            `msgpack:"source"`
	Domain   string            `msgpack:"domain"`
	Event    string            `msgpack:"event"`
	Target   []byte            `msgpack:"target,omitempty"`
	Args     []any             `msgpack:"args,omitempty"`
	Metadata map[string]string `msgpack:"metadata,omitempty"`
	Time     time.Time         `msgpack:"time"`
}

// Encode serializes an envelope to MessagePack bytes
func (c MsgPack) Encode(env *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(msgpackEnvelope{
		ID:       env.ID,
		Source:   env.Source,
		Domain:   env.Domain,
		Event:    env.Event,
		Target:   env.Target,
		Args:     env.Args,
		Metadata: env.Metadata,
		Time:     env.Time,
	})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes MessagePack bytes to an envelope
func (c MsgPack) Decode(data []byte) (*Envelope, error) {
	var me msgpackEnvelope
	if err := msgpack.Unmarshal(data, &me); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	return &Envelope{
		ID:       me.ID,
		Source:   me.Source,
		Domain:   me.Domain,
		Event:    me.Event,
		Target:   me.Target,
		Args:     me.Args,
		Metadata: me.Metadata,
		Time:     me.Time,
	}, nil
}

// ContentType returns the MIME type for MessagePack
func (c MsgPack) ContentType() string {
	return "application/msgpack"
}

// Name returns the codec identifier
func (c MsgPack) Name() string {
	return "msgpack"
}

// Compile-time check
var _ Codec = MsgPack{}
