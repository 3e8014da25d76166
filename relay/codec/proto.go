package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto implements Codec using Protocol Buffers. The envelope travels as a
// google.protobuf.Struct, so no generated code is needed on either side.
//
// Args must be JSON-like values (nil, bool, numbers, strings, []any,
// map[string]any); anything else fails with ErrEncodeFailure. Numbers
// decode as float64.
type Proto struct{}

// Encode serializes an envelope to Protocol Buffer bytes
func (c Proto) Encode(env *Envelope) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"id":     structpb.NewStringValue(env.ID),
		"source": structpb.NewStringValue(env.Source),
		"domain": structpb.NewStringValue(env.Domain),
		"event":  structpb.NewStringValue(env.Event),
		"time":   structpb.NewStringValue(env.Time.Format(time.RFC3339Nano)),
	}

	if len(env.Target) > 0 {
		var target any
		if err := json.Unmarshal(env.Target, &target); err != nil {
			return nil, errors.Join(ErrEncodeFailure, err)
		}
		v, err := structpb.NewValue(target)
		if err != nil {
			return nil, errors.Join(ErrEncodeFailure, err)
		}
		fields["target"] = v
	}

	if len(env.Args) > 0 {
		args, err := structpb.NewList(env.Args)
		if err != nil {
			return nil, errors.Join(ErrEncodeFailure, err)
		}
		fields["args"] = structpb.NewListValue(args)
	}

	if len(env.Metadata) > 0 {
		md := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(env.Metadata))}
		for k, v := range env.Metadata {
			md.Fields[k] = structpb.NewStringValue(v)
		}
		fields["metadata"] = structpb.NewStructValue(md)
	}

	data, err := proto.Marshal(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes Protocol Buffer bytes to an envelope
func (c Proto) Decode(data []byte) (*Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	f := s.GetFields()

	env := &Envelope{
		ID:     f["id"].GetStringValue(),
		Source: f["source"].GetStringValue(),
		Domain: f["domain"].GetStringValue(),
		Event:  f["event"].GetStringValue(),
	}
	if ts := f["time"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Join(ErrDecodeFailure, fmt.Errorf("time: %w", err))
		}
		env.Time = t
	}
	if v, ok := f["target"]; ok {
		target, err := json.Marshal(v.AsInterface())
		if err != nil {
			return nil, errors.Join(ErrDecodeFailure, err)
		}
		env.Target = target
	}
	if l := f["args"].GetListValue(); l != nil {
		env.Args = l.AsSlice()
	}
	if md := f["metadata"].GetStructValue(); md != nil {
		env.Metadata = make(map[string]string, len(md.GetFields()))
		for k, v := range md.GetFields() {
			env.Metadata[k] = v.GetStringValue()
		}
	}
	return env, nil
}

// ContentType returns the MIME type for Protocol Buffers
func (c Proto) ContentType() string {
	return "application/x-protobuf"
}

// Name returns the codec identifier
func (c Proto) Name() string {
	return "proto"
}

// Compile-time check
var _ Codec = Proto{}
