package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame reports a frame that could not be decoded. The caller
// logs and skips the frame; a single bad frame never tears down the
// transport.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode marshals an outbound frame to its wire form.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses an inbound frame. Known types come back as their typed
// struct; unknown types come back as UnknownFrame with no error so new
// server-side frames pass through harmlessly.
func Decode(data []byte) (any, error) {
	var rf rawFrame
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	rf.Raw = data

	switch rf.Type {
	case TypeAuthOK:
		var f AuthOKFrame
		return decodeInto(rf, &f)
	case TypeAuthRejected:
		var f AuthRejectedFrame
		return decodeInto(rf, &f)
	case TypeDelta:
		var f DeltaFrame
		return decodeInto(rf, &f)
	case TypeEnd:
		var f EndFrame
		return decodeInto(rf, &f)
	case TypePing:
		var f PingFrame
		return decodeInto(rf, &f)
	case TypePong:
		var f PongFrame
		return decodeInto(rf, &f)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return UnknownFrame{Type: rf.Type, Raw: rf.Raw}, nil
	}
}

func decodeInto[T any](rf rawFrame, f *T) (any, error) {
	if err := json.Unmarshal(rf.Raw, f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, rf.Type, err)
	}
	return *f, nil
}
