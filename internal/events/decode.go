package events

import (
	"encoding/json"
	"fmt"
)

// Wire-level message types exchanged with the backend comm target.
const (
	// EnvelopeFromBackend tags messages carrying a listener event.
	EnvelopeFromBackend = "fromscala"
	// EnvelopeOpen is the handshake sent by the frontend right after the
	// channel opens.
	EnvelopeOpen = "openfromfrontend"
)

// Envelope is the outer message frame. Msg holds the inner event as a JSON
// string (the backend double-encodes).
type Envelope struct {
	MsgType string `json:"msgtype"`
	Msg     string `json:"msg,omitempty"`
}

// OpenHandshake returns the serialized handshake the frontend sends after
// opening the channel.
func OpenHandshake() []byte {
	b, _ := json.Marshal(Envelope{MsgType: EnvelopeOpen})
	return b
}

// Decode parses a raw channel message into a typed Event.
//
// Returns (nil, nil) for messages the correlator should ignore: envelopes
// with an unrecognized outer or inner msgtype. Returns an error only for
// JSON that cannot be parsed at all; callers log and drop, they never
// escalate.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.MsgType != EnvelopeFromBackend {
		return nil, nil
	}
	return DecodeInner([]byte(env.Msg))
}

// DecodeInner parses the inner listener-event JSON. Unknown msgtype values
// yield (nil, nil).
func DecodeInner(raw []byte) (Event, error) {
	var tag struct {
		MsgType string `json:"msgtype"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("decode event tag: %w", err)
	}

	unmarshal := func(ev Event) (Event, error) {
		if err := json.Unmarshal(raw, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.MsgType, err)
		}
		return ev, nil
	}

	switch tag.MsgType {
	case KindJobStart:
		return unmarshal(&JobStart{})
	case KindJobEnd:
		return unmarshal(&JobEnd{})
	case KindStageSubmitted:
		return unmarshal(&StageSubmitted{})
	case KindStageCompleted:
		return unmarshal(&StageCompleted{})
	case KindTaskStart:
		return unmarshal(&TaskStart{})
	case KindTaskEnd:
		return unmarshal(&TaskEnd{})
	case KindApplicationStart:
		return unmarshal(&ApplicationStart{})
	case KindApplicationEnd:
		return unmarshal(&ApplicationEnd{})
	case KindExecutorAdded:
		return unmarshal(&ExecutorAdded{})
	case KindExecutorRemoved:
		return unmarshal(&ExecutorRemoved{})
	default:
		return nil, nil
	}
}
