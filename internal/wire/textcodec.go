package wire

import (
	"encoding/json"
	"fmt"

	"gamecore/internal/core"
)

// marshalControlJSON and marshalStateJSON back EncodeText/DecodeText (see
// codec.go). They exist only for interop/testing against non-binary peers,
// so the representation favors readability over size.

func marshalControlJSON(msg ControlMessage) (typ string, body []byte, err error) {
	switch m := msg.(type) {
	case Ping:
		typ = "ping"
		body, err = json.Marshal(m)
	case Pong:
		typ = "pong"
		body, err = json.Marshal(m)
	case JoinRoom:
		typ = "join_room"
		body, err = json.Marshal(m)
	case LeaveRoom:
		typ = "leave_room"
		body, err = json.Marshal(m)
	case Input:
		typ = "input"
		body, err = json.Marshal(m)
	case AuthRequest:
		typ = "auth_request"
		body, err = json.Marshal(m)
	case AuthToken:
		typ = "auth_token"
		body, err = json.Marshal(m)
	case Offer:
		typ = "offer"
		body, err = json.Marshal(m)
	case Answer:
		typ = "answer"
		body, err = json.Marshal(m)
	case IceCandidate:
		typ = "ice_candidate"
		body, err = json.Marshal(m)
	default:
		err = fmt.Errorf("unknown control message type %T", msg)
	}
	return typ, body, err
}

func unmarshalControlJSON(typ string, body []byte) (ControlMessage, error) {
	switch typ {
	case "ping":
		var m Ping
		return m, unmarshalInto(body, &m)
	case "pong":
		var m Pong
		return m, unmarshalInto(body, &m)
	case "join_room":
		var m JoinRoom
		return m, unmarshalInto(body, &m)
	case "leave_room":
		var m LeaveRoom
		return m, unmarshalInto(body, &m)
	case "input":
		var m Input
		return m, unmarshalInto(body, &m)
	case "auth_request":
		var m AuthRequest
		return m, unmarshalInto(body, &m)
	case "auth_token":
		var m AuthToken
		return m, unmarshalInto(body, &m)
	case "offer":
		var m Offer
		return m, unmarshalInto(body, &m)
	case "answer":
		var m Answer
		return m, unmarshalInto(body, &m)
	case "ice_candidate":
		var m IceCandidate
		return m, unmarshalInto(body, &m)
	default:
		return nil, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown control message type %q", typ))
	}
}

func marshalStateJSON(msg StateMessage) (typ string, body []byte, err error) {
	switch m := msg.(type) {
	case Snapshot:
		typ = "snapshot"
		body, err = json.Marshal(m)
	case Delta:
		typ = "delta"
		body, err = json.Marshal(m)
	case Event:
		typ = "event"
		body, err = json.Marshal(m)
	default:
		err = fmt.Errorf("unknown state message type %T", msg)
	}
	return typ, body, err
}

func unmarshalStateJSON(typ string, body []byte) (StateMessage, error) {
	switch typ {
	case "snapshot":
		var m Snapshot
		return m, unmarshalInto(body, &m)
	case "delta":
		var m Delta
		return m, unmarshalInto(body, &m)
	case "event":
		var m Event
		return m, unmarshalInto(body, &m)
	default:
		return nil, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown state message type %q", typ))
	}
}

func unmarshalInto(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return core.Wrap(core.KindDecodingFailure, "unmarshal message body", err)
	}
	return nil
}
