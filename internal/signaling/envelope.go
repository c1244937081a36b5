package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type messageType string

const (
	messageTypeJoin          messageType = "join"
	messageTypeExistingUsers messageType = "existing-users"
	messageTypeUserJoined    messageType = "user-joined"
	messageTypeOffer         messageType = "offer"
	messageTypeAnswer        messageType = "answer"
	messageTypeICE           messageType = "ice"
	messageTypeLeave         messageType = "leave"
	messageTypeUserLeft      messageType = "user-left"
	messageTypeError         messageType = "error"
	messageTypeReady         messageType = "ready"
)

// Roles assigned by the two-party ready handshake.
const (
	roleCaller = "caller"
	roleCallee = "callee"
)

// envelope is the single wire message exchanged over the signaling
// transport. The Payload of offer/answer/ice envelopes is opaque to the
// relay and forwarded exactly as received.
//
// From is always stamped by the relay on forwarded envelopes; a
// client-supplied value is discarded.
type envelope struct {
	Type   messageType `json:"type"`
	RoomID string      `json:"roomId,omitempty"`
	UserID string      `json:"userId,omitempty"`
	Target string      `json:"target,omitempty"`
	From   string      `json:"from,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// Users is a pointer so existing-users can serialize an empty room as
	// [] rather than omitting the field.
	Users *[]string `json:"users,omitempty"`

	Role string `json:"role,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func parseEnvelope(data []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, &wireError{Code: codeBadMessage, Message: "invalid envelope: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return envelope{}, &wireError{Code: codeBadMessage, Message: "unexpected trailing data"}
	}
	if err := env.validate(); err != nil {
		return envelope{}, err
	}
	return env, nil
}

// validate checks the fields a client-sent envelope must (and must not)
// carry. Relay payloads are deliberately not validated structurally.
func (env envelope) validate() error {
	if env.Users != nil || env.Role != "" || env.Code != "" || env.Message != "" {
		return &wireError{Code: codeBadMessage, Message: fmt.Sprintf("%q message has server-only fields", env.Type)}
	}

	switch env.Type {
	case messageTypeJoin:
		if env.RoomID == "" || env.UserID == "" {
			return &wireError{Code: codeValidation, Message: "join requires roomId and userId"}
		}
		if len(env.Payload) != 0 || env.Target != "" {
			return &wireError{Code: codeValidation, Message: "join message has unexpected fields"}
		}
	case messageTypeOffer, messageTypeAnswer, messageTypeICE:
		if len(env.Payload) == 0 {
			return &wireError{Code: codeValidation, Message: fmt.Sprintf("%s requires payload", env.Type)}
		}
	case messageTypeLeave:
		if len(env.Payload) != 0 || env.Target != "" {
			return &wireError{Code: codeValidation, Message: "leave message has unexpected fields"}
		}
	default:
		return &wireError{Code: codeBadMessage, Message: fmt.Sprintf("unsupported message type %q", env.Type)}
	}
	return nil
}

func (env envelope) encode() ([]byte, error) {
	return json.Marshal(env)
}

func existingUsersEnvelope(users []string) envelope {
	if users == nil {
		users = []string{}
	}
	return envelope{Type: messageTypeExistingUsers, Users: &users}
}

func errorEnvelope(code, message string) envelope {
	return envelope{Type: messageTypeError, Code: code, Message: message}
}
