// Package protocol defines the control-channel message model and the
// length-delimited framing used to carry messages over a byte stream.
//
// A control message is a JSON object tagged with a "type" field naming its
// kind in snake_case. The closed set of kinds is defined below; payload
// bytes carrying an unknown tag decode into a Message of KindUnrecognized so
// callers can log and skip them without tearing down the connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the discriminant tag carried in every control message.
type Kind string

// The closed set of control message kinds.
const (
	KindHandshake    Kind = "handshake"
	KindHandshakeAck Kind = "handshake_ack"
	KindError        Kind = "error"
	KindJoinChannel  Kind = "join_channel"
	KindLeaveChannel Kind = "leave_channel"
	KindUserState    Kind = "user_state"

	// KindUnrecognized is never sent; it marks a decoded message whose tag
	// named no known kind. The original payload is preserved in Message.Raw.
	KindUnrecognized Kind = "unrecognized"
)

// ErrMissingKind is returned by DecodeMessage when the payload carries no
// "type" tag at all.
var ErrMissingKind = errors.New("protocol: message has no type tag")

// Handshake is the first message a client sends on a fresh control
// connection. It announces the client's software version.
type Handshake struct {
	ClientVersion string `json:"client_version"`
}

// HandshakeAck is the server's reply to a Handshake. It carries the opaque
// identifier the server assigned to the control connection and the server's
// software version.
type HandshakeAck struct {
	ConnectionID  string `json:"connection_id"`
	ServerVersion string `json:"server_version"`
}

// ErrorInfo reports a failed operation to the peer.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinChannel asks the server to subscribe the session to a channel.
type JoinChannel struct {
	ChannelID string `json:"channel_id"`
}

// LeaveChannel asks the server to drop the session's channel subscription.
type LeaveChannel struct {
	ChannelID string `json:"channel_id"`
}

// UserState announces a change of the client's self-controlled flags.
type UserState struct {
	SelfMuted    bool `json:"self_muted"`
	SelfDeafened bool `json:"self_deafened"`
}

// Message is the decoded form of one control-channel frame payload. Exactly
// one payload pointer is non-nil, matching Kind; for KindUnrecognized all
// payload pointers are nil and Raw holds the original bytes.
type Message struct {
	Kind Kind

	Handshake    *Handshake
	HandshakeAck *HandshakeAck
	Error        *ErrorInfo
	JoinChannel  *JoinChannel
	LeaveChannel *LeaveChannel
	UserState    *UserState

	// Raw preserves the payload of an unrecognized message.
	Raw json.RawMessage
	// RawKind preserves the tag of an unrecognized message.
	RawKind string
}

// NewHandshake builds a handshake message for the given client version.
func NewHandshake(clientVersion string) Message {
	return Message{Kind: KindHandshake, Handshake: &Handshake{ClientVersion: clientVersion}}
}

// NewHandshakeAck builds a handshake acknowledgement.
func NewHandshakeAck(connectionID, serverVersion string) Message {
	return Message{Kind: KindHandshakeAck, HandshakeAck: &HandshakeAck{
		ConnectionID:  connectionID,
		ServerVersion: serverVersion,
	}}
}

// NewError builds an error message with the given code and description.
func NewError(code, message string) Message {
	return Message{Kind: KindError, Error: &ErrorInfo{Code: code, Message: message}}
}

// NewJoinChannel builds a channel join request.
func NewJoinChannel(channelID string) Message {
	return Message{Kind: KindJoinChannel, JoinChannel: &JoinChannel{ChannelID: channelID}}
}

// NewLeaveChannel builds a channel leave request.
func NewLeaveChannel(channelID string) Message {
	return Message{Kind: KindLeaveChannel, LeaveChannel: &LeaveChannel{ChannelID: channelID}}
}

// kindProbe extracts only the discriminant tag during decoding.
type kindProbe struct {
	Type *Kind `json:"type"`
}

// wire envelope types; each inlines the tag next to its payload fields.
type wireHandshake struct {
	Type Kind `json:"type"`
	Handshake
}

type wireHandshakeAck struct {
	Type Kind `json:"type"`
	HandshakeAck
}

type wireError struct {
	Type Kind `json:"type"`
	ErrorInfo
}

type wireJoinChannel struct {
	Type Kind `json:"type"`
	JoinChannel
}

type wireLeaveChannel struct {
	Type Kind `json:"type"`
	LeaveChannel
}

type wireUserState struct {
	Type Kind `json:"type"`
	UserState
}

// EncodeMessage serializes a message into its JSON payload form (without the
// frame length header; see Framer.Encode for the full frame).
//
// Parameters:
//   - m: The message to serialize; its Kind must be one of the known kinds
//
// Returns:
//   - The JSON payload bytes, or an error for an unknown kind or a Kind
//     whose payload pointer is nil
func EncodeMessage(m Message) ([]byte, error) {
	switch m.Kind {
	case KindHandshake:
		if m.Handshake == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireHandshake{Type: m.Kind, Handshake: *m.Handshake})
	case KindHandshakeAck:
		if m.HandshakeAck == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireHandshakeAck{Type: m.Kind, HandshakeAck: *m.HandshakeAck})
	case KindError:
		if m.Error == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireError{Type: m.Kind, ErrorInfo: *m.Error})
	case KindJoinChannel:
		if m.JoinChannel == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireJoinChannel{Type: m.Kind, JoinChannel: *m.JoinChannel})
	case KindLeaveChannel:
		if m.LeaveChannel == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireLeaveChannel{Type: m.Kind, LeaveChannel: *m.LeaveChannel})
	case KindUserState:
		if m.UserState == nil {
			return nil, fmt.Errorf("protocol: %s message has no payload", m.Kind)
		}
		return json.Marshal(wireUserState{Type: m.Kind, UserState: *m.UserState})
	default:
		return nil, fmt.Errorf("protocol: cannot encode message kind %q", m.Kind)
	}
}

// DecodeMessage parses one frame payload into a Message. A payload with a
// well-formed envelope but an unknown tag decodes successfully into a
// Message of KindUnrecognized; malformed JSON or a missing tag is an error.
//
// Parameters:
//   - payload: The JSON payload bytes of one frame
//
// Returns:
//   - The decoded Message
//   - An error if the payload is not a JSON object or has no "type" tag
func DecodeMessage(payload []byte) (Message, error) {
	var probe kindProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Message{}, fmt.Errorf("protocol: malformed message payload: %w", err)
	}
	if probe.Type == nil {
		return Message{}, ErrMissingKind
	}

	switch *probe.Type {
	case KindHandshake:
		var w wireHandshake
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindHandshake, Handshake: &w.Handshake}, nil
	case KindHandshakeAck:
		var w wireHandshakeAck
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindHandshakeAck, HandshakeAck: &w.HandshakeAck}, nil
	case KindError:
		var w wireError
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindError, Error: &w.ErrorInfo}, nil
	case KindJoinChannel:
		var w wireJoinChannel
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindJoinChannel, JoinChannel: &w.JoinChannel}, nil
	case KindLeaveChannel:
		var w wireLeaveChannel
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindLeaveChannel, LeaveChannel: &w.LeaveChannel}, nil
	case KindUserState:
		var w wireUserState
		if err := json.Unmarshal(payload, &w); err != nil {
			return Message{}, fmt.Errorf("protocol: malformed %s payload: %w", *probe.Type, err)
		}
		return Message{Kind: KindUserState, UserState: &w.UserState}, nil
	default:
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return Message{Kind: KindUnrecognized, Raw: raw, RawKind: string(*probe.Type)}, nil
	}
}
