// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format: a type discriminator plus an
// optional "data" object carrying the payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindMatch    = "find-match"
	TypeSetInterests = "set-interests"
	TypeSetProfile   = "set-profile"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeEnd          = "end"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeReportUser   = "report-user"
)

// Server -> Client message types. Message, typing and the WebRTC signaling
// types reuse the client constants since they are relayed under the same name.
const (
	TypeConnected           = "connected"
	TypeMatch               = "match"
	TypePartnerDisconnected = "partner-disconnected"
	TypeError               = "error"
)

// Close codes carrying a machine-readable refusal reason, sent when a
// connection is refused at admission or a connected user becomes banned.
const (
	CloseIPBanned       uint16 = 4000
	CloseCountryBlocked uint16 = 4001
	CloseMaintenance    uint16 = 4003
)

// MaxMessageChars is the maximum character count for a chat message.
const MaxMessageChars = 5000

// MaxInterests is the maximum number of interest tags per connection.
const MaxInterests = 5

// MaxNicknameChars is the maximum character count for a profile nickname.
const MaxNicknameChars = 32

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw "data" payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It extracts the
// type discriminator and captures the raw data payload so that it can be
// decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Data = partial.Data
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payload structs
// ---------------------------------------------------------------------------

// SetInterestsData carries the interest tags a user wants to match on.
type SetInterestsData struct {
	Interests []string `json:"interests"`
}

// Profile is the optional public profile a user can attach to their
// connection. It is shown to the partner in the match event.
type Profile struct {
	Nickname  string   `json:"nickname"`
	Gender    string   `json:"gender,omitempty"`
	Age       int      `json:"age,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// MessageData is a chat text message.
type MessageData struct {
	Content string `json:"content"`
}

// TypingData indicates whether the sender is currently typing.
type TypingData struct {
	IsTyping bool `json:"isTyping"`
}

// EndData ends the current chat session. Requeue controls whether the
// sender goes back to the waiting pool or returns to idle.
type EndData struct {
	Requeue bool `json:"requeue,omitempty"`
}

// ReportUserData reports the chat partner for abusive behavior.
type ReportUserData struct {
	ReportedUserID string `json:"reportedUserId"`
	Reason         string `json:"reason"`
}

// SignalData wraps a WebRTC signaling payload (offer, answer or ICE
// candidate). The payload is never inspected; it is relayed to the partner
// byte-for-byte.
type SignalData struct {
	Raw json.RawMessage
}

// ---------------------------------------------------------------------------
// Server -> Client payload structs
// ---------------------------------------------------------------------------

// ConnectedData is sent once after a successful upgrade and carries the ID
// the server assigned to the connection.
type ConnectedData struct {
	UserID string `json:"userId"`
}

// ErrorData is a structured error sent back to the client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MatchData notifies a client that a partner has been found.
type MatchData struct {
	SessionID      string   `json:"sessionId"`
	Initiator      bool     `json:"initiator"`
	PartnerProfile *Profile `json:"partnerProfile,omitempty"`
	IsBot          bool     `json:"isBot,omitempty"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client payload.
// It returns the message type string, the decoded payload, and any error
// encountered during parsing or validation. Signaling payloads (offer,
// answer, ice-candidate) are returned as SignalData without inspection.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypeFindMatch:
		return env.Type, nil, nil

	case TypeSetInterests:
		var m SetInterestsData
		if err := decodeData(env, &m); err != nil {
			return env.Type, nil, err
		}
		if len(m.Interests) > MaxInterests {
			return env.Type, nil, fmt.Errorf("protocol: too many interests (%d > %d)", len(m.Interests), MaxInterests)
		}
		return env.Type, m, nil

	case TypeSetProfile:
		var m Profile
		if err := decodeData(env, &m); err != nil {
			return env.Type, nil, err
		}
		if err := ValidateProfile(&m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil

	case TypeMessage:
		var m MessageData
		if err := decodeData(env, &m); err != nil {
			return env.Type, nil, err
		}
		if err := ValidateContent(m.Content); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil

	case TypeTyping:
		var m TypingData
		if err := decodeData(env, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil

	case TypeEnd:
		var m EndData
		if len(env.Data) > 0 {
			if err := decodeData(env, &m); err != nil {
				return env.Type, nil, err
			}
		}
		return env.Type, m, nil

	case TypeReportUser:
		var m ReportUserData
		if err := decodeData(env, &m); err != nil {
			return env.Type, nil, err
		}
		if m.ReportedUserID == "" {
			return env.Type, nil, fmt.Errorf("protocol: report-user missing reportedUserId")
		}
		return env.Type, m, nil

	case TypeOffer, TypeAnswer, TypeICECandidate:
		// Relayed opaquely; keep the raw data payload untouched.
		return env.Type, SignalData{Raw: env.Data}, nil

	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
}

// decodeData unmarshals the envelope's data payload into dst.
func decodeData(env Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("protocol: %q message has no data payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return nil
}

// ValidateContent checks that a chat message meets content requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("protocol: message content is empty")
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("protocol: message content contains invalid UTF-8")
	}
	if utf8.RuneCountInString(content) > MaxMessageChars {
		return fmt.Errorf("protocol: message exceeds %d character limit", MaxMessageChars)
	}
	return nil
}

// ValidateProfile checks nickname and interest constraints on a profile.
func ValidateProfile(p *Profile) error {
	if p.Nickname == "" {
		return fmt.Errorf("protocol: profile nickname is empty")
	}
	if utf8.RuneCountInString(p.Nickname) > MaxNicknameChars {
		return fmt.Errorf("protocol: profile nickname exceeds %d character limit", MaxNicknameChars)
	}
	if len(p.Interests) > MaxInterests {
		return fmt.Errorf("protocol: too many profile interests (%d > %d)", len(p.Interests), MaxInterests)
	}
	return nil
}

// NewServerMessage creates a JSON-encoded envelope for a server message.
// The payload is marshalled into the "data" field; a nil payload produces an
// envelope with only the type discriminator (e.g. partner-disconnected).
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	env := struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{Type: msgType, Data: payload}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewRelayMessage rebuilds an envelope of the given type around an opaque
// data payload, preserving the payload bytes exactly as the sender sent them.
func NewRelayMessage(msgType string, raw json.RawMessage) ([]byte, error) {
	env := struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}{Type: msgType, Data: raw}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal relay message: %w", err)
	}
	return out, nil
}
