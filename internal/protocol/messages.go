// Package protocol defines the JSON envelopes exchanged over the monitor
// websocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MattCruikshank/templatebot/internal/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Client -> Server
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"

	// Server -> Client
	TypeHello      MessageType = "hello"
	TypeSubscribed MessageType = "subscribed"
	TypeEvent      MessageType = "event"
	TypeError      MessageType = "error"
)

// Envelope wraps all WebSocket messages with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribeMessage is sent by the client to follow a guild's runs.
type SubscribeMessage struct {
	GuildID string `json:"guild_id"`
}

// UnsubscribeMessage is sent by the client to stop following a guild.
type UnsubscribeMessage struct {
	GuildID string `json:"guild_id"`
}

// HelloMessage is sent by the server when a client connects.
type HelloMessage struct {
	Version   string   `json:"version"`
	Templates []string `json:"templates"`
}

// SubscribedMessage confirms a subscription.
type SubscribedMessage struct {
	GuildID string `json:"guild_id"`
}

// EventMessage carries one reconciliation progress event.
type EventMessage struct {
	Event models.Event `json:"event"`
}

// ErrorMessage is sent by the server when an error occurs.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidMsg = "invalid_message"
	ErrCodeInternal   = "internal_error"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(msgType MessageType, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Data: raw,
	}, nil
}

// Encode marshals an envelope of the given type.
func Encode(msgType MessageType, data any) ([]byte, error) {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s message has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}
