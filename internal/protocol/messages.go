package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/runcoach/internal/plan"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage      MessageType = "client_message"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

const (
	ActionReset = "reset"
	ActionPing  = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is one user utterance. ClientID may be omitted when the
// connection was opened with a client id.
type ClientMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id,omitempty"`
	Text     string      `json:"text"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id,omitempty"`
	Action   string      `json:"action"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type        MessageType    `json:"type"`
	ClientID    string         `json:"client_id"`
	TurnID      string         `json:"turn_id"`
	Reply       string         `json:"reply"`
	PlanUpdated bool           `json:"plan_updated"`
	Version     int            `json:"version,omitempty"`
	Plan        *plan.Document `json:"plan,omitempty"`
}

type SystemEvent struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_message: text is required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionReset, ActionPing:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, env.Type)
	}
}
