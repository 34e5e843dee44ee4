package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the typed-message enum. The zero value on disk
// (field absent) must parse as MessagePlain for backward compatibility.
type MessageType string

const (
	MessagePlain            MessageType = "plain"
	MessageIdle             MessageType = "idle"
	MessageTaskAssignment    MessageType = "task_assignment"
	MessageShutdownRequest   MessageType = "shutdown_request"
	MessageShutdownApproved  MessageType = "shutdown_approved"
)

// BroadcastTarget is the literal "to" value for broadcast messages.
const BroadcastTarget = "broadcast"

// Message is one inbox entry.
type Message struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Body       string      `json:"body"`
	Type       MessageType `json:"type,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Read       bool        `json:"read"`
	Recipients []string    `json:"recipients,omitempty"`
}

// UnmarshalJSON defaults Type to MessagePlain when absent, for backward compatibility.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct{ *alias }{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.Type == "" {
		m.Type = MessagePlain
	}
	return nil
}

func (m *Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("message must have a recipient")
	}
	switch m.Type {
	case MessagePlain, MessageIdle, MessageTaskAssignment, MessageShutdownRequest, MessageShutdownApproved:
	default:
		return fmt.Errorf("invalid message type %q", m.Type)
	}
	return nil
}

// Inbox is the ordered, append-only sequence of messages for one agent.
type Inbox struct {
	AgentID  string    `json:"agentId"`
	Messages []Message `json:"messages"`
}

func (ib *Inbox) Validate() error {
	for i := range ib.Messages {
		if err := ib.Messages[i].Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
