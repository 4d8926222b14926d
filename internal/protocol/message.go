// Package protocol defines the wire envelope and the closed set of
// message kinds exchanged with WebSocket clients. One JSON object per
// text frame; the data field carries one typed payload per kind.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/carscope/carscope/internal/search"
)

// MessageType identifies the kind of a wire message.
type MessageType string

const (
	// Connection management
	TypeConnect    MessageType = "connect"
	TypeDisconnect MessageType = "disconnect"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"

	// Search
	TypeSearchStart    MessageType = "search_start"
	TypeSearchProgress MessageType = "search_progress"
	TypeSearchResults  MessageType = "search_results"
	TypeSearchError    MessageType = "search_error"
	TypeSearchComplete MessageType = "search_complete"

	// Conversation
	TypeConversationMessage  MessageType = "conversation_message"
	TypeConversationResponse MessageType = "conversation_response"

	// Task management
	TypeTaskStart    MessageType = "task_start"
	TypeTaskProgress MessageType = "task_progress"
	TypeTaskComplete MessageType = "task_complete"
	TypeTaskError    MessageType = "task_error"

	// System
	TypeSystemNotification MessageType = "system_notification"
	TypeError              MessageType = "error"
)

var knownTypes = map[MessageType]bool{
	TypeConnect: true, TypeDisconnect: true, TypePing: true, TypePong: true,
	TypeSearchStart: true, TypeSearchProgress: true, TypeSearchResults: true,
	TypeSearchError: true, TypeSearchComplete: true,
	TypeConversationMessage: true, TypeConversationResponse: true,
	TypeTaskStart: true, TypeTaskProgress: true, TypeTaskComplete: true,
	TypeTaskError: true,
	TypeSystemNotification: true, TypeError: true,
}

// Valid reports whether t is a member of the closed kind set.
func (t MessageType) Valid() bool {
	return knownTypes[t]
}

// Message is the wire envelope. Immutable once constructed.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
}

// New builds an envelope stamped with the current time.
func New(t MessageType) Message {
	return Message{Type: t, Timestamp: time.Now()}
}

// WithData returns a copy carrying the given payload.
func (m Message) WithData(data any) Message {
	m.Data = data
	return m
}

// WithText returns a copy carrying the human-readable message.
func (m Message) WithText(text string) Message {
	m.Message = text
	return m
}

// WithClientID returns a copy addressed to the given client.
func (m Message) WithClientID(clientID string) Message {
	m.ClientID = clientID
	return m
}

// Encode serializes the envelope to a JSON text frame.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	return b, nil
}

// Inbound is a decoded client frame. Data stays raw until the handler
// knows which payload shape to expect.
type Inbound struct {
	Type     MessageType     `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Message  string          `json:"message,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
}

// DecodeInbound parses a client text frame.
func DecodeInbound(frame []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("invalid JSON frame: %w", err)
	}
	return in, nil
}

// TaskRef is the payload fragment carried by task-scoped inbound frames.
type TaskRef struct {
	TaskID string `json:"task_id"`
}

// SessionRef is the payload fragment carried by session-scoped inbound frames.
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// SearchProgressPayload reports pipeline progress for one task.
type SearchProgressPayload struct {
	TaskID             string  `json:"task_id"`
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentStep        string  `json:"current_step"`
	Message            string  `json:"message"`
	TotalSources       int     `json:"total_sources,omitempty"`
	CompletedSources   int     `json:"completed_sources,omitempty"`
	CarsFound          int     `json:"cars_found,omitempty"`
}

// SearchResultsPayload carries the final listing set for one task.
type SearchResultsPayload struct {
	TaskID         string           `json:"task_id"`
	Cars           []search.Listing `json:"cars"`
	TotalCount     int              `json:"total_count"`
	SearchDuration float64          `json:"search_duration"`
	Message        string           `json:"message"`
}

// TaskStatusPayload reports a task lifecycle transition.
type TaskStatusPayload struct {
	TaskID   string         `json:"task_id"`
	Status   string         `json:"status"`
	Progress *float64       `json:"progress,omitempty"`
	Message  string         `json:"message"`
	Error    string         `json:"error,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
}

// SystemNotificationPayload is a broadcast operator notification.
type SystemNotificationPayload struct {
	NotificationType string         `json:"notification_type"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Level            string         `json:"level"`
	Timestamp        time.Time      `json:"timestamp"`
	Data             map[string]any `json:"data,omitempty"`
}

// ConversationPayload carries one conversation turn for a session.
type ConversationPayload struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	IsUser    bool           `json:"is_user"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorPayload describes a protocol-level error returned to a client.
type ErrorPayload struct {
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionInfo is per-client metadata kept by the registry and
// exposed on the connections endpoint.
type ConnectionInfo struct {
	ClientID    string     `json:"client_id"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastPing    *time.Time `json:"last_ping,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	IPAddress   string     `json:"ip_address,omitempty"`
	IsActive    bool       `json:"is_active"`
}
