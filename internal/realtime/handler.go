package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/carscope/carscope/internal/protocol"
)

// MessageHandler interprets inbound client frames and mutates the
// registry's subscriptions. A malformed frame earns one error envelope
// on the same connection; the connection is never closed here.
type MessageHandler struct {
	reg      *Registry
	handlers map[protocol.MessageType]func(clientID string, in protocol.Inbound)
}

// NewMessageHandler creates a handler bound to reg.
func NewMessageHandler(reg *Registry) *MessageHandler {
	h := &MessageHandler{reg: reg}
	h.handlers = map[protocol.MessageType]func(string, protocol.Inbound){
		protocol.TypePing:                h.handlePing,
		protocol.TypePong:                h.handlePong,
		protocol.TypeSearchStart:         h.handleSearchStart,
		protocol.TypeSearchProgress:      h.logOnly("search progress"),
		protocol.TypeSearchResults:       h.logOnly("search results"),
		protocol.TypeSearchError:         h.logOnly("search error"),
		protocol.TypeConversationMessage: h.handleConversationMessage,
		protocol.TypeTaskStart:           h.handleTaskStart,
		protocol.TypeTaskProgress:        h.logOnly("task progress"),
		protocol.TypeTaskComplete:        h.handleTaskComplete,
		protocol.TypeTaskError:           h.handleTaskError,
	}
	return h
}

// HandleFrame processes one inbound text frame from clientID.
func (h *MessageHandler) HandleFrame(clientID string, frame []byte) {
	in, err := protocol.DecodeInbound(frame)
	if err != nil {
		h.sendError(clientID, "invalid JSON frame")
		return
	}

	if in.Type == "" {
		h.sendError(clientID, "message type is required")
		return
	}
	if !in.Type.Valid() {
		h.sendError(clientID, fmt.Sprintf("invalid message type: %s", in.Type))
		return
	}

	handler, ok := h.handlers[in.Type]
	if !ok {
		h.sendError(clientID, fmt.Sprintf("unsupported message type: %s", in.Type))
		return
	}
	handler(clientID, in)
}

func (h *MessageHandler) handlePing(clientID string, _ protocol.Inbound) {
	pong := protocol.New(protocol.TypePong).
		WithText("pong").
		WithClientID(clientID)
	h.reg.Send(clientID, pong)
}

func (h *MessageHandler) handlePong(clientID string, _ protocol.Inbound) {
	h.reg.UpdateLastPing(clientID)
}

// handleSearchStart subscribes the client to a task's events and
// confirms. Clients send this after starting a task over the control
// API to attach to its stream.
func (h *MessageHandler) handleSearchStart(clientID string, in protocol.Inbound) {
	taskID := taskIDFrom(in)
	if taskID == "" {
		h.sendError(clientID, "search task_id is required")
		return
	}

	h.reg.SubscribeToTask(clientID, taskID)

	confirm := protocol.New(protocol.TypeSearchStart).
		WithText(fmt.Sprintf("subscribed to search task %s", taskID)).
		WithClientID(clientID).
		WithData(protocol.TaskRef{TaskID: taskID})
	h.reg.Send(clientID, confirm)
}

func (h *MessageHandler) handleTaskStart(clientID string, in protocol.Inbound) {
	if taskID := taskIDFrom(in); taskID != "" {
		h.reg.SubscribeToTask(clientID, taskID)
		slog.Debug("client attached to task",
			"client_id", clientID,
			"task_id", taskID)
	}
}

func (h *MessageHandler) handleConversationMessage(clientID string, in protocol.Inbound) {
	var ref protocol.SessionRef
	if in.Data != nil {
		_ = json.Unmarshal(in.Data, &ref)
	}
	if ref.SessionID != "" {
		h.reg.SubscribeToSession(clientID, ref.SessionID)
	}
	slog.Debug("conversation message received",
		"client_id", clientID,
		"session_id", ref.SessionID)
}

// Terminal task frames from a client detach it from the task.
func (h *MessageHandler) handleTaskComplete(clientID string, in protocol.Inbound) {
	if taskID := taskIDFrom(in); taskID != "" {
		h.reg.UnsubscribeFromTask(clientID, taskID)
	}
}

func (h *MessageHandler) handleTaskError(clientID string, in protocol.Inbound) {
	if taskID := taskIDFrom(in); taskID != "" {
		h.reg.UnsubscribeFromTask(clientID, taskID)
	}
}

func (h *MessageHandler) logOnly(what string) func(string, protocol.Inbound) {
	return func(clientID string, _ protocol.Inbound) {
		slog.Debug("inbound frame logged",
			"client_id", clientID,
			"kind", what)
	}
}

func (h *MessageHandler) sendError(clientID, errMessage string) {
	msg := protocol.New(protocol.TypeError).
		WithText(errMessage).
		WithData(protocol.ErrorPayload{
			ErrorCode:    "MESSAGE_HANDLING_ERROR",
			ErrorMessage: errMessage,
			Timestamp:    time.Now(),
		})
	h.reg.Send(clientID, msg)
}

func taskIDFrom(in protocol.Inbound) string {
	if in.Data == nil {
		return ""
	}
	var ref protocol.TaskRef
	if err := json.Unmarshal(in.Data, &ref); err != nil {
		return ""
	}
	return ref.TaskID
}
