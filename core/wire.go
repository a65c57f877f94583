package core

import "encoding/json"

// Client message types. The channel delivers discrete, ordered, typed
// messages; transport framing is out of scope.
const (
	ClientTypeMessage = "message"
	ClientTypeCancel  = "cancel"
)

// ClientMessage is a message received from the client on a channel.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// EventType discriminates server-to-client events.
type EventType string

// Server event types.
const (
	EventInit        EventType = "init"
	EventModelSwitch EventType = "model_switch"
	EventStreamStart EventType = "stream_start"
	EventTextDelta   EventType = "text_delta"
	EventToolUse     EventType = "tool_use"
	EventToolResult  EventType = "tool_result"
	EventCancelled   EventType = "cancelled"
	EventTitleUpdate EventType = "title_update"
	EventStreamEnd   EventType = "stream_end"
	EventError       EventType = "error"
)

// ToolEventPayload is the tool descriptor embedded in tool_use / tool_result
// events.
type ToolEventPayload struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Status ToolCallStatus  `json:"status,omitempty"`
}

// ServerEvent is the single wire shape for all server-to-client events.
// Only the fields relevant to Type are populated; use the constructors to
// build well-formed events.
type ServerEvent struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Resumed        *bool             `json:"resumed,omitempty"`
	History        []*Turn           `json:"history,omitempty"`
	From           string            `json:"from,omitempty"`
	To             string            `json:"to,omitempty"`
	Model          string            `json:"model,omitempty"`
	Content        string            `json:"content,omitempty"`
	Tool           *ToolEventPayload `json:"tool,omitempty"`
	Title          string            `json:"title,omitempty"`
	TaskID         string            `json:"task_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Message        string            `json:"message,omitempty"`
}

// NewInitEvent announces the bound conversation to a freshly opened channel.
// History is only populated on resumption.
func NewInitEvent(conversationID string, resumed bool, history []*Turn) ServerEvent {
	return ServerEvent{Type: EventInit, ConversationID: conversationID, Resumed: &resumed, History: history}
}

// NewModelSwitchEvent signals a model change taking effect before the next
// stream starts.
func NewModelSwitchEvent(from, to string) ServerEvent {
	return ServerEvent{Type: EventModelSwitch, From: from, To: to}
}

// NewStreamStartEvent opens the streamed assistant reply for one turn.
func NewStreamStartEvent(model string) ServerEvent {
	return ServerEvent{Type: EventStreamStart, Model: model}
}

// NewTextDeltaEvent carries one text fragment of the assistant reply.
func NewTextDeltaEvent(content string) ServerEvent {
	return ServerEvent{Type: EventTextDelta, Content: content}
}

// NewToolUseEvent announces a running tool invocation.
func NewToolUseEvent(id, name string, input json.RawMessage) ServerEvent {
	return ServerEvent{Type: EventToolUse, Tool: &ToolEventPayload{ID: id, Name: name, Input: input, Status: ToolCallRunning}}
}

// NewToolResultEvent delivers the completed result of a tool invocation.
func NewToolResultEvent(id, name string, output json.RawMessage) ServerEvent {
	return ServerEvent{Type: EventToolResult, Tool: &ToolEventPayload{ID: id, Name: name, Output: output, Status: ToolCallCompleted}}
}

// NewCancelledEvent terminates a stream that was cancelled cooperatively.
func NewCancelledEvent() ServerEvent { return ServerEvent{Type: EventCancelled} }

// NewTitleUpdateEvent pushes a freshly generated conversation title.
func NewTitleUpdateEvent(conversationID, title string) ServerEvent {
	return ServerEvent{Type: EventTitleUpdate, ConversationID: conversationID, Title: title}
}

// NewStreamEndEvent terminates a successfully streamed turn. MessageID is
// the persisted assistant turn id; TaskID is the engine-side task handle
// when the engine provides one.
func NewStreamEndEvent(taskID, messageID string) ServerEvent {
	return ServerEvent{Type: EventStreamEnd, TaskID: taskID, MessageID: messageID}
}

// NewErrorEvent surfaces a failure to the client. When emitted during a
// stream it is the terminal event for that turn.
func NewErrorEvent(message string) ServerEvent {
	return ServerEvent{Type: EventError, Message: message}
}

// IsTerminal reports whether this event ends an in-flight turn from the
// client's perspective. Every submitted turn is guaranteed exactly one
// terminal event.
func (e ServerEvent) IsTerminal() bool {
	switch e.Type {
	case EventStreamEnd, EventCancelled, EventError:
		return true
	default:
		return false
	}
}
