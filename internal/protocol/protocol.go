package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrMalformedFrame is returned when a frame cannot be decoded
var ErrMalformedFrame = errors.New("malformed frame")

// EventType identifies a server → client event
type EventType string

const (
	EventConnected    EventType = "connected"
	EventThinking     EventType = "thinking"
	EventThinkingDone EventType = "thinking_done"
	EventStream       EventType = "stream"
	EventReset        EventType = "reset"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// RequestChat is the only request type the server acts on
const RequestChat = "chat"

// Event is a server → client frame
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Request is a client → server frame
type Request struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// Connected acknowledges a new connection
func Connected(text string) Event { return Event{Type: EventConnected, Content: text} }

// Thinking carries the transient status text
func Thinking(text string) Event { return Event{Type: EventThinking, Content: text} }

// ThinkingDone marks that generation is imminent
func ThinkingDone() Event { return Event{Type: EventThinkingDone} }

// Stream carries one reply fragment
func Stream(text string) Event { return Event{Type: EventStream, Content: text} }

// Reset tells the client to abandon the partial reply
func Reset() Event { return Event{Type: EventReset} }

// Done carries the complete reply
func Done(text string) Event { return Event{Type: EventDone, Content: text} }

// Error terminates a request with a message
func Error(text string) Event { return Event{Type: EventError, Content: text} }

// WithRequest returns a copy of the event tagged with a request id
func (e Event) WithRequest(requestID string) Event {
	e.RequestID = requestID
	return e
}

// Terminal reports whether the event ends a request
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Chat builds a chat request
func Chat(content string) Request {
	return Request{Type: RequestChat, Content: content}
}

// Encode serializes a frame to a single JSON object
func Encode(v interface{}) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeEvent parses a server → client frame
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := sonic.ConfigStd.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return ev, nil
}

// DecodeRequest parses a client → server frame
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := sonic.ConfigStd.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return req, nil
}
