package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/agentchat/internal/protocol"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrorFallbackText is shown for an error event without content
const ErrorFallbackText = "Something went wrong. Please try again."

// Message is one entry of the conversation log
type Message struct {
	ID            string
	Role          Role
	FullText      string
	DisplayedText string
	IsStreaming   bool
	Aborted       bool
	CreatedAt     time.Time
	RequestID     string
}

// Assembler reduces inbound events onto the conversation log.
// It is safe for concurrent use.
type Assembler struct {
	mu       sync.Mutex
	messages []Message
	open     map[string]int
	status   string
	waiting  bool
	onChange func()
	now      func() time.Time
}

// NewAssembler creates an empty conversation
func NewAssembler() *Assembler {
	return &Assembler{
		open: make(map[string]int),
		now:  time.Now,
	}
}

// OnChange registers fn to run after every mutation. fn runs without the
// assembler lock held and may read from it.
func (a *Assembler) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// AddAssistant appends a sealed assistant message, such as a welcome text
func (a *Assembler) AddAssistant(text string) Message {
	a.mu.Lock()
	msg := a.appendLocked(RoleAssistant, text, "")
	a.mu.Unlock()
	a.changed()
	return msg
}

// AddUser appends the user's message and marks the conversation as waiting
// for a reply.
func (a *Assembler) AddUser(text string) Message {
	a.mu.Lock()
	msg := a.appendLocked(RoleUser, text, "")
	a.waiting = true
	a.mu.Unlock()
	a.changed()
	return msg
}

// Apply folds one server event into the log
func (a *Assembler) Apply(ev protocol.Event) {
	a.mu.Lock()
	switch ev.Type {
	case protocol.EventThinking:
		a.status = ev.Content

	case protocol.EventStream:
		a.status = ""
		if idx, ok := a.open[ev.RequestID]; ok {
			msg := &a.messages[idx]
			msg.FullText += ev.Content
			msg.DisplayedText += ev.Content
			break
		}
		a.appendLocked(RoleAssistant, ev.Content, ev.RequestID)
		idx := len(a.messages) - 1
		a.messages[idx].IsStreaming = true
		a.open[ev.RequestID] = idx

	case protocol.EventReset:
		if idx, ok := a.open[ev.RequestID]; ok {
			a.sealLocked(idx)
			a.messages[idx].Aborted = true
			delete(a.open, ev.RequestID)
		}

	case protocol.EventDone:
		if idx, ok := a.open[ev.RequestID]; ok {
			msg := &a.messages[idx]
			msg.FullText = ev.Content
			a.sealLocked(idx)
			delete(a.open, ev.RequestID)
		}
		a.status = ""
		a.waiting = false

	case protocol.EventError:
		if idx, ok := a.open[ev.RequestID]; ok {
			a.sealLocked(idx)
			delete(a.open, ev.RequestID)
		}
		text := ev.Content
		if text == "" {
			text = ErrorFallbackText
		}
		a.appendLocked(RoleAssistant, text, ev.RequestID)
		a.status = ""
		a.waiting = false

	default:
		// connected, thinking_done and unknown types leave the log untouched
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.changed()
}

// OnDisconnect clears the transient state a lost connection can no longer
// resolve.
func (a *Assembler) OnDisconnect() {
	a.mu.Lock()
	a.status = ""
	a.waiting = false
	a.mu.Unlock()
	a.changed()
}

// Messages returns a copy of the conversation log
func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.messages...)
}

// Status returns the transient thinking text, empty when none
func (a *Assembler) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Waiting reports whether a sent message has not been answered yet
func (a *Assembler) Waiting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waiting
}

// Streaming reports whether any assistant message is still receiving fragments
func (a *Assembler) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open) > 0
}

func (a *Assembler) appendLocked(role Role, text, requestID string) Message {
	msg := Message{
		ID:            uuid.NewString(),
		Role:          role,
		FullText:      text,
		DisplayedText: text,
		CreatedAt:     a.now(),
		RequestID:     requestID,
	}
	a.messages = append(a.messages, msg)
	return msg
}

func (a *Assembler) sealLocked(idx int) {
	msg := &a.messages[idx]
	msg.IsStreaming = false
	msg.DisplayedText = msg.FullText
}

func (a *Assembler) changed() {
	a.mu.Lock()
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}
