package conversation

import (
	"sync"
	"time"
)

// DefaultMaxHistory is used when a Context is created with a non-positive limit.
const DefaultMaxHistory = 20

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation. Timestamp is unix seconds.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Context is the bounded, ordered history of a session's conversation.
// It holds at most one system message, which trimming never evicts.
type Context struct {
	mu         sync.RWMutex
	maxHistory int
	messages   []Message
	now        func() time.Time
}

// New creates a Context seeded with systemPrompt (skipped when empty).
func New(systemPrompt string, maxHistory int) *Context {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	c := &Context{maxHistory: maxHistory, now: time.Now}
	if systemPrompt != "" {
		c.messages = append(c.messages, c.message(RoleSystem, systemPrompt))
	}
	return c
}

func (c *Context) message(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: c.now().Unix()}
}

// AppendUser records a user turn and trims the history.
func (c *Context) AppendUser(text string) {
	c.append(RoleUser, text)
}

// AppendAssistant records an assistant turn and trims the history.
func (c *Context) AppendAssistant(text string) {
	c.append(RoleAssistant, text)
}

func (c *Context) append(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, c.message(role, text))
	c.trimLocked()
}

// SetSystemPrompt replaces the system message content in place, or inserts
// a system message at the front when there is none.
func (c *Context) SetSystemPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.systemIndex(); i >= 0 {
		c.messages[i].Content = text
		return
	}
	c.messages = append([]Message{c.message(RoleSystem, text)}, c.messages...)
	c.trimLocked()
}

// Trim removes the oldest non-system messages until the history fits maxHistory.
func (c *Context) Trim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked()
}

func (c *Context) trimLocked() {
	for len(c.messages) > c.maxHistory {
		victim := -1
		for i, m := range c.messages {
			if m.Role != RoleSystem {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		c.messages = append(c.messages[:victim], c.messages[victim+1:]...)
	}
}

// Snapshot returns the messages to send with a request. With includeHistory
// it is a copy of the whole history; otherwise it is the system message (if
// any) followed by a single user message carrying userText.
func (c *Context) Snapshot(includeHistory bool, userText string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if includeHistory {
		return append([]Message(nil), c.messages...)
	}
	out := make([]Message, 0, 2)
	if i := c.systemIndex(); i >= 0 {
		out = append(out, c.messages[i])
	}
	return append(out, c.message(RoleUser, userText))
}

// Clear drops every turn, keeping only the system message.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []Message
	if i := c.systemIndex(); i >= 0 {
		kept = []Message{c.messages[i]}
	}
	c.messages = kept
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Context) MaxHistory() int {
	return c.maxHistory
}

// Messages returns a copy of the history, oldest first.
func (c *Context) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// SystemPrompt returns the current system prompt, or "" if none is set.
func (c *Context) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.systemIndex(); i >= 0 {
		return c.messages[i].Content
	}
	return ""
}

func (c *Context) systemIndex() int {
	for i, m := range c.messages {
		if m.Role == RoleSystem {
			return i
		}
	}
	return -1
}
