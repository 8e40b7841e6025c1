package schemas

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn in a conversation. ImagePNG carries an
// ephemeral screenshot payload attached to a user turn; it is never
// serialized and is pruned from retained history after a model call.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	ImagePNG []byte `json:"-"`
}

// Conversation is the ordered message history for one objective. Element 0 is
// always the current system prompt. The type has value semantics: every
// mutation returns a fresh Conversation with a copied message slice, so a
// failed call can simply discard its tentative copy and retry from the
// original (rollback-on-failure).
type Conversation struct {
	messages []Message
}

// NewConversation starts a history whose slot 0 is the system prompt.
func NewConversation(systemPrompt string) Conversation {
	return Conversation{messages: []Message{{Role: RoleSystem, Content: systemPrompt}}}
}

// Messages returns a copy of the history.
func (c Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages, including the system prompt.
func (c Conversation) Len() int { return len(c.messages) }

// SystemPrompt returns the content of slot 0, or "" for a zero Conversation.
func (c Conversation) SystemPrompt() string {
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[0].Content
}

// WithSystemPrompt atomically replaces slot 0. This happens whenever the
// active backend changes, so the instructions always match the backend's
// addressing scheme.
func (c Conversation) WithSystemPrompt(prompt string) Conversation {
	if len(c.messages) == 0 {
		return NewConversation(prompt)
	}
	out := c.Messages()
	out[0] = Message{Role: RoleSystem, Content: prompt}
	return Conversation{messages: out}
}

// Append returns a new Conversation with msg added.
func (c Conversation) Append(msg Message) Conversation {
	out := make([]Message, 0, len(c.messages)+1)
	out = append(out, c.messages...)
	out = append(out, msg)
	return Conversation{messages: out}
}

// WithoutImages returns a new Conversation with all screenshot payloads
// dropped. Text content is retained; this bounds token growth across
// iterations.
func (c Conversation) WithoutImages() Conversation {
	out := c.Messages()
	for i := range out {
		out[i].ImagePNG = nil
	}
	return Conversation{messages: out}
}

// LastAssistant returns the most recent assistant message, if any.
func (c Conversation) LastAssistant() (Message, bool) {
	for i := len(c.messages) - 1; i >= 1; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// FirstUserTurn reports whether no user message has been sent yet. The first
// user turn of an objective uses a distinct prompt from follow-up turns.
func (c Conversation) FirstUserTurn() bool {
	for _, m := range c.messages[min(1, len(c.messages)):] {
		if m.Role == RoleUser {
			return false
		}
	}
	return true
}
