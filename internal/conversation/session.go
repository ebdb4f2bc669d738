package conversation

import "time"

// State is the dialogue state of a session. Transitions are permissive: any
// member state may follow any other, sessions end only by TTL expiry.
type State string

const (
	StateWaitingInput        State = "waiting_input"
	StateProcessing          State = "processing"
	StateWaitingConfirmation State = "waiting_confirmation"
	StateCompleted           State = "completed"
)

// Valid reports whether s is a member of the state set.
func (s State) Valid() bool {
	switch s {
	case StateWaitingInput, StateProcessing, StateWaitingConfirmation, StateCompleted:
		return true
	}
	return false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's history. Immutable once appended.
type Message struct {
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is the durable conversational context for one user stream.
// Version backs the store's optimistic concurrency check.
type Session struct {
	ID        string                 `json:"id"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	State     State                  `json:"state"`
	Messages  []Message              `json:"messages"`
	Scratch   map[string]interface{} `json:"scratch,omitempty"`
	Version   int64                  `json:"version"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate freely before a Put.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.Scratch != nil {
		cp.Scratch = make(map[string]interface{}, len(s.Scratch))
		for k, v := range s.Scratch {
			cp.Scratch[k] = v
		}
	}
	return &cp
}
