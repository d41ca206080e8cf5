package domain

import "time"

// Conversation is the persisted record of one thread, owned by a user and
// scoped to an agent. ThreadID is unique across the whole store.
type Conversation struct {
	ThreadID  string
	UserID    string
	AgentType string
	Subject   string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is the optimistic concurrency token; zero means never persisted.
	Version int
}

// Append adds messages to the end of the thread and touches UpdatedAt.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	if n := len(c.Messages); n > 0 {
		c.UpdatedAt = c.Messages[n-1].Timestamp
	}
}

// OwnedBy reports whether the record belongs to the given user and agent.
func (c Conversation) OwnedBy(userID, agentType string) bool {
	return c.UserID == userID && c.AgentType == agentType
}
