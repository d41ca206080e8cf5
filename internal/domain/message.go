package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Direction records who originated a message.
type Direction string

const (
	DirectionUser  Direction = "user"
	DirectionAgent Direction = "assistant"
)

// Message is a single immutable entry in a thread.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"role"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Direction == DirectionUser
}

// NewUserMessage builds a user-direction message addressed to agent.
func NewUserMessage(agent Agent, body string, at time.Time) Message {
	return Message{
		ID:        newMessageID(at),
		From:      UserAddress,
		To:        agent.Email,
		Body:      body,
		Timestamp: at.UTC(),
		Direction: DirectionUser,
	}
}

// NewAgentMessage builds an agent-direction message from agent.
func NewAgentMessage(agent Agent, body string, at time.Time) Message {
	return Message{
		ID:        newMessageID(at),
		From:      agent.Email,
		To:        UserAddress,
		Body:      body,
		Timestamp: at.UTC(),
		Direction: DirectionAgent,
	}
}

func newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
