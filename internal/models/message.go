package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a persisted document-chat message.
type Message struct {
	ID         string    `json:"id" db:"id"`
	ContractID string    `json:"contractId" db:"contract_id"`
	Role       Role      `json:"role" db:"role"`
	Content    string    `json:"content" db:"content"`
	ChunksUsed []string  `json:"chunksUsed,omitempty" db:"chunks_used"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// ChatTurn is one entry of the conversation history sent by a client.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
