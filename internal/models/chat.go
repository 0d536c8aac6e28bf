package models

import "time"

// Role identifies who authored a message in an exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ContentType classifies a message content block. Only text blocks reach extraction.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentDocument ContentType = "document"
)

func (t ContentType) IsValid() bool {
	return t == ContentText || t == ContentImage || t == ContentDocument
}

// Chat is a conversation owned by one user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exchange is one user-turn/assistant-turn pair within a chat.
type Exchange struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chatId"`
	CreatedAt time.Time  `json:"createdAt"`
	Messages  []*Message `json:"messages"`
}

// Message is a single turn inside an exchange.
type Message struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role" validate:"required,oneof=user assistant"`
	Position int            `json:"position"`
	Contents []ContentBlock `json:"contents" validate:"max=50,dive"`
}

// ContentBlock is one piece of message content.
type ContentBlock struct {
	Type ContentType `json:"type" validate:"required,oneof=text image document"`
	Text string      `json:"text,omitempty"`
}
