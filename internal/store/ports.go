package store

import (
	"context"
	"time"
)

type Role string

const (
	RoleClient    Role = "client"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// KindText is the message kind used when the caller passes none.
const KindText = "text"

type Client struct {
	ID         int64
	ExternalID string
	Name       *string
	Phone      *string
	Email      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ClientInfo carries optional contact fields; nil fields are left untouched.
type ClientInfo struct {
	Name  *string
	Phone *string
	Email *string
}

func (i ClientInfo) empty() bool {
	return i.Name == nil && i.Phone == nil && i.Email == nil
}

type Conversation struct {
	ID             int64
	ClientID       int64
	ExternalDealID *string
	Status         Status
	ContextSummary map[string]any
	CreatedAt      time.Time
	LastActivity   time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	Sender         Role
	Content        string
	Kind           string
	Metadata       map[string]any
	CreatedAt      time.Time
}

type Stats struct {
	Clients                int64          `json:"clients"`
	ActiveConversations    int64          `json:"active_conversations"`
	CompletedConversations int64          `json:"completed_conversations"`
	Messages               int64          `json:"messages"`
	MessagesByRole         map[Role]int64 `json:"messages_by_role"`
}

// Reader is the read path the analyzer depends on.
type Reader interface {
	GetClient(ctx context.Context, clientID int64) (*Client, error)
	GetConversation(ctx context.Context, conversationID int64) (*Conversation, error)
	GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error)
}

// Store persists clients, conversations, messages and config.
type Store interface {
	Reader

	GetOrCreateClient(ctx context.Context, externalID string, info ClientInfo) (int64, error)
	GetOrCreateConversation(ctx context.Context, clientID int64, externalDealID *string) (int64, error)
	AddMessage(ctx context.Context, conversationID int64, sender Role, content, kind string, metadata map[string]any) (int64, error)
	MergeContextSummary(ctx context.Context, conversationID int64, update map[string]any) (map[string]any, error)

	CountActiveConversations(ctx context.Context, window time.Duration) (int, error)
	MarkStaleConversationsCompleted(ctx context.Context, inactivityDays int) (int64, error)
	Stats(ctx context.Context) (*Stats, error)

	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string, description *string) error

	Close() error
}
