package dialog

import (
	"context"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/responder"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

// Inbound is one message handed over by a webhook or watcher.
type Inbound struct {
	ContactID string
	DealID    *string
	Text      string
	Sender    store.Role // client when empty
	Client    store.ClientInfo
	Metadata  map[string]any
}

type Result struct {
	ConversationID int64              `json:"conversation_id"`
	ClientID       int64              `json:"client_id"`
	MessageID      int64              `json:"message_id"`
	Category       responder.Category `json:"response_category,omitempty"`
	SuggestedText  string             `json:"suggested_response,omitempty"`
	Intents        []analyzer.Intent  `json:"intents"`
	State          analyzer.State     `json:"conversation_state,omitempty"`
	Summary        map[string]any     `json:"context_summary"`
}

// Outbound delivers a reply to the CRM.
type Outbound interface {
	SendNote(ctx context.Context, dealID string, text string) error
}

// Service is the ingestion pipeline: resolve, store, analyze, suggest.
type Service interface {
	HandleIncoming(ctx context.Context, in Inbound) (*Result, error)
	// SaveOnly stores and analyzes without picking a reply.
	SaveOnly(ctx context.Context, in Inbound) (*Result, error)
}
