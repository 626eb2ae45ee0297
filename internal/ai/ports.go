package ai

import "context"

// AI is the completion collaborator. It knows nothing about amoCRM or the store.
type AI interface {
	GetReply(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Message is one dialogue turn in the form the model expects.
type Message struct {
	Role string // "user" | "assistant" | "system"
	Text string
}
