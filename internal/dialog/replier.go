package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/ai"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/knowledge"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/responder"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const (
	KindAIResponse       = "ai_response"
	KindTemplateResponse = "template_response"

	promptRecentMessages = 3
	promptKnowledgeHits  = 3
)

// Replier turns a handled message into a stored, delivered assistant reply.
// The AI client and the outbound are optional.
type Replier struct {
	store    store.Store
	analyzer *analyzer.Analyzer
	ai       ai.AI
	kb       *knowledge.Base
	outbound Outbound
	log      *logger.Logger
}

func NewReplier(st store.Store, an *analyzer.Analyzer, aiClient ai.AI, kb *knowledge.Base, out Outbound, log *logger.Logger) *Replier {
	if kb == nil {
		kb = knowledge.New(nil)
	}
	return &Replier{
		store:    st,
		analyzer: an,
		ai:       aiClient,
		kb:       kb,
		outbound: out,
		log:      log.With("component", "replier"),
	}
}

type Delivery struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	Delivered bool   `json:"delivered"`
}

// Reply answers question, the client text behind res. The AI is asked first;
// on any AI failure the selector's suggestion is used. The reply is stored
// before delivery, so a delivery error leaves it recorded but undelivered.
func (r *Replier) Reply(ctx context.Context, res *Result, dealID *string, question string) (*Delivery, error) {
	if res == nil {
		return nil, errors.New("reply: nil result")
	}

	d := &Delivery{Text: res.SuggestedText, Kind: KindTemplateResponse}
	if r.ai != nil {
		if text, err := r.askAI(ctx, res.ConversationID, res.Category, question); err != nil {
			r.log.Warn("ai reply failed, using template", "conversation_id", res.ConversationID, "error", err)
		} else {
			d.Text, d.Kind = text, KindAIResponse
		}
	}
	if d.Text == "" {
		return nil, fmt.Errorf("reply: nothing to send for conversation %d", res.ConversationID)
	}

	msgID, err := r.store.AddMessage(ctx, res.ConversationID, store.RoleAssistant, d.Text, d.Kind, map[string]any{
		"reply_to": res.MessageID,
		"category": string(res.Category),
	})
	if err != nil {
		return nil, err
	}
	d.MessageID = msgID

	if analysis, err := r.analyzer.Analyze(ctx, res.ConversationID, d.Text, store.RoleAssistant); err == nil {
		if _, err := r.store.MergeContextSummary(ctx, res.ConversationID, analysis.Update); err != nil {
			r.log.Warn("context update failed", "conversation_id", res.ConversationID, "error", err)
		}
	}

	if r.outbound == nil || dealID == nil {
		return d, nil
	}
	if err := r.outbound.SendNote(ctx, *dealID, d.Text); err != nil {
		r.log.Error("delivery failed", "conversation_id", res.ConversationID, "deal_id", *dealID, "error", err)
		return d, fmt.Errorf("deliver reply: %w", err)
	}
	d.Delivered = true
	return d, nil
}

func (r *Replier) askAI(ctx context.Context, conversationID int64, category responder.Category, question string) (string, error) {
	sum, err := r.analyzer.Summarize(ctx, conversationID)
	if err != nil {
		return "", err
	}
	recent, err := r.store.GetRecentMessages(ctx, conversationID, promptRecentMessages)
	if err != nil {
		return "", err
	}
	hits := r.kb.Search(question, promptKnowledgeHits)
	if len(hits) == 0 && category != "" {
		hits = r.kb.ByCategory(string(category), promptKnowledgeHits)
	}

	prompt := BuildPrompt(sum, recent, knowledge.Render(hits), question)
	return r.ai.GetReply(ctx, prompt, []ai.Message{{Role: "user", Text: question}})
}
