package analyzer

import (
	"context"
	"time"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const DefaultHistoryWindow = 100

// Analyzer derives conversation state from stored history. It only reads from
// the store; persisting its output is the caller's job.
type Analyzer struct {
	reader store.Reader
	log    *logger.Logger
	window int
	now    func() time.Time
}

type Option func(*Analyzer)

// WithHistoryWindow bounds how many recent messages a summary looks at.
func WithHistoryWindow(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.window = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

func New(reader store.Reader, log *logger.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		reader: reader,
		log:    log.With("component", "analyzer"),
		window: DefaultHistoryWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analysis is the outcome of looking at one newly stored message.
type Analysis struct {
	Intents      []Intent
	Entities     Entities
	State        State
	Transitioned bool
	// Update is the fragment to merge into the conversation's context summary.
	Update map[string]any
}

// Analyze classifies text and builds the context update for it. Only client
// messages are classified and may move the conversation state.
func (a *Analyzer) Analyze(ctx context.Context, conversationID int64, text string, sender store.Role) (*Analysis, error) {
	res := &Analysis{
		Intents: []Intent{},
		Update: map[string]any{
			"timestamp":      a.now().UTC().Format(time.RFC3339Nano),
			"sender_type":    string(sender),
			"message_length": len([]rune(text)),
		},
	}
	if sender != store.RoleClient {
		return res, nil
	}

	res.Intents = AnalyzeIntent(text)
	res.Entities = ExtractEntities(text)
	res.Update["intents"] = res.Intents
	// entities describe the latest message only
	res.Update["entities"] = store.Replace(res.Entities.Map())

	state, changed, err := a.DetermineConversationState(ctx, conversationID, res.Intents)
	if err != nil {
		return nil, err
	}
	res.State, res.Transitioned = state, changed
	if changed {
		res.Update["conversation_state"] = string(state)
	}

	a.log.Debug("message analyzed",
		"conversation_id", conversationID,
		"intents", res.Intents,
		"state", state,
		"transitioned", changed,
	)
	return res, nil
}

// DetermineConversationState returns the state the conversation moves to on
// intents, and false when it stays where it is. The message being analyzed is
// expected to be stored already.
func (a *Analyzer) DetermineConversationState(ctx context.Context, conversationID int64, intents []Intent) (State, bool, error) {
	conv, err := a.reader.GetConversation(ctx, conversationID)
	if err != nil {
		return "", false, err
	}
	prior := stateFromSummary(conv.ContextSummary)
	if prior == "" {
		// imported history or assistant turns may precede the first client message
		msgs, err := a.reader.GetRecentMessages(ctx, conversationID, 2)
		if err != nil {
			return "", false, err
		}
		if len(msgs) <= 1 {
			return FirstState(intents), true, nil
		}
	}
	next, changed := NextState(prior, intents)
	return next, changed, nil
}

func (a *Analyzer) Summarize(ctx context.Context, conversationID int64) (*ConversationSummary, error) {
	conv, err := a.reader.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	client, err := a.reader.GetClient(ctx, conv.ClientID)
	if err != nil {
		return nil, err
	}
	msgs, err := a.reader.GetRecentMessages(ctx, conversationID, a.window)
	if err != nil {
		return nil, err
	}

	sum := &ConversationSummary{
		ConversationID: conv.ID,
		Status:         conv.Status,
		State:          stateFromSummary(conv.ContextSummary),
		LastActivity:   conv.LastActivity,
		Intents:        intentsFromAny(conv.ContextSummary["intents"]),
		Entities:       map[string]any{},
	}
	if client.Name != nil {
		sum.ClientName = *client.Name
	}
	if sum.State == "" {
		sum.State = StateInitial
	}
	if sum.Intents == nil {
		sum.Intents = []Intent{}
	}
	if ents, ok := conv.ContextSummary["entities"].(map[string]any); ok {
		sum.Entities = ents
	}

	aggregate(sum, msgs)
	return sum, nil
}

func (a *Analyzer) SuggestNextActions(ctx context.Context, conversationID int64) ([]string, error) {
	sum, err := a.Summarize(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return NextActions(*sum), nil
}

func (a *Analyzer) ComputeMetrics(ctx context.Context, conversationID int64) (*Metrics, error) {
	sum, err := a.Summarize(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m := ComputeMetrics(*sum)
	return &m, nil
}
