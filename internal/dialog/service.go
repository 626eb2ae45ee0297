package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/responder"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

type service struct {
	store    store.Store
	analyzer *analyzer.Analyzer
	selector *responder.Selector
	log      *logger.Logger

	// collapses concurrent first messages from one contact
	resolving singleflight.Group
}

func NewService(st store.Store, an *analyzer.Analyzer, sel *responder.Selector, log *logger.Logger) Service {
	return &service{
		store:    st,
		analyzer: an,
		selector: sel,
		log:      log.With("component", "dialog"),
	}
}

type resolved struct {
	clientID       int64
	conversationID int64
}

func (s *service) HandleIncoming(ctx context.Context, in Inbound) (*Result, error) {
	if err := normalize(&in); err != nil {
		return nil, err
	}
	res, err := s.ingest(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.Sender != store.RoleClient {
		return res, nil
	}

	name := ""
	if c, err := s.store.GetClient(ctx, res.ClientID); err == nil && c.Name != nil {
		name = *c.Name
	} else if err != nil {
		s.log.Warn("client lookup failed, reply is not personalized", "client_id", res.ClientID, "error", err)
	}

	reply := s.selector.Select(in.Text, res.Intents, name)
	res.Category = reply.Category
	res.SuggestedText = reply.Text

	s.log.Info("message handled",
		"conversation_id", res.ConversationID,
		"category", reply.Category,
		"state", res.State,
	)
	return res, nil
}

func (s *service) SaveOnly(ctx context.Context, in Inbound) (*Result, error) {
	if err := normalize(&in); err != nil {
		return nil, err
	}
	return s.ingest(ctx, in)
}

// ingest expects a normalized Inbound.
func (s *service) ingest(ctx context.Context, in Inbound) (*Result, error) {
	ids, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["ingest_id"] = uuid.NewString()

	msgID, err := s.store.AddMessage(ctx, ids.conversationID, in.Sender, in.Text, store.KindText, meta)
	if errors.Is(err, store.ErrNotFound) {
		// conversation went away between resolve and insert
		s.log.Warn("conversation vanished, resolving again", "conversation_id", ids.conversationID)
		if ids, err = s.resolve(ctx, in); err != nil {
			return nil, err
		}
		msgID, err = s.store.AddMessage(ctx, ids.conversationID, in.Sender, in.Text, store.KindText, meta)
	}
	if err != nil {
		return nil, err
	}

	analysis, err := s.analyzer.Analyze(ctx, ids.conversationID, in.Text, in.Sender)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.MergeContextSummary(ctx, ids.conversationID, analysis.Update)
	if err != nil {
		return nil, err
	}

	state := analysis.State
	if st, ok := summary["conversation_state"].(string); ok {
		state = analyzer.State(st)
	}

	return &Result{
		ConversationID: ids.conversationID,
		ClientID:       ids.clientID,
		MessageID:      msgID,
		Intents:        analysis.Intents,
		State:          state,
		Summary:        summary,
	}, nil
}

func normalize(in *Inbound) error {
	in.ContactID = strings.TrimSpace(in.ContactID)
	if in.ContactID == "" {
		return fmt.Errorf("%w: contact id is required", store.ErrValidation)
	}
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: message text is required", store.ErrValidation)
	}
	if in.Sender == "" {
		in.Sender = store.RoleClient
	}
	if !in.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender role %q", store.ErrValidation, in.Sender)
	}
	if in.DealID != nil && strings.TrimSpace(*in.DealID) == "" {
		in.DealID = nil
	}
	return nil
}

// resolve finds or creates the client and its current conversation. A
// NotFound or Integrity failure is retried once, as the store may have lost
// a race with a concurrent writer. Callers that joined another caller's flight
// apply their own contact fields afterwards.
func (s *service) resolve(ctx context.Context, in Inbound) (resolved, error) {
	key := in.ContactID
	if in.DealID != nil {
		key += "\x00" + *in.DealID
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		v, err, shared := s.resolving.Do(key, func() (any, error) {
			// the result is shared, so one caller's cancellation must not fail the rest
			fctx := context.WithoutCancel(ctx)
			clientID, err := s.store.GetOrCreateClient(fctx, in.ContactID, in.Client)
			if err != nil {
				return nil, err
			}
			convID, err := s.store.GetOrCreateConversation(fctx, clientID, in.DealID)
			if err != nil {
				return nil, err
			}
			return resolved{clientID: clientID, conversationID: convID}, nil
		})
		if err == nil {
			ids := v.(resolved)
			if shared && in.Client != (store.ClientInfo{}) {
				if _, err := s.store.GetOrCreateClient(ctx, in.ContactID, in.Client); err != nil {
					return resolved{}, err
				}
			}
			return ids, nil
		}
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrIntegrity) {
			return resolved{}, err
		}
		lastErr = err
		s.log.Warn("resolve failed", "contact_id", in.ContactID, "attempt", attempt+1, "error", err)
	}
	return resolved{}, lastErr
}
