package amocrm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

// Export is the JSON document produced by the amoCRM history exporter.
type Export struct {
	ExportInfo map[string]any `json:"export_info,omitempty"`
	Leads      []LeadHistory  `json:"leads"`
}

type LeadHistory struct {
	LeadID   int64         `json:"lead_id"`
	Messages []HistoryNote `json:"messages"`
}

type HistoryNote struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	NoteType   string `json:"note_type"`
	SenderType string `json:"sender_type"`
	CreatedAt  int64  `json:"created_at"`
	CreatedBy  int64  `json:"created_by"`
}

type ImportStats struct {
	LeadsProcessed   int `json:"leads_processed"`
	MessagesImported int `json:"messages_imported"`
	MessagesSkipped  int `json:"messages_skipped"`
	Errors           int `json:"errors"`
}

// SenderRole maps an exported note to the role that authored it.
func SenderRole(n HistoryNote) store.Role {
	switch n.NoteType {
	case "call_in", "sms_in":
		return store.RoleClient
	case "call_out", "sms_out":
		return store.RoleAssistant
	case "service_message":
		return store.RoleSystem
	}
	if r := store.Role(n.SenderType); r.Valid() {
		return r
	}
	return store.RoleClient
}

const importConcurrency = 4

type Importer struct {
	store store.Store
	log   *logger.Logger
}

func NewImporter(s store.Store, log *logger.Logger) *Importer {
	return &Importer{store: s, log: log.With("component", "history_import")}
}

// Import loads every lead of the export. A lead whose conversation already
// holds messages is skipped whole; failures are counted per lead and do not
// stop the others. With dryRun nothing is written.
func (im *Importer) Import(ctx context.Context, exp Export, dryRun bool) (ImportStats, error) {
	var (
		mu    sync.Mutex
		stats ImportStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)

	for _, lead := range exp.Leads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var res ImportStats
			if dryRun {
				res.MessagesImported = len(lead.Messages)
			} else {
				res = im.importLead(gctx, lead)
			}

			mu.Lock()
			stats.LeadsProcessed++
			stats.MessagesImported += res.MessagesImported
			stats.MessagesSkipped += res.MessagesSkipped
			stats.Errors += res.Errors
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	im.log.Info("history import finished",
		"leads", stats.LeadsProcessed,
		"imported", stats.MessagesImported,
		"skipped", stats.MessagesSkipped,
		"errors", stats.Errors,
		"dry_run", dryRun,
	)
	return stats, err
}

func (im *Importer) importLead(ctx context.Context, lead LeadHistory) ImportStats {
	var res ImportStats
	if len(lead.Messages) == 0 {
		return res
	}

	fail := func(step string, err error) ImportStats {
		im.log.Warn("lead import failed", "lead_id", lead.LeadID, "step", step, "error", err)
		res.Errors++
		return res
	}

	dealID := strconv.FormatInt(lead.LeadID, 10)
	name := fmt.Sprintf("Клиент из сделки %d", lead.LeadID)

	clientID, err := im.store.GetOrCreateClient(ctx, ClientKey(lead.LeadID), store.ClientInfo{Name: &name})
	if err != nil {
		return fail("client", err)
	}
	convID, err := im.store.GetOrCreateConversation(ctx, clientID, &dealID)
	if err != nil {
		return fail("conversation", err)
	}

	existing, err := im.store.GetRecentMessages(ctx, convID, 1)
	if err != nil {
		return fail("existing messages", err)
	}
	if len(existing) > 0 {
		im.log.Info("conversation already has messages, skipping lead", "lead_id", lead.LeadID)
		res.MessagesSkipped += len(lead.Messages)
		return res
	}

	for _, n := range lead.Messages {
		if strings.TrimSpace(n.Text) == "" {
			res.MessagesSkipped++
			continue
		}
		meta := map[string]any{
			"amocrm_lead_id":   lead.LeadID,
			"amocrm_note_id":   n.ID,
			"note_type":        n.NoteType,
			"amocrm_timestamp": n.CreatedAt,
			"source":           "history_import",
			"created_by":       n.CreatedBy,
		}
		if _, err := im.store.AddMessage(ctx, convID, SenderRole(n), n.Text, store.KindText, meta); err != nil {
			im.log.Warn("note import failed", "lead_id", lead.LeadID, "note_id", n.ID, "error", err)
			res.Errors++
			continue
		}
		res.MessagesImported++
	}
	return res
}
