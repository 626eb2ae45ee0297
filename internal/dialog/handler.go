package dialog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/amocrm"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/httputil"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 500
	maxBodyBytes         = 8 << 20
)

type Handler struct {
	svc          Service
	replier      *Replier
	analyzer     *analyzer.Analyzer
	store        store.Store
	importer     *amocrm.Importer
	activeWindow time.Duration
	log          *logger.Logger
}

type HandlerDeps struct {
	Service      Service
	Replier      *Replier // nil disables reply generation
	Analyzer     *analyzer.Analyzer
	Store        store.Store
	Importer     *amocrm.Importer
	ActiveWindow time.Duration
	Logger       *logger.Logger
}

func NewHandler(d HandlerDeps) *Handler {
	window := d.ActiveWindow
	if window <= 0 {
		window = time.Hour
	}
	return &Handler{
		svc:          d.Service,
		replier:      d.Replier,
		analyzer:     d.Analyzer,
		store:        d.Store,
		importer:     d.Importer,
		activeWindow: window,
		log:          d.Logger.With("component", "http"),
	}
}

type handleResponse struct {
	*Result
	Delivery *Delivery `json:"delivery,omitempty"`
}

// HandleMessage is the generic JSON ingestion endpoint.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContactID string         `json:"contact_id"`
		DealID    *string        `json:"deal_id"`
		Text      string         `json:"text"`
		Sender    string         `json:"sender"`
		Name      *string        `json:"name"`
		Phone     *string        `json:"phone"`
		Email     *string        `json:"email"`
		Metadata  map[string]any `json:"metadata"`
		Reply     bool           `json:"reply"`
		SaveOnly  bool           `json:"save_only"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	in := Inbound{
		ContactID: payload.ContactID,
		DealID:    payload.DealID,
		Text:      payload.Text,
		Sender:    store.Role(payload.Sender),
		Client:    store.ClientInfo{Name: payload.Name, Phone: payload.Phone, Email: payload.Email},
		Metadata:  payload.Metadata,
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{"source": "api"}
	}

	handle := h.svc.HandleIncoming
	if payload.SaveOnly {
		// history sync from other channels: stored and analyzed, never answered
		handle = h.svc.SaveOnly
	}
	res, err := handle(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	out := handleResponse{Result: res}
	if payload.Reply && h.replier != nil && res.SuggestedText != "" {
		d, err := h.replier.Reply(r.Context(), res, in.DealID, in.Text)
		if err != nil {
			h.log.Warn("reply incomplete", "conversation_id", res.ConversationID, "error", err)
		}
		out.Delivery = d
	}
	httputil.RespondJSON(w, http.StatusOK, out)
}

// HandleAmoCRMWebhook accepts amoCRM's form-encoded "message added" hook. The
// reply goes out as a note on the lead; the hook itself only gets the result.
func (h *Handler) HandleAmoCRMWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	msg, err := amocrm.ParseWebhook(r.PostForm)
	if errors.Is(err, amocrm.ErrNoMessage) {
		httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dealID := msg.DealID()
	in := Inbound{
		ContactID: msg.ClientKey(),
		DealID:    &dealID,
		Text:      msg.Text,
		Metadata: map[string]any{
			"amocrm_lead_id":   msg.LeadID,
			"amocrm_timestamp": msg.CreatedAt,
			"source":           "amocrm_webhook",
		},
	}
	if msg.ContactID != "" {
		in.Metadata["amocrm_contact_id"] = msg.ContactID
	}
	if msg.AuthorName != "" {
		in.Client.Name = &msg.AuthorName
	}

	res, err := h.svc.HandleIncoming(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	out := handleResponse{Result: res}
	if h.replier != nil {
		d, err := h.replier.Reply(r.Context(), res, &dealID, msg.Text)
		if err != nil {
			h.log.Warn("reply incomplete", "lead_id", msg.LeadID, "error", err)
		}
		out.Delivery = d
	}
	httputil.RespondJSON(w, http.StatusOK, out)
}

type messageView struct {
	ID        int64          `json:"id"`
	Sender    store.Role     `json:"sender"`
	Content   string         `json:"content"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessagesLimit)
	}

	if _, err := h.store.GetConversation(r.Context(), id); err != nil {
		h.respondErr(w, err)
		return
	}
	msgs, err := h.store.GetRecentMessages(r.Context(), id, limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Kind:      m.Kind,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		})
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        out,
	})
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	sum, err := h.analyzer.Summarize(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"summary": sum,
		"metrics": analyzer.ComputeMetrics(*sum),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.CountActiveConversations(r.Context(), h.activeWindow)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	totals, err := h.store.Stats(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"active_conversations": active,
		"active_window":        h.activeWindow.String(),
		"totals":               totals,
	})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := h.store.GetConfig(r.Context(), key)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if !ok {
		httputil.RespondError(w, http.StatusNotFound, "config key not found")
		return
	}
	if sensitiveKey(key) {
		value = "***"
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value       *string `json:"value"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil || payload.Value == nil {
		httputil.RespondError(w, http.StatusBadRequest, "body must be {\"value\": \"...\"}")
		return
	}
	if err := h.store.SetConfig(r.Context(), chi.URLParam(r, "key"), *payload.Value, payload.Description); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	var exp amocrm.Export
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&exp); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid export json")
		return
	}
	if len(exp.Leads) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "export has no leads")
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	stats, err := h.importer.Import(r.Context(), exp, dryRun)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondError(w, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "status", status, "error", err)
	}
	httputil.RespondError(w, status, err.Error())
}

// StatusFor maps store error kinds to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"key", "token", "secret", "password"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
