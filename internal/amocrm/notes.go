package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
)

// NotePrefix marks notes written by the assistant.
const NotePrefix = "🤖 AI Ассистент:\n\n"

var ErrNotConfigured = errors.New("amocrm: domain or access token not set")

type NotesOptions struct {
	Domain      string // e.g. example.amocrm.ru
	AccessToken string
	// BaseURL overrides https://{Domain}, mostly for tests.
	BaseURL string
	Timeout time.Duration
}

// NotesOutbound delivers replies as common notes on a lead.
type NotesOutbound struct {
	baseURL string
	token   string
	client  *http.Client
	log     *logger.Logger
}

func NewNotesOutbound(opts NotesOptions, log *logger.Logger) (*NotesOutbound, error) {
	token := strings.TrimSpace(opts.AccessToken)
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" && strings.TrimSpace(opts.Domain) != "" {
		base = "https://" + strings.TrimSpace(opts.Domain)
	}
	if token == "" || base == "" {
		return nil, ErrNotConfigured
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &NotesOutbound{
		baseURL: base,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.With("component", "amocrm_notes"),
	}, nil
}

type noteParams struct {
	Text string `json:"text"`
}

type note struct {
	NoteType string     `json:"note_type"`
	Params   noteParams `json:"params"`
}

func (c *NotesOutbound) SendNote(ctx context.Context, leadID string, text string) error {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return errors.New("amocrm: empty lead id")
	}

	body, err := json.Marshal([]note{{
		NoteType: "common",
		Params:   noteParams{Text: NotePrefix + text},
	}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/v4/leads/"+leadID+"/notes",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("amocrm api error: %s body=%s", resp.Status, string(respBody))
	}

	c.log.Info("note added", "lead_id", leadID)
	return nil
}
