package amocrm

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrNoMessage marks webhook deliveries that carry no chat message (lead
// status changes and the like). Callers acknowledge and ignore them.
var ErrNoMessage = errors.New("amocrm: webhook carries no message")

const (
	fieldText      = "message[add][0][text]"
	fieldEntityID  = "message[add][0][entity_id]"
	fieldCreatedAt = "message[add][0][created_at]"
	fieldContactID = "message[add][0][contact_id]"
	fieldAuthor    = "message[add][0][author][name]"
)

type IncomingMessage struct {
	LeadID     int64
	ContactID  string // amoCRM contact id, empty if absent
	Text       string
	CreatedAt  int64 // unix seconds as sent by amoCRM, 0 if absent
	AuthorName string
}

// DealID is the lead id in the string form the store keeps.
func (m IncomingMessage) DealID() string {
	return strconv.FormatInt(m.LeadID, 10)
}

// ClientKey is the external client id for the message's sender.
func (m IncomingMessage) ClientKey() string {
	return ClientKey(m.LeadID)
}

// ClientKey maps a lead to the external id of its client. Live webhooks and
// the history import both resolve clients through it, so a lead's imported
// history and its new messages share one conversation.
func ClientKey(leadID int64) string {
	return strconv.FormatInt(leadID, 10)
}

// ParseWebhook reads a form-encoded "message added" webhook.
func ParseWebhook(form url.Values) (*IncomingMessage, error) {
	if _, ok := form[fieldText]; !ok {
		return nil, ErrNoMessage
	}

	text := strings.TrimSpace(form.Get(fieldText))
	if text == "" {
		return nil, fmt.Errorf("amocrm webhook: empty message text")
	}

	leadID, err := ParseLeadID(form.Get(fieldEntityID))
	if err != nil {
		return nil, fmt.Errorf("amocrm webhook: %w", err)
	}

	msg := &IncomingMessage{
		LeadID:     leadID,
		ContactID:  strings.TrimSpace(form.Get(fieldContactID)),
		Text:       text,
		AuthorName: strings.TrimSpace(form.Get(fieldAuthor)),
	}

	if raw := strings.TrimSpace(form.Get(fieldCreatedAt)); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("amocrm webhook: bad created_at %q", raw)
		}
		msg.CreatedAt = ts
	}
	return msg, nil
}

// ParseLeadID accepts both "lead_123" and "123".
func ParseLeadID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "lead_")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad lead id %q", s)
	}
	return id, nil
}
