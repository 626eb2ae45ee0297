package analyzer

import (
	"time"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const (
	TopicChusovaya = "Чусовая"
	TopicSerga     = "Серга"
	TopicPrices    = "Цены"
	TopicDates     = "Даты"
	TopicEquipment = "Снаряжение"
)

const maxReadiness = 10

type ConversationSummary struct {
	ConversationID    int64          `json:"conversation_id"`
	ClientName        string         `json:"client_name,omitempty"`
	Status            store.Status   `json:"status"`
	State             State          `json:"conversation_state"`
	LastActivity      time.Time      `json:"last_activity"`
	TotalMessages     int            `json:"total_messages"`
	ClientMessages    int            `json:"client_messages"`
	AssistantMessages int            `json:"assistant_messages"`
	SystemMessages    int            `json:"system_messages"`
	Duration          time.Duration  `json:"conversation_duration"`
	Topics            []string       `json:"topics_discussed"`
	BookingReadiness  int            `json:"booking_readiness_score"`
	Intents           []Intent       `json:"detected_intents"`
	Entities          map[string]any `json:"extracted_entities"`
}

func (s ConversationSummary) HasTopic(topic string) bool {
	for _, t := range s.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Topics returns the topics mentioned in text, in table order.
func Topics(text string) []string {
	return Match(text, topicRules)
}

// MessageReadiness scores one client message by its strongest booking signal.
func MessageReadiness(text string) int {
	for _, tier := range readinessTiers {
		if _, ok := MatchFirst(text, []Rule{tier.rule}); ok {
			return tier.weight
		}
	}
	return 0
}

// ReadinessScore sums MessageReadiness over the client texts, capped at 10.
func ReadinessScore(clientTexts []string) int {
	total := 0
	for _, t := range clientTexts {
		total += MessageReadiness(t)
		if total >= maxReadiness {
			return maxReadiness
		}
	}
	return total
}

// aggregate fills the history-derived fields of sum from chronologically
// ordered messages. Only client messages feed topics and readiness.
func aggregate(sum *ConversationSummary, msgs []store.Message) {
	sum.TotalMessages = len(msgs)
	sum.Topics = []string{}

	seen := map[string]bool{}
	var clientTexts []string
	for _, m := range msgs {
		switch m.Sender {
		case store.RoleClient:
			sum.ClientMessages++
		case store.RoleAssistant:
			sum.AssistantMessages++
		case store.RoleSystem:
			sum.SystemMessages++
		}
		if m.Sender != store.RoleClient {
			continue
		}
		clientTexts = append(clientTexts, m.Content)
		for _, topic := range Topics(m.Content) {
			if !seen[topic] {
				seen[topic] = true
				sum.Topics = append(sum.Topics, topic)
			}
		}
	}

	if len(msgs) > 1 {
		sum.Duration = msgs[len(msgs)-1].CreatedAt.Sub(msgs[0].CreatedAt)
	}
	sum.BookingReadiness = ReadinessScore(clientTexts)
}
