package analyzer

import "math"

const maxNextActions = 5

type Metrics struct {
	Health                float64  `json:"conversation_health"`
	Engagement            float64  `json:"engagement_level"`
	ConversionProbability float64  `json:"conversion_probability"`
	NextActions           []string `json:"next_actions"`
}

// NextActions recommends up to five follow-ups: stage advice first, then
// readiness, then the first uncovered topic.
func NextActions(sum ConversationSummary) []string {
	var out []string

	switch sum.State {
	case StateInitial, "":
		out = append(out,
			"Выяснить предпочтения клиента по турам",
			"Предложить популярные направления")
	case StateTourSelection:
		out = append(out,
			"Предоставить детальную информацию о турах",
			"Сравнить варианты по критериям клиента")
	case StateDetailsDiscussion:
		if !sum.HasTopic(TopicEquipment) {
			out = append(out, "Рассказать о необходимом снаряжении")
		}
		out = append(out, "Обсудить логистику и трансфер")
	case StateBookingProcess:
		out = append(out,
			"Предложить заполнить форму бронирования",
			"Уточнить финальные детали")
	}

	switch {
	case sum.BookingReadiness >= 7:
		out = append(out,
			"🔥 ПРИОРИТЕТ: Предложить бронирование",
			"Предоставить контакты для быстрого оформления")
	case sum.BookingReadiness >= 4:
		out = append(out, "Узнать что еще нужно для принятия решения")
	}

	switch {
	case len(sum.Topics) == 0:
		out = append(out, "Выяснить интересы клиента")
	case !sum.HasTopic(TopicPrices):
		out = append(out, "Предоставить информацию о ценах")
	case !sum.HasTopic(TopicDates):
		out = append(out, "Обсудить доступные даты")
	}

	if len(out) > maxNextActions {
		out = out[:maxNextActions]
	}
	return out
}

func Health(sum ConversationSummary) float64 {
	score := 0.5
	c, a := float64(sum.ClientMessages), float64(sum.AssistantMessages)
	if c > 0 && a > 0 {
		balance := math.Min(c, a) / math.Max(c, a)
		score += math.Min(balance, 1) * 0.3
	}
	score += math.Min(float64(len(sum.Topics))*0.1, 0.2)
	return math.Min(score, 1)
}

func Engagement(sum ConversationSummary) float64 {
	score := math.Min(float64(sum.ClientMessages)*0.1, 0.4) +
		float64(sum.BookingReadiness)*0.06 +
		float64(len(sum.Topics))*0.1
	return math.Min(score, 1)
}

var stateBonus = map[State]float64{
	StateBookingProcess:    0.3,
	StateDetailsDiscussion: 0.2,
	StateTourSelection:     0.1,
}

func ConversionProbability(sum ConversationSummary) float64 {
	topicBonus := 0.0
	prices, dates := sum.HasTopic(TopicPrices), sum.HasTopic(TopicDates)
	switch {
	case prices && dates:
		topicBonus = 0.2
	case prices || dates:
		topicBonus = 0.1
	}
	score := float64(sum.BookingReadiness)*0.08 + stateBonus[sum.State] + topicBonus
	return math.Min(score, 1)
}

func ComputeMetrics(sum ConversationSummary) Metrics {
	return Metrics{
		Health:                Health(sum),
		Engagement:            Engagement(sum),
		ConversionProbability: ConversionProbability(sum),
		NextActions:           NextActions(sum),
	}
}
