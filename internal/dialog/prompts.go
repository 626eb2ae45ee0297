package dialog

import (
	"encoding/json"
	"strings"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const AssistantPersonaPrompt = `
Ты профессиональный ассистент турагентства "Все на сплав".

Информация о клиенте и разговоре:
`

const AssistantInstructionsPrompt = `
Инструкции:
1. Учитывай контекст разговора и предыдущие сообщения
2. Если клиент готов к бронированию - предложи конкретные шаги
3. Отвечай персонализированно, используя имя клиента если известно
4. Предлагай конкретные туры с ценами и датами
5. Будь дружелюбным и профессиональным

Ответь с учетом всего контекста:`

// BuildPrompt renders the context-aware system prompt for the completion
// collaborator. recent is expected oldest first; kb may be empty.
func BuildPrompt(sum *analyzer.ConversationSummary, recent []store.Message, kb string, current string) string {
	var b strings.Builder
	b.WriteString(AssistantPersonaPrompt)

	if sum != nil {
		if sum.ClientName != "" {
			b.WriteString("Имя клиента: " + sum.ClientName + "\n")
		}
		b.WriteString("Этап разговора: " + sum.State.Label() + "\n")
		if len(sum.Topics) > 0 {
			b.WriteString("Обсуждаемые темы: " + strings.Join(sum.Topics, ", ") + "\n")
		}
		switch {
		case sum.BookingReadiness >= 5:
			b.WriteString("Клиент проявляет высокую готовность к бронированию!\n")
		case sum.BookingReadiness >= 2:
			b.WriteString("Клиент рассматривает возможность бронирования.\n")
		}
		if len(sum.Entities) > 0 {
			if raw, err := json.Marshal(sum.Entities); err == nil {
				b.WriteString("Выявленные предпочтения: " + string(raw) + "\n")
			}
		}
	}

	if kb = strings.TrimSpace(kb); kb != "" {
		b.WriteString("\nБаза знаний:\n" + kb + "\n")
	}

	if len(recent) > 0 {
		b.WriteString("\nПоследние сообщения:\n")
		for _, m := range recent {
			role := "Ассистент"
			if m.Sender == store.RoleClient {
				role = "Клиент"
			}
			b.WriteString(role + ": " + m.Content + "\n")
		}
	}

	b.WriteString("\nТекущий вопрос: " + current + "\n")
	b.WriteString(AssistantInstructionsPrompt)
	return b.String()
}
