package responder

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
)

type Reply struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

var greetingRule = analyzer.NewRule(string(CategoryGreeting),
	`привет`, `здравствуйте`, `добрый день`, `добрый вечер`, `здравствуй`)

// Intent precedence; the tours row also fires on plain tour words.
var intentCategories = []struct {
	category Category
	intents  []analyzer.Intent
}{
	{CategoryBooking, []analyzer.Intent{analyzer.IntentBooking}},
	{CategoryPrices, []analyzer.Intent{analyzer.IntentPrice}},
	{CategoryEquipment, []analyzer.Intent{analyzer.IntentEquipment}},
	{CategorySafety, []analyzer.Intent{analyzer.IntentSafety}},
	{CategoryDates, []analyzer.Intent{analyzer.IntentDate}},
	{CategoryToursInfo, []analyzer.Intent{analyzer.IntentTourComparison}},
}

var tourWords = analyzer.NewRule(string(CategoryToursInfo), `тур`, `сплав`, `чусовая`, `серга`)

// Scanned when no intent decided the category, same precedence.
var keywordCategories = []analyzer.Rule{
	analyzer.NewRule(string(CategoryBooking), `забронировать`, `заказать`, `бронирование`),
	analyzer.NewRule(string(CategoryPrices), `цена`, `стоимость`, `сколько`),
	analyzer.NewRule(string(CategoryEquipment), `снаряжение`, `что взять`, `экипировка`),
	analyzer.NewRule(string(CategorySafety), `безопасность`, `опасно`, `риски`),
	analyzer.NewRule(string(CategoryDates), `когда`, `даты`, `расписание`),
	analyzer.NewRule(string(CategoryToursInfo), `тур`, `сплав`, `поездка`),
}

// Selector maps an analyzed message to a canned reply. It never fails: when
// nothing matches, or a category has no template, the fallback is served.
type Selector struct {
	templates Templates
}

func NewSelector(t Templates) *Selector {
	if t == nil {
		t = DefaultTemplates()
	}
	return &Selector{templates: t}
}

func (s *Selector) Categorize(text string, intents []analyzer.Intent) Category {
	if _, ok := analyzer.MatchFirst(text, []analyzer.Rule{greetingRule}); ok {
		return CategoryGreeting
	}

	for _, row := range intentCategories {
		for _, want := range row.intents {
			if analyzer.HasIntent(intents, want) {
				return row.category
			}
		}
		if row.category == CategoryToursInfo {
			if _, ok := analyzer.MatchFirst(text, []analyzer.Rule{tourWords}); ok {
				return CategoryToursInfo
			}
		}
	}

	if tag, ok := analyzer.MatchFirst(text, keywordCategories); ok {
		return Category(tag)
	}
	return CategoryFallback
}

// Select picks the category for text and renders its first template,
// addressing the client by name when one is known.
func (s *Selector) Select(text string, intents []analyzer.Intent, clientName string) Reply {
	c := s.Categorize(text, intents)
	body, ok := s.templates.First(c)
	if !ok {
		c = CategoryFallback
		body, ok = s.templates.First(CategoryFallback)
		if !ok {
			body, _ = DefaultTemplates().First(CategoryFallback)
		}
	}
	return Reply{Category: c, Text: Personalize(body, clientName)}
}

// Personalize prefixes body with "Name, " and lower-cases its first letter.
func Personalize(body, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return body
	}
	r, size := utf8.DecodeRuneInString(body)
	if r == utf8.RuneError {
		return name + ", " + body
	}
	return name + ", " + string(unicode.ToLower(r)) + body[size:]
}
