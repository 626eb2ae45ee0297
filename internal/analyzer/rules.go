package analyzer

import (
	"regexp"
	"strings"
)

// Rule binds a tag to the phrases that signal it. Patterns are matched
// against lower-cased text.
type Rule struct {
	Tag      string
	Patterns []*regexp.Regexp
}

func NewRule(tag string, patterns ...string) Rule {
	r := Rule{Tag: tag, Patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, regexp.MustCompile(p))
	}
	return r
}

func (r Rule) matches(lower string) bool {
	for _, p := range r.Patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// Match returns the tag of every rule that fires on text, in table order.
func Match(text string, rules []Rule) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, r := range rules {
		if r.matches(lower) {
			tags = append(tags, r.Tag)
		}
	}
	return tags
}

// MatchFirst returns the tag of the first rule that fires on text.
func MatchFirst(text string, rules []Rule) (string, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if r.matches(lower) {
			return r.Tag, true
		}
	}
	return "", false
}

// wordStart anchors a pattern to the beginning of a word; RE2's \b only
// knows ASCII letters.
const wordStart = `(?:^|[^\p{L}\p{N}])`

var intentRules = []Rule{
	NewRule(string(IntentBooking),
		`забронировать`, `бронирование`, `заказать`, `записаться`,
		`хочу поехать`, `планирую`, `интересует тур`),
	NewRule(string(IntentPrice),
		`сколько стоит`, `цена`, `стоимость`, `цены`,
		`во сколько обойдется`, `прайс`),
	NewRule(string(IntentTourComparison),
		`сравни`, `что лучше`, `какой выбрать`, `посоветуй`,
		`чем отличается`, `разница между`),
	NewRule(string(IntentEquipment),
		`снаряжение`, `что взять`, `экипировка`, `одежда`,
		`что нужно`, `что брать с собой`),
	NewRule(string(IntentSafety),
		`безопасность`, `опасно`, `риски`, `страховка`,
		`безопасно ли`, `что если`),
	NewRule(string(IntentLogistics),
		`как добраться`, `трансфер`, `где встреча`,
		`откуда старт`, `логистика`),
	NewRule(string(IntentDate),
		`когда`, `даты`, `расписание`, `график`,
		`в июне`, `в июле`, `летом`),
}

type tour struct {
	name    string // entity value
	topic   string // topic label
	pattern string
}

var tours = []tour{
	{name: "чусовая", topic: TopicChusovaya, pattern: `чусов`},
	{name: "серга", topic: TopicSerga, pattern: `серг`},
}

var tourRules = func() []Rule {
	rules := make([]Rule, 0, len(tours))
	for _, t := range tours {
		rules = append(rules, NewRule(t.name, t.pattern))
	}
	return rules
}()

var monthRules = []Rule{
	NewRule("январь", wordStart+`январ`),
	NewRule("февраль", wordStart+`феврал`),
	NewRule("март", wordStart+`март`),
	NewRule("апрель", wordStart+`апрел`),
	NewRule("май", wordStart+`ма[йяею]м?(?:$|[^\p{L}\p{N}])`),
	NewRule("июнь", wordStart+`июн`),
	NewRule("июль", wordStart+`июл`),
	NewRule("август", wordStart+`август`),
	NewRule("сентябрь", wordStart+`сентябр`),
	NewRule("октябрь", wordStart+`октябр`),
	NewRule("ноябрь", wordStart+`ноябр`),
	NewRule("декабрь", wordStart+`декабр`),
}

var monthNumbers = map[string]int{
	"январь": 1, "февраль": 2, "март": 3, "апрель": 4,
	"май": 5, "июнь": 6, "июль": 7, "август": 8,
	"сентябрь": 9, "октябрь": 10, "ноябрь": 11, "декабрь": 12,
}

var participantRules = []Rule{
	NewRule(ParticipantsAdults, `взрослы[хе]`),
	NewRule(ParticipantsChildren, `дет[еий]`),
	NewRule(ParticipantsFamily, `семь[яеи]`),
}

// Topic rules reuse the tour patterns so entities and topics never disagree.
var topicRules = func() []Rule {
	rules := make([]Rule, 0, len(tours)+3)
	for _, t := range tours {
		rules = append(rules, NewRule(t.topic, t.pattern))
	}
	return append(rules,
		NewRule(TopicPrices, `цена`, `стоимость`, `сколько`),
		NewRule(TopicDates, `дата`, `когда`, `июнь`, `июль`),
		NewRule(TopicEquipment, `снаряжение`, `что взять`),
	)
}()

type readinessTier struct {
	weight int
	rule   Rule
}

// Only the strongest tier counts for a single message.
var readinessTiers = []readinessTier{
	{weight: 3, rule: NewRule("strong", `забронировать`, `заказать`, `хочу поехать`)},
	{weight: 2, rule: NewRule("planning", `планирую`, `собираемся`)},
	{weight: 1, rule: NewRule("interest", `интересует`, `рассматриваю`)},
}
