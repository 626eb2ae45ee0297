package analyzer

import (
	"strconv"
	"strings"
	"unicode"
)

const (
	ParticipantsAdults   = "adults"
	ParticipantsChildren = "children"
	ParticipantsFamily   = "family"
)

// Entities are the structured values pulled out of one message. Zero fields
// mean the pattern was absent and are dropped from the serialized form.
type Entities struct {
	TourName     string   `json:"tour_name,omitempty"`
	Month        int      `json:"month,omitempty"`
	Numbers      []int    `json:"numbers,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Map renders the entities as a context-summary fragment.
func (e Entities) Map() map[string]any {
	m := map[string]any{}
	if e.TourName != "" {
		m["tour_name"] = e.TourName
	}
	if e.Month != 0 {
		m["month"] = e.Month
	}
	if len(e.Numbers) > 0 {
		m["numbers"] = append([]int(nil), e.Numbers...)
	}
	if len(e.Participants) > 0 {
		m["participants"] = append([]string(nil), e.Participants...)
	}
	return m
}

func ExtractEntities(text string) Entities {
	var e Entities

	if name, ok := MatchFirst(text, tourRules); ok {
		e.TourName = name
	}

	for _, tok := range tokens(text) {
		if !isDigits(tok) {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			// overflows int; not a quantity we care about
			continue
		}
		e.Numbers = append(e.Numbers, n)
	}

	if month, ok := MatchFirst(text, monthRules); ok {
		e.Month = monthNumbers[month]
	}

	e.Participants = Match(text, participantRules)
	return e
}

// tokens splits text into runs of letters, digits and underscores.
func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
