package knowledge

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	Title    string   `yaml:"title" json:"title"`
	Category string   `yaml:"category" json:"category"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
	Content  string   `yaml:"content" json:"content"`
	Priority int      `yaml:"priority" json:"priority"`
	// Disabled entries stay in the file but are never returned.
	Disabled bool `yaml:"disabled" json:"-"`
}

// Base is an in-memory, read-only set of facts about the tours. Safe for
// concurrent use once built.
type Base struct {
	entries []Entry
}

func New(entries []Entry) *Base {
	return &Base{entries: append([]Entry(nil), entries...)}
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

func LoadFile(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge base %s: %w", path, err)
	}
	for i, e := range f.Entries {
		if strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("knowledge base %s: entry %d (%q) has no content", path, i, e.Title)
		}
	}
	return New(f.Entries), nil
}

func (b *Base) Len() int {
	n := 0
	for _, e := range b.entries {
		if !e.Disabled {
			n++
		}
	}
	return n
}

// Search returns up to limit active entries whose keywords or content contain
// any word of query, highest priority first, then in declaration order.
func (b *Base) Search(query string, limit int) []Entry {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 || limit <= 0 {
		return nil
	}
	return b.collect(limit, func(e Entry) bool {
		haystack := strings.ToLower(strings.Join(e.Keywords, " ")) + "\n" + strings.ToLower(e.Content)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				return true
			}
		}
		return false
	})
}

// ByCategory returns up to limit active entries of a reply category,
// highest priority first.
func (b *Base) ByCategory(category string, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	return b.collect(limit, func(e Entry) bool { return e.Category == category })
}

func (b *Base) collect(limit int, keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range b.entries {
		if !e.Disabled && keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Render formats entries as a plain-text block for prompts.
func Render(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Title)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(e.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}

func Defaults() *Base {
	return New([]Entry{
		{
			Title:    "Чусовая: Семейный сплав",
			Category: "tours_info",
			Keywords: []string{"чусовая", "семейный", "сплав", "3 дня", "дети"},
			Content:  "Сплав по реке Чусовая, 3 дня/2 ночи, 18,000 руб/чел. Подходит для семей с детьми от 8 лет.",
			Priority: 10,
		},
		{
			Title:    "Чусовая: Активный отдых",
			Category: "tours_info",
			Keywords: []string{"чусовая", "активный", "сплав", "3 дня"},
			Content:  "Сплав по реке Чусовая, 3 дня/2 ночи, 20,000 руб/чел.",
			Priority: 8,
		},
		{
			Title:    "Серга: Знакомство",
			Category: "tours_info",
			Keywords: []string{"серга", "однодневный", "1 день", "новичков"},
			Content:  "Однодневный сплав по реке Серга для новичков, 3,500 руб/чел.",
			Priority: 7,
		},
		{
			Title:    "Что включено",
			Category: "prices",
			Keywords: []string{"цена", "стоимость", "включено", "сколько"},
			Content:  "В стоимость включено: питание, инструктор, снаряжение, трансфер.",
			Priority: 6,
		},
		{
			Title:    "Ближайшие даты",
			Category: "dates",
			Keywords: []string{"даты", "когда", "июнь", "июль", "расписание"},
			Content:  "Чусовая: 15-17 июня, 22-24 июня, 1-3 июля.",
			Priority: 5,
		},
	})
}
