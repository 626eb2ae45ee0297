package analyzer

type Intent string

const (
	IntentBooking        Intent = "booking_inquiry"
	IntentPrice          Intent = "price_inquiry"
	IntentTourComparison Intent = "tour_comparison"
	IntentEquipment      Intent = "equipment_inquiry"
	IntentSafety         Intent = "safety_inquiry"
	IntentLogistics      Intent = "logistics_inquiry"
	IntentDate           Intent = "date_inquiry"
)

// AnalyzeIntent returns every intent whose phrases occur in text. Rules are
// independent; an unrecognised message yields an empty slice.
func AnalyzeIntent(text string) []Intent {
	tags := Match(text, intentRules)
	intents := make([]Intent, 0, len(tags))
	for _, t := range tags {
		intents = append(intents, Intent(t))
	}
	return intents
}

func HasIntent(intents []Intent, want Intent) bool {
	for _, i := range intents {
		if i == want {
			return true
		}
	}
	return false
}

func intentsFromAny(v any) []Intent {
	var out []Intent
	switch raw := v.(type) {
	case []any:
		for _, x := range raw {
			if s, ok := x.(string); ok {
				out = append(out, Intent(s))
			}
		}
	case []Intent:
		out = append(out, raw...)
	case []string:
		for _, s := range raw {
			out = append(out, Intent(s))
		}
	}
	return out
}
