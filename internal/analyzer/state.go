package analyzer

type State string

const (
	StateInitial           State = "initial"
	StateTourSelection     State = "tour_selection"
	StateDetailsDiscussion State = "details_discussion"
	StateBookingProcess    State = "booking_process"
	StateConfirmation      State = "confirmation"
	StateCompleted         State = "completed"
)

var stateLabels = map[State]string{
	StateInitial:           "Начальное состояние",
	StateTourSelection:     "Выбор тура",
	StateDetailsDiscussion: "Обсуждение деталей",
	StateBookingProcess:    "Процесс бронирования",
	StateConfirmation:      "Подтверждение",
	StateCompleted:         "Завершено",
}

// Label is the human-readable stage name used in prompts.
func (s State) Label() string {
	if l, ok := stateLabels[s]; ok {
		return l
	}
	return string(s)
}

// Checked in order; the first row with a matching intent wins.
var transitions = []struct {
	to State
	on []Intent
}{
	{to: StateBookingProcess, on: []Intent{IntentBooking}},
	{to: StateTourSelection, on: []Intent{IntentTourComparison, IntentPrice}},
	{to: StateDetailsDiscussion, on: []Intent{IntentEquipment, IntentSafety, IntentLogistics}},
}

// FirstState is the state a conversation takes on its very first message:
// booking_process on a booking intent, initial otherwise.
func FirstState(intents []Intent) State {
	if HasIntent(intents, IntentBooking) {
		return StateBookingProcess
	}
	return StateInitial
}

// NextState applies the transition table to the intents of a client message.
// When nothing matches the state stays, except that a conversation with no
// recorded state settles on initial. The bool reports whether a state should
// be recorded.
func NextState(prior State, intents []Intent) (State, bool) {
	for _, t := range transitions {
		for _, want := range t.on {
			if HasIntent(intents, want) {
				return t.to, true
			}
		}
	}
	if prior == "" {
		return StateInitial, true
	}
	return prior, false
}

func stateFromSummary(summary map[string]any) State {
	if s, ok := summary["conversation_state"].(string); ok && s != "" {
		return State(s)
	}
	return ""
}
