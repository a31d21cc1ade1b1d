package ingestion

import "strings"

type Intent string

const (
	IntentBook       Intent = "book"
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
	IntentInquiry    Intent = "inquiry"
)

type rule struct {
	keywords []string
	intent   Intent
}

// Order matters: "cancel my appointment" must classify as cancel, not book.
var rules = []rule{
	{keywords: []string{"cancel"}, intent: IntentCancel},
	{keywords: []string{"resched"}, intent: IntentReschedule},
	{keywords: []string{"book", "appointment"}, intent: IntentBook},
}

// Classify is a keyword heuristic over the call summary and transcript. First matching rule wins.
func Classify(summary, transcript string) Intent {
	text := strings.ToLower(summary + "\n" + transcript)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.intent
			}
		}
	}
	return IntentInquiry
}
