// Package fallback produces local replies when the reply service is
// unavailable.
//
// Replies are chosen by matching the user's last utterance against an
// ordered table of topics. The same table names topics for the greeting
// built by the ledger, so a remembered topic always reads the same way the
// fallback reply would classify it.
package fallback

import (
	"regexp"
	"strings"
)

// Apology is spoken when the reply service fails for a reason other than
// quota exhaustion.
const Apology = "I'm sorry, I couldn't process your request right now. Please try again later."

// OfflineNotice is returned when no topic matches.
const OfflineNotice = "I'm running in offline mode right now because my reply service is unavailable. " +
	"I can still listen, but my answers will be limited until the service is restored."

// Topic is one row of the keyword table.
type Topic struct {
	// Name is a stable identifier ("weather").
	Name string

	// Label is the phrase used in sentences ("the weather").
	Label string

	// Reply is the canned offline reply for this topic.
	Reply string

	pattern *regexp.Regexp
}

// Match reports whether text mentions the topic.
func (t Topic) Match(text string) bool {
	return t.pattern.MatchString(text)
}

func topic(name, label, reply string, keywords ...string) Topic {
	return Topic{
		Name:    name,
		Label:   label,
		Reply:   reply,
		pattern: regexp.MustCompile(`(?i)\b(` + strings.Join(keywords, "|") + `)\b`),
	}
}

// topics is ordered: the first match wins.
var topics = []Topic{
	topic("weather", "the weather",
		"I'd love to help with the weather, but I'm in offline mode and can't fetch live forecasts. "+
			"A weather app or website will have the latest conditions.",
		"weather", "forecast", "temperature", "rain(ing|y)?", "snow(ing|y)?", "sunny", "humid(ity)?", "wind(y)?"),
	topic("email", "sending emails",
		"I can't read or send email while I'm in offline mode. "+
			"Once my connection is restored I can help you draft that message.",
		"e-?mails?", "inbox", "send", "sending", "mail"),
	topic("calendar", "your schedule",
		"I can't reach your calendar while I'm offline. "+
			"Try checking your schedule directly, and I'll be able to help again once I'm back online.",
		"calendar", "schedule", "scheduled", "meetings?", "appointments?", "remind(er)?s?", "agenda"),
	topic("news", "the news",
		"I can't look up the news in offline mode. A news site will have the latest headlines.",
		"news", "headlines?", "current events"),
	topic("music", "music",
		"I can't stream or recommend music right now because I'm in offline mode.",
		"music", "songs?", "playlists?", "albums?", "artists?"),
	topic("travel", "travel plans",
		"I can't check flights or bookings while offline. "+
			"Please use your airline or travel site for up-to-date information.",
		"travel", "flights?", "trips?", "hotels?", "vacation", "airport"),
	topic("recipes", "cooking",
		"I can't search for recipes while I'm offline, but I'd be happy to talk cooking once I'm back.",
		"recipes?", "cook(ing)?", "bake", "baking", "dinner", "lunch", "breakfast"),
	topic("math", "math",
		"My reply service handles calculations, and it's unavailable right now. "+
			"A calculator will be quicker until I'm back online.",
		"math", "calculate", "calculation", "equation", "plus", "minus", "multiply", "divide"),
	topic("health", "your health",
		"I can't give health information in offline mode. "+
			"For anything urgent, please contact a medical professional.",
		"health", "doctor", "medicine", "symptoms?", "sick", "exercise", "workout"),
	topic("shopping", "shopping",
		"I can't browse stores or prices while I'm offline.",
		"shop(ping)?", "buy", "order", "price", "store"),
}

// Topics returns a copy of the ordered topic table.
func Topics() []Topic {
	return append([]Topic(nil), topics...)
}

// Classify returns the first topic mentioned in text.
func Classify(text string) (Topic, bool) {
	if strings.TrimSpace(text) == "" {
		return Topic{}, false
	}
	for _, t := range topics {
		if t.Match(text) {
			return t, true
		}
	}
	return Topic{}, false
}

// Generate returns the offline reply for the user's last utterance.
func Generate(lastUserText string) string {
	if t, ok := Classify(lastUserText); ok {
		return t.Reply
	}
	return OfflineNotice
}
