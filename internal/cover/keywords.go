// Package cover derives keywords and a deterministic cover image per event
// type.
package cover

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxKeywords = 5

// FallbackKeywords replace an empty extraction result.
var FallbackKeywords = []string{"abstract", "minimal"}

// emojiConcepts maps emoji to an image concept. Variation selectors have no
// entry, so they match nothing and are ignored.
var emojiConcepts = map[rune]string{
	'☕': "coffee",
	'🍵': "tea",
	'🍕': "pizza",
	'🍔': "burger",
	'🌮': "tacos",
	'🍣': "sushi",
	'🥗': "salad",
	'🍽': "dinner",
	'🍷': "wine",
	'🍺': "beer",
	'🍻': "beer",
	'🎂': "birthday",
	'🎉': "party",
	'🥳': "party",
	'🎄': "christmas",
	'🎃': "halloween",
	'💍': "wedding",
	'👶': "baby",
	'🎓': "graduation",
	'🏋': "fitness",
	'💪': "fitness",
	'🏃': "running",
	'🚴': "cycling",
	'🏊': "swimming",
	'🧘': "yoga",
	'⚽': "soccer",
	'🏀': "basketball",
	'🎾': "tennis",
	'⛳': "golf",
	'⛷': "skiing",
	'✈': "travel",
	'🛫': "airport",
	'🚗': "car",
	'🚆': "train",
	'🚢': "ship",
	'🏖': "beach",
	'🏝': "island",
	'⛰': "mountain",
	'🏔': "mountain",
	'🏕': "camping",
	'🌳': "nature",
	'🌲': "forest",
	'🌊': "ocean",
	'☀': "sunshine",
	'❄': "snow",
	'🎵': "music",
	'🎶': "music",
	'🎸': "guitar",
	'🎹': "piano",
	'🎬': "movie",
	'🎭': "theater",
	'🎨': "art",
	'📷': "photography",
	'📚': "books",
	'📖': "reading",
	'💻': "computer",
	'💼': "business",
	'📈': "finance",
	'🏥': "hospital",
	'💊': "health",
	'🦷': "dentist",
	'💇': "haircut",
	'❤': "love",
	'🐶': "dog",
	'🐱': "cat",
	'🎮': "gaming",
	'🛒': "shopping",
	'🏠': "home",
	'🔧': "tools",
	'🧹': "cleaning",
}

// stopWords are generic scheduling words that say nothing about imagery.
var stopWords = map[string]struct{}{
	"meeting": {}, "meetings": {}, "call": {}, "calls": {}, "weekly": {},
	"daily": {}, "monthly": {}, "biweekly": {}, "sync": {}, "standup": {},
	"appointment": {}, "appt": {}, "session": {}, "event": {}, "review": {},
	"check": {}, "chat": {}, "catch": {}, "zoom": {}, "teams": {},
	"meet": {}, "online": {}, "virtual": {}, "remote": {}, "room": {},
	"tbd": {}, "with": {}, "and": {}, "the": {}, "for": {}, "from": {},
	"about": {}, "into": {}, "our": {}, "your": {}, "this": {}, "that": {},
	"will": {}, "are": {}, "has": {}, "have": {}, "was": {}, "were": {},
	"been": {}, "all": {}, "via": {}, "per": {}, "out": {}, "new": {},
}

// ExtractKeywords returns up to five keywords for an event, in this order:
// concepts for emoji in summary, summary words, up to two location words,
// up to three description words. Duplicates keep their first position.
// The result may be empty; callers substitute FallbackKeywords.
func ExtractKeywords(summary, description, location string) []string {
	out := make([]string, 0, maxKeywords)
	seen := make(map[string]struct{})
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	for _, r := range summary {
		if concept, ok := emojiConcepts[r]; ok {
			add(concept)
		}
	}

	for _, tok := range tokens(summary, 2) {
		add(tok)
	}

	if location != "" {
		for _, tok := range firstN(tokens(location, 2), 2) {
			add(tok)
		}
	}

	if description != "" {
		for _, tok := range firstN(tokens(description, 3), 3) {
			add(tok)
		}
	}

	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

// EventTypeKey normalizes a summary so that titles differing only in emoji,
// punctuation, case or spacing share a key.
func EventTypeKey(summary string) string {
	return strings.Join(strings.Fields(clean(summary)), "-")
}

// tokens cleans s and keeps words longer than minLen runes that are not
// stop words.
func tokens(s string, minLen int) []string {
	out := make([]string, 0)
	for _, w := range strings.Fields(clean(s)) {
		if utf8.RuneCountInString(w) <= minLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// clean lowercases s and drops everything but letters, digits and spaces.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
