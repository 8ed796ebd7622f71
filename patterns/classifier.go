package patterns

import (
	"strings"
)

// Classifier picks the handoff target for text. It returns false when no
// route applies.
type Classifier interface {
	Classify(text string, routes []Route) (string, bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string, routes []Route) (string, bool)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(text string, routes []Route) (string, bool) {
	return f(text, routes)
}

// KeywordClassifier picks the route with the most case-insensitive keyword
// hits. Ties go to the route declared first.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(text string, routes []Route) (string, bool) {
	content := strings.ToLower(text)

	maxMatches := 0
	best := ""
	for _, route := range routes {
		matches := countKeywords(content, route.Keywords)
		if matches > maxMatches {
			maxMatches = matches
			best = route.Target
		}
	}
	return best, best != ""
}

func countKeywords(lowered string, keywords []string) int {
	matches := 0
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
			matches++
		}
	}
	return matches
}

func mentionsAny(text string, keywords []string) bool {
	return countKeywords(strings.ToLower(text), keywords) > 0
}
