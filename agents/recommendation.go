package agents

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/scttfrdmn/investdesk/desk"
)

// Action is an investment recommendation.
type Action string

const (
	Buy  Action = "BUY"
	Hold Action = "HOLD"
	Sell Action = "SELL"
)

// Confidence assigned to keyword-extracted recommendations.
const (
	BuyConfidence  = 0.8
	SellConfidence = 0.75
	HoldConfidence = 0.7
)

// Payload keys written by recommendation extraction.
const (
	PayloadRecommendation = "recommendation"
	PayloadConfidence     = "confidence"
)

// Recommendation is an action with a confidence score in [0,1].
type Recommendation struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// ExtractRecommendation reads an action out of free text. BUY wins over
// SELL, and text mentioning neither is HOLD.
func ExtractRecommendation(text string) Recommendation {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, string(Buy)):
		return Recommendation{Action: Buy, Confidence: BuyConfidence}
	case strings.Contains(upper, string(Sell)):
		return Recommendation{Action: Sell, Confidence: SellConfidence}
	default:
		return Recommendation{Action: Hold, Confidence: HoldConfidence}
	}
}

// RecommendationOf returns the recommendation recorded on msg, extracting it
// from the content when the payload carries none.
func RecommendationOf(msg desk.Message) Recommendation {
	action := Action(msg.PayloadString(PayloadRecommendation))
	if action == "" {
		return ExtractRecommendation(msg.Content)
	}
	rec := Recommendation{Action: action}
	switch v := msg.Payload[PayloadConfidence].(type) {
	case float64:
		rec.Confidence = v
	case int:
		rec.Confidence = float64(v)
	}
	return rec
}

// Decision is the final output of a plan synthesizer.
type Decision struct {
	Decision   string `json:"decision"`
	Confidence string `json:"confidence"`
	Summary    string `json:"summary"`
}

var decisionLine = regexp.MustCompile(`(?im)^\W*(decision|confidence|summary)\W*:\s*\**\s*(.+?)\s*$`)

// ParseDecision extracts decision, confidence and summary from a synthesizer
// reply. JSON objects (optionally fenced) and "Decision: ..." lines are both
// accepted.
func ParseDecision(text string) (Decision, bool) {
	if obj := jsonObject(text); obj != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(obj), &raw); err == nil {
			d := Decision{
				Decision:   stringify(raw["decision"]),
				Confidence: stringify(raw["confidence"]),
				Summary:    stringify(raw["summary"]),
			}
			if d.Decision != "" {
				return d, true
			}
		}
	}

	var d Decision
	for _, m := range decisionLine.FindAllStringSubmatch(text, -1) {
		value := strings.Trim(m[2], "* ")
		switch strings.ToLower(m[1]) {
		case "decision":
			if d.Decision == "" {
				d.Decision = value
			}
		case "confidence":
			if d.Confidence == "" {
				d.Confidence = value
			}
		case "summary":
			if d.Summary == "" {
				d.Summary = value
			}
		}
	}
	return d, d.Decision != ""
}

func jsonObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
