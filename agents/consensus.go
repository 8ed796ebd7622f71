package agents

import (
	"math"

	"github.com/scttfrdmn/investdesk/desk"
	"gonum.org/v1/gonum/stat"
)

// tieOrder breaks ties between equally voted actions.
var tieOrder = []Action{Buy, Hold, Sell}

// Vote is one analyst's recommendation.
type Vote struct {
	Agent string `json:"agent"`
	Recommendation
}

// Verdict aggregates analyst recommendations.
type Verdict struct {
	Action         Action         `json:"action"`
	Votes          []Vote         `json:"votes"`
	Tally          map[Action]int `json:"tally"`
	MeanConfidence float64        `json:"mean_confidence"`
	StdConfidence  float64        `json:"std_confidence"`
}

// Consensus computes the majority recommendation over successful replies.
// Failed entries are ignored. With no votes the verdict is HOLD.
func Consensus(replies []desk.Message) Verdict {
	v := Verdict{Action: Hold, Tally: make(map[Action]int)}

	var confidences []float64
	for _, msg := range replies {
		if msg.Failed() || msg.Role != desk.RoleAgent {
			continue
		}
		rec := RecommendationOf(msg)
		v.Votes = append(v.Votes, Vote{Agent: msg.Sender, Recommendation: rec})
		v.Tally[rec.Action]++
		confidences = append(confidences, rec.Confidence)
	}
	if len(v.Votes) == 0 {
		return v
	}

	best := -1
	for _, action := range tieOrder {
		if n := v.Tally[action]; n > best {
			best = n
			v.Action = action
		}
	}

	mean, std := stat.MeanStdDev(confidences, nil)
	v.MeanConfidence = mean
	if !math.IsNaN(std) {
		v.StdConfidence = std
	}
	return v
}
