package scenarios

import (
	"strings"

	"github.com/scttfrdmn/investdesk/adapter/llm"
)

const demoPlan = "```json\n" + `[
  {"task_id": "1", "description": "Analyze revenue growth and profitability.", "specialist": "Fundamental Analyst", "dependencies": []},
  {"task_id": "2", "description": "Assess price trend and momentum.", "specialist": "Technical Analyst", "dependencies": []},
  {"task_id": "3", "description": "Summarize recent news and market mood.", "specialist": "Sentiment Analyst", "dependencies": []},
  {"task_id": "4", "description": "Identify competitive and regulatory risks.", "specialist": "Risk Analyst", "dependencies": ["1", "3"]},
  {"task_id": "5", "description": "Survey the electric vehicle market.", "specialist": "Market Researcher", "dependencies": ["2"]},
  {"task_id": "6", "description": "Estimate the 3-5 year return.", "specialist": "Fundamental Analyst", "dependencies": ["4", "5"]}
]` + "\n```"

const demoDecision = `{"decision": "Invest", "confidence": "High", "summary": "Growth and market position outweigh valuation and competition risks for a growth portfolio."}`

// DemoResponder answers like a plausible desk without calling a model, so
// every built-in desk runs end to end offline. The planner gets a fixed
// six task plan, the orchestrator a JSON decision, analysts a BUY call and
// everyone else "<agent>:ok".
func DemoResponder() llm.Responder {
	return func(turns []llm.Turn) (string, error) {
		name := ""
		if len(turns) > 0 {
			name = turns[len(turns)-1].Name
		}
		switch {
		case name == "Planner":
			return demoPlan, nil
		case name == "Orchestrator":
			return demoDecision, nil
		case name == "Moderator":
			return "Key points so far: strong growth, medium-high risk. Next speaker, please continue.", nil
		case strings.HasSuffix(name, "Analyst"):
			return name + ": fundamentals and momentum look constructive. Recommendation: BUY", nil
		default:
			return name + ":ok", nil
		}
	}
}
