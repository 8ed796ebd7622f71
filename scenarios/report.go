package scenarios

import (
	"fmt"
	"io"
	"strings"

	"github.com/scttfrdmn/investdesk/agents"
	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/patterns"
)

// PrintMessage writes one history entry as "Sender: content".
func PrintMessage(w io.Writer, m desk.Message) {
	if m.Role == desk.RoleUser {
		return
	}
	if m.Failed() {
		fmt.Fprintf(w, "%s: [failed] %s\n", m.Sender, m.Error)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", m.Sender, m.Content)
}

// Report writes the outcome of a session: status and reason, any gaps, and
// the pattern specific summary (consensus for fan-out, the decision for a
// plan).
func Report(w io.Writer, s *desk.Session) {
	fmt.Fprintf(w, "\n[%s] %s: %s", s.CorrelationID(), s.Pattern(), s.Status())
	if reason := s.Reason(); reason != "" {
		fmt.Fprintf(w, " (%s)", reason)
	}
	fmt.Fprintln(w)
	if gaps := s.Gaps(); len(gaps) > 0 {
		fmt.Fprintf(w, "missing: %s\n", strings.Join(gaps, ", "))
	}

	switch s.Pattern() {
	case desk.PatternFanOut:
		v := agents.Consensus(s.Responses())
		fmt.Fprintf(w, "consensus: %s (BUY %d, HOLD %d, SELL %d) confidence %.2f +/- %.2f\n",
			v.Action, v.Tally[agents.Buy], v.Tally[agents.Hold], v.Tally[agents.Sell],
			v.MeanConfidence, v.StdConfidence)
	case desk.PatternPlan:
		final, ok := s.Final()
		if !ok || final.PayloadString(patterns.PayloadDecision) == "" {
			return
		}
		fmt.Fprintf(w, "decision: %s (confidence %s)\n",
			final.PayloadString(patterns.PayloadDecision),
			final.PayloadString(patterns.PayloadDecisionConfidence))
		if summary := final.PayloadString(patterns.PayloadSummary); summary != "" {
			fmt.Fprintf(w, "summary: %s\n", summary)
		}
	}
}
