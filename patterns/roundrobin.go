package patterns

import (
	"context"
	"fmt"
	"strings"

	"github.com/scttfrdmn/investdesk/desk"
)

// runRoundRobin gives every agent one turn per round, always in the listed
// order, and passes the latest message on. The moderator, if any, answers
// between rounds with a summary of the transcript.
func runRoundRobin(ctx context.Context, r *run, seed desk.Message, rule RoundRobinRule) error {
	latest := seed
	turns := 0
	for round := 1; round <= rule.MaxRounds; round++ {
		for _, name := range rule.Agents {
			reply, err := r.step(ctx, name, latest)
			if err != nil {
				r.failStep(ctx, fmt.Sprintf("turn %d (%s)", turns+1, name), err)
				return nil
			}
			turns++
			latest = reply
			if rule.Done != nil && rule.Done(reply) {
				r.complete(fmt.Sprintf("%s ended the discussion after %d turns", name, turns))
				return nil
			}
			r.continuing()
		}

		if rule.Moderator == "" || round == rule.MaxRounds {
			continue
		}
		summary, err := r.step(ctx, rule.Moderator, transcriptMessage(seed, r.s.Responses(), round))
		if err != nil {
			r.failStep(ctx, fmt.Sprintf("moderator summary after round %d", round), err)
			return nil
		}
		latest = summary
		r.continuing()
	}
	r.complete("")
	return nil
}

func transcriptMessage(seed desk.Message, replies []desk.Message, round int) desk.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d is over. Summarize the key points so far.\n\nTopic: %s\n\nTranscript:",
		round, seed.Content)
	for _, reply := range replies {
		fmt.Fprintf(&b, "\n%s: %s", reply.Sender, reply.Content)
	}
	return desk.Message{
		Sender:        seed.Sender,
		Role:          desk.RoleUser,
		Content:       b.String(),
		CorrelationID: seed.CorrelationID,
	}
}
