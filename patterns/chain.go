package patterns

import (
	"context"
	"fmt"

	"github.com/scttfrdmn/investdesk/desk"
)

// runChain feeds each agent the previous agent's reply. The first failure
// ends the session.
func runChain(ctx context.Context, r *run, seed desk.Message, rule ChainRule) error {
	current := seed
	for i, name := range rule.Agents {
		reply, err := r.step(ctx, name, current)
		if err != nil {
			r.failStep(ctx, fmt.Sprintf("stage %d (%s)", i+1, name), err)
			return nil
		}
		current = reply
		r.continuing()
	}
	r.complete("")
	return nil
}
