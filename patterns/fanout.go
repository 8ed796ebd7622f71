package patterns

import (
	"context"
	"fmt"
	"sync"

	"github.com/scttfrdmn/investdesk/desk"
)

type fanOutResult struct {
	index int
	reply desk.Message
	err   error
}

// runFanOut calls every agent concurrently with the seed message. Replies
// are reported to the response callback as they arrive but appended to the
// history in declaration order, so the same inputs always give the same
// history. Agents that fail or time out become failed entries and gaps.
func runFanOut(ctx context.Context, r *run, seed desk.Message, rule FanOutRule) error {
	if err := r.enter(desk.StatusDispatching); err != nil {
		return err
	}

	timeout := rule.AgentTimeout
	if timeout == 0 {
		timeout = r.o.cfg.AgentTimeout
	}

	n := len(rule.Agents)
	resultsCh := make(chan fanOutResult, n)
	var wg sync.WaitGroup
	for i, name := range rule.Agents {
		wg.Add(1)
		go func(index int, name string) {
			defer wg.Done()
			reply, err := r.call(ctx, name, seed, timeout)
			resultsCh <- fanOutResult{index: index, reply: reply, err: err}
		}(i, name)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	if err := r.enter(desk.StatusAwaitingResponses); err != nil {
		return err
	}

	results := make([]*fanOutResult, n)
	received := 0
	accept := func(res fanOutResult) {
		results[res.index] = &res
		received++
		if res.err == nil {
			r.notify(res.reply)
		}
	}

collect:
	for received < n {
		select {
		case res, ok := <-resultsCh:
			if !ok {
				break collect
			}
			accept(res)
		case <-ctx.Done():
			// Keep whatever already arrived.
			for {
				select {
				case res, ok := <-resultsCh:
					if !ok {
						break collect
					}
					accept(res)
				default:
					break collect
				}
			}
		}
	}

	responded := 0
	for i, name := range rule.Agents {
		res := results[i]
		switch {
		case res == nil:
			r.append(seed.FailedReply(name, desk.NewServiceError(name, context.Cause(ctx))))
			r.s.AddGap(name)
		case res.err != nil:
			r.append(seed.FailedReply(name, res.err))
			r.s.AddGap(name)
		default:
			r.append(res.reply)
			responded++
		}
	}

	if received < n || ctx.Err() != nil {
		r.failContext(ctx)
		return nil
	}
	if responded == 0 {
		r.s.Fail(fmt.Sprintf("all %d agents failed", n), r.s.PartialFailure(n))
		return nil
	}
	if pf := r.s.PartialFailure(n); pf != nil {
		r.complete(pf.Error())
		return nil
	}
	r.complete("")
	return nil
}
