package patterns

import (
	"context"
	"fmt"

	"github.com/scttfrdmn/investdesk/desk"
)

// Payload keys set on handoff replies.
const (
	PayloadHandoffTarget = "handoff_target"
	PayloadHop           = "hop"
)

// runHandoff lets the triage agent answer, classifies the request and
// transfers control to exactly one target. A target whose reply mentions one
// of its route's return keywords hands control back to triage. Every
// transfer counts as a hop; exceeding MaxHops is a configuration error.
func runHandoff(ctx context.Context, r *run, seed desk.Message, rule HandoffRule) error {
	classifier := rule.Classify
	if classifier == nil {
		classifier = KeywordClassifier{}
	}

	input := seed
	hops := 0
	transfer := func(from, to string) error {
		hops++
		if hops <= rule.MaxHops {
			r.logger.InfoContext(ctx, "handoff",
				"correlation_id", r.s.CorrelationID(), "agent", to, "from", from, "hop", hops)
			return nil
		}
		err := desk.NewConfigurationError("handoff exceeded its hop bound",
			map[string]any{"max_hops": rule.MaxHops, "from": from, "to": to})
		r.s.Fail(err.Error(), err)
		return err
	}

	for {
		triaged, err := r.step(ctx, rule.Triage, input)
		if err != nil {
			r.failStep(ctx, fmt.Sprintf("triage (%s)", rule.Triage), err)
			return nil
		}

		target, ok := classifier.Classify(input.Content, rule.Routes)
		if !ok {
			target, ok = classifier.Classify(triaged.Content, rule.Routes)
		}
		if !ok {
			target = rule.Default
		}
		if target == "" {
			r.s.Fail("triage could not route the request", nil)
			return nil
		}
		if !r.o.Has(target) || target == rule.Triage {
			err := desk.NewConfigurationError("classifier chose an invalid handoff target",
				map[string]any{"agent": target})
			r.s.Fail(err.Error(), err)
			return err
		}

		if err := transfer(rule.Triage, target); err != nil {
			return err
		}
		r.continuing()

		handoff := triaged.WithPayload(PayloadHandoffTarget, target).WithPayload(PayloadHop, hops)
		reply, err := r.step(ctx, target, handoff)
		if err != nil {
			r.failStep(ctx, fmt.Sprintf("handoff target (%s)", target), err)
			return nil
		}

		route, _ := rule.route(target)
		if !mentionsAny(reply.Content, route.ReturnKeywords) {
			r.complete(fmt.Sprintf("handled by %s", target))
			return nil
		}

		if err := transfer(target, rule.Triage); err != nil {
			return err
		}
		r.continuing()
		input = reply
	}
}
