package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/scttfrdmn/investdesk/desk"
)

func advisoryRule() HandoffRule {
	return HandoffRule{
		Triage: "TriageAdvisor",
		Routes: []Route{
			{Target: "EquitySpecialist", Keywords: []string{"invest", "stock", "equity"}, ReturnKeywords: []string{"back to triage"}},
			{Target: "HumanAdvisor", Keywords: []string{"refund", "complaint"}},
		},
		Default: "HumanAdvisor",
		MaxHops: 3,
	}
}

func TestHandoff_RoutesToSpecialist(t *testing.T) {
	equity := okAgent("EquitySpecialist")
	human := okAgent("HumanAdvisor")
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), equity, human)

	s, err := o.Run(context.Background(), desk.NewMessage("HR-001", "I want to invest in stocks"), advisoryRule())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if s.Status() != desk.StatusComplete {
		t.Fatalf("Expected complete, got %s (%s)", s.Status(), s.Reason())
	}
	if !equalStrings(senders(s.History()), []string{"user", "TriageAdvisor", "EquitySpecialist"}) {
		t.Errorf("Unexpected history %v", senders(s.History()))
	}
	if len(human.Calls()) != 0 {
		t.Error("Only one target should be called")
	}
	calls := equity.Calls()
	if len(calls) != 1 || calls[0].PayloadString(PayloadHandoffTarget) != "EquitySpecialist" {
		t.Errorf("Expected handoff payload on target input, got %+v", calls)
	}
}

func TestHandoff_FallsBackToDefault(t *testing.T) {
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), okAgent("EquitySpecialist"), okAgent("HumanAdvisor"))

	s, err := o.Run(context.Background(), desk.NewMessage("HR-002", "What are your opening hours?"), advisoryRule())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	final, _ := s.Final()
	if final.Sender != "HumanAdvisor" {
		t.Errorf("Expected default target, got %s", final.Sender)
	}
}

func TestHandoff_ClassifiesTriageReply(t *testing.T) {
	triage := &extendedMockAgent{name: "TriageAdvisor", response: "This sounds like a refund request."}
	o := newStartedOrchestrator(t, Config{}, triage, okAgent("EquitySpecialist"), okAgent("HumanAdvisor"))

	rule := advisoryRule()
	rule.Default = ""
	s, err := o.Run(context.Background(), desk.NewMessage("HR-003", "My order went wrong"), rule)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	final, _ := s.Final()
	if final.Sender != "HumanAdvisor" {
		t.Errorf("Expected route from triage reply, got %s", final.Sender)
	}
}

func TestHandoff_NoRouteFails(t *testing.T) {
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), okAgent("EquitySpecialist"), okAgent("HumanAdvisor"))

	rule := advisoryRule()
	rule.Default = ""
	s, err := o.Run(context.Background(), desk.NewMessage("HR-004", "hello"), rule)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Status() != desk.StatusFailed {
		t.Errorf("Expected failed, got %s", s.Status())
	}
}

func TestHandoff_HopBoundIsConfigurationError(t *testing.T) {
	bouncer := &extendedMockAgent{name: "EquitySpecialist", response: "Not my area, sending you back to triage about your stock."}
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), bouncer, okAgent("HumanAdvisor"))

	s, err := o.Run(context.Background(), desk.NewMessage("HR-005", "equity question"), advisoryRule())
	var cfgErr *desk.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if s == nil {
		t.Fatal("Expected the failed session to be returned")
	}
	if s.Status() != desk.StatusFailed {
		t.Errorf("Expected failed, got %s", s.Status())
	}
	// Three transfers are allowed: triage, specialist, triage, specialist.
	want := []string{"user", "TriageAdvisor", "EquitySpecialist", "TriageAdvisor", "EquitySpecialist"}
	if got := senders(s.History()); !equalStrings(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestHandoff_RejectsNonPositiveHopBound(t *testing.T) {
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), okAgent("EquitySpecialist"), okAgent("HumanAdvisor"))

	rule := advisoryRule()
	rule.MaxHops = 0
	s, err := o.Run(context.Background(), desk.NewMessage("HR-006", "invest"), rule)
	if !desk.IsConfigurationError(err) || s != nil {
		t.Errorf("Expected pre-dispatch configuration error, got %v %v", s, err)
	}
}

func TestHandoff_CustomClassifier(t *testing.T) {
	o := newStartedOrchestrator(t, Config{}, okAgent("TriageAdvisor"), okAgent("EquitySpecialist"), okAgent("HumanAdvisor"))

	rule := advisoryRule()
	rule.Classify = ClassifierFunc(func(string, []Route) (string, bool) { return "EquitySpecialist", true })
	s, err := o.Run(context.Background(), desk.NewMessage("HR-007", "refund please"), rule)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	final, _ := s.Final()
	if final.Sender != "EquitySpecialist" {
		t.Errorf("Expected custom classifier choice, got %s", final.Sender)
	}
}

func TestKeywordClassifier(t *testing.T) {
	routes := advisoryRule().Routes
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"most hits wins", "refund for my stock complaint", "HumanAdvisor", true},
		{"case insensitive", "EQUITY markets", "EquitySpecialist", true},
		{"tie goes to first route", "stock refund", "EquitySpecialist", true},
		{"no match", "hello there", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeywordClassifier{}.Classify(tt.text, routes)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Classify(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
