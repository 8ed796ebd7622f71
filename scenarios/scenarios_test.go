package scenarios

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scttfrdmn/investdesk/adapter/llm"
	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/patterns"
)

var testTime = time.Date(2024, 11, 4, 9, 30, 0, 0, time.UTC)

func runDesk(t *testing.T, d *Desk) *desk.Session {
	t.Helper()
	service := llm.NewStubLLM(DemoResponder())
	s, err := d.Run(context.Background(), service, patterns.Config{Clock: desk.FixedClock(testTime)})
	if err != nil {
		t.Fatalf("Run(%s) failed: %v", d.Name, err)
	}
	return s
}

func senders(s *desk.Session) []string {
	var out []string
	for _, m := range s.History() {
		out = append(out, m.Sender)
	}
	return out
}

func TestBuiltInDesks(t *testing.T) {
	tests := []struct {
		name          string
		correlationID string
		senders       []string
		reason        string
	}{
		{
			name:          "concurrent",
			correlationID: "INV-2024-001",
			senders:       []string{"user", "FundamentalAnalyst", "TechnicalAnalyst", "SentimentAnalyst"},
		},
		{
			name:          "handoff",
			correlationID: "HR-001",
			senders:       []string{"user", "TriageAdvisor", "EquitySpecialist"},
			reason:        "handled by EquitySpecialist",
		},
		{
			name:          "sequential",
			correlationID: "SEQ-2024-001",
			senders:       []string{"user", "DataCollector", "FundamentalAnalyst", "ReportGenerator"},
		},
		{
			name:          "magnetic",
			correlationID: "MAGNETIC-2024-001",
			senders: []string{"user", "Planner",
				"FundamentalAnalyst", "TechnicalAnalyst", "SentimentAnalyst",
				"RiskAnalyst", "GeneralAnalyst", "FundamentalAnalyst", "Orchestrator"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Lookup(tt.name)
			if !ok {
				t.Fatalf("Desk %q not found", tt.name)
			}
			s := runDesk(t, d)

			if s.Status() != desk.StatusComplete {
				t.Fatalf("Expected complete, got %s (%s)", s.Status(), s.Reason())
			}
			if s.CorrelationID() != tt.correlationID {
				t.Errorf("Expected correlation id %s, got %s", tt.correlationID, s.CorrelationID())
			}
			got := senders(s)
			if strings.Join(got, ",") != strings.Join(tt.senders, ",") {
				t.Errorf("Expected senders %v, got %v", tt.senders, got)
			}
			if tt.reason != "" && s.Reason() != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, s.Reason())
			}
		})
	}
}

func TestGroupChatDesk(t *testing.T) {
	s := runDesk(t, GroupChat())

	if s.Status() != desk.StatusComplete {
		t.Fatalf("Expected complete, got %s (%s)", s.Status(), s.Reason())
	}
	// 5 rounds of 2 members plus the moderator between rounds.
	if got := len(s.Responses()); got != 14 {
		t.Errorf("Expected 14 replies, got %d", got)
	}
	moderator := 0
	for _, m := range s.Responses() {
		if m.Sender == "Moderator" {
			moderator++
		}
	}
	if moderator != 4 {
		t.Errorf("Expected 4 moderator summaries, got %d", moderator)
	}
}

func TestReport(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"concurrent", []string{"[INV-2024-001] fan_out: complete", "consensus: BUY (BUY 3, HOLD 0, SELL 0)"}},
		{"magnetic", []string{"decision: Invest (confidence High)", "summary: Growth and market position"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := Lookup(tt.name)
			s := runDesk(t, d)

			var buf bytes.Buffer
			for _, m := range s.History() {
				PrintMessage(&buf, m)
			}
			Report(&buf, s)
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("Expected %q in report:\n%s", want, out)
				}
			}
			if strings.Contains(out, "user:") {
				t.Errorf("Seed message should not be printed:\n%s", out)
			}
		})
	}
}

func TestConcurrentDeskAddressesAnalysts(t *testing.T) {
	var mu sync.Mutex
	prompts := make(map[string]string)
	demo := DemoResponder()
	service := llm.NewStubLLM(func(turns []llm.Turn) (string, error) {
		last := turns[len(turns)-1]
		mu.Lock()
		prompts[last.Name] = last.Content
		mu.Unlock()
		return demo(turns)
	})

	s, err := Concurrent().Run(context.Background(), service, patterns.Config{Clock: desk.FixedClock(testTime)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Status() != desk.StatusComplete {
		t.Fatalf("Expected complete, got %s", s.Status())
	}

	data := "Data: {debt_to_equity: 0.3, news_sentiment: Recent product launch received positive reviews, strong Q3 earnings, " +
		"price_data: Upward trend, RSI: 45, Moving averages bullish, profit_margin: 15%, revenue: $10B}"
	for agent, title := range map[string]string{
		"FundamentalAnalyst": "Fundamental Analyst",
		"TechnicalAnalyst":   "Technical Analyst",
		"SentimentAnalyst":   "Sentiment Analyst",
	} {
		want := "Task for " + title + ":\nCompany: TechCorp Inc.\n" + data
		if prompts[agent] != want {
			t.Errorf("%s prompt:\n%q\nwant\n%q", agent, prompts[agent], want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	d, err := LoadFile("testdata/dividend_desk.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if d.Name != "dividend-review" || len(d.Agents) != 2 || !d.Recommend {
		t.Fatalf("Unexpected desk %+v", d)
	}
	if d.Agents[0].RolePrompt == "" || d.Agents[0].Description == "" {
		t.Errorf("Expected instructions and description, got %+v", d.Agents[0])
	}

	seed, err := d.Seed()
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if seed.CorrelationID != "DIV-2024-007" || seed.PayloadString("company") != "Utility Holdings plc" {
		t.Errorf("Unexpected seed %+v", seed)
	}

	s := runDesk(t, d)
	if s.Status() != desk.StatusComplete || len(s.Responses()) != 2 {
		t.Fatalf("Unexpected session %s with %d replies", s.Status(), len(s.Responses()))
	}
	final, _ := s.Final()
	if final.Sender != "ReportGenerator" || final.PayloadString("recommendation") != "HOLD" {
		t.Errorf("Unexpected final reply %+v", final)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", "agents: [{name: A, instructions: x}]\nrule: {pattern: chain, agents: [A]}\ntask: hi\n"},
		{"no agents", "name: d\nrule: {pattern: chain, agents: [A]}\ntask: hi\n"},
		{"agent without prompt", "name: d\nagents: [{name: A}]\nrule: {pattern: chain, agents: [A]}\ntask: hi\n"},
		{"no task", "name: d\nagents: [{name: A, instructions: x}]\nrule: {pattern: chain, agents: [A]}\n"},
		{"unknown pattern", "name: d\nagents: [{name: A, instructions: x}]\nrule: {pattern: vote}\ntask: hi\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !desk.IsConfigurationError(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}

	if _, err := Parse([]byte("name: [unclosed")); err == nil {
		t.Error("Expected YAML error")
	}
}

func TestRoster(t *testing.T) {
	specs := Roster()
	seen := make(map[string]bool)
	for _, spec := range specs {
		if seen[spec.Name] {
			t.Errorf("Duplicate agent %s", spec.Name)
		}
		seen[spec.Name] = true
	}
	for _, name := range []string{"TriageAdvisor", "Planner", "Moderator", "DataCollector", "FundamentalAnalyst"} {
		if !seen[name] {
			t.Errorf("Expected %s in roster", name)
		}
	}
	if _, ok := Lookup("unknown"); ok {
		t.Error("Unknown desk should not be found")
	}
	if names := Names(); len(names) != 5 || names[0] != "concurrent" {
		t.Errorf("Unexpected names %v", names)
	}
}
