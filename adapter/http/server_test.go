package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/memory"
	"github.com/scttfrdmn/investdesk/patterns"
)

type sessionBody struct {
	CorrelationID string         `json:"correlation_id"`
	Pattern       string         `json:"pattern"`
	Status        string         `json:"status"`
	History       []desk.Message `json:"history"`
}

func okAgent(name string) desk.Agent {
	return desk.AgentFunc{
		AgentName: name,
		Fn: func(ctx context.Context, input desk.Message) (desk.Message, error) {
			return input.Reply(name, name+":ok"), nil
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore(100)
	orch, err := patterns.New(patterns.Config{
		Agents: []desk.Agent{okAgent("Fundamental"), okAgent("Technical"), okAgent("Sentiment")},
		Store:  store,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := orch.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { orch.Stop(context.Background()) })

	ts := httptest.NewServer(NewServer(orch, store, "", nil).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func post(t *testing.T, ts *httptest.Server, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var data map[string]any
	decode(t, resp.Body, &data)
	if data["status"] != "healthy" || data["version"] != Version {
		t.Errorf("Unexpected health response %v", data)
	}
	if agents, _ := data["agents"].([]any); len(agents) != 3 {
		t.Errorf("Expected 3 agents, got %v", data["agents"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitAndFetch(t *testing.T) {
	ts, store := newTestServer(t)

	resp := post(t, ts, `{
		"rule": {"pattern": "fan_out", "agents": ["Fundamental", "Technical", "Sentiment"]},
		"message": {"company": "TechCorp", "fields": {"revenue": "$10B"}},
		"correlation_id": "INV-2024-001"
	}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got sessionBody
	decode(t, resp.Body, &got)
	if got.Status != "complete" || got.CorrelationID != "INV-2024-001" || len(got.History) != 4 {
		t.Fatalf("Unexpected session %+v", got)
	}
	for i, want := range []string{"Fundamental:ok", "Technical:ok", "Sentiment:ok"} {
		if got.History[i+1].Content != want {
			t.Errorf("Entry %d: expected %q, got %q", i+1, want, got.History[i+1].Content)
		}
	}
	if store.Len() != 1 {
		t.Errorf("Expected stored session, store has %d", store.Len())
	}

	fetched, err := http.Get(ts.URL + "/v1/sessions/INV-2024-001")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer fetched.Body.Close()
	var stored sessionBody
	decode(t, fetched.Body, &stored)
	if fetched.StatusCode != http.StatusOK || stored.Status != "complete" || len(stored.History) != 4 {
		t.Errorf("Unexpected stored session %d %+v", fetched.StatusCode, stored)
	}

	list, err := http.Get(ts.URL + "/v1/sessions?limit=10")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer list.Body.Close()
	var summaries []memory.Summary
	decode(t, list.Body, &summaries)
	if len(summaries) != 1 || summaries[0].CorrelationID != "INV-2024-001" {
		t.Errorf("Unexpected summaries %+v", summaries)
	}
}

func TestSubmit_CorrelationHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := post(t, ts, `{"rule": {"pattern": "chain", "agents": ["Fundamental", "Technical"]}, "message": "analyze TechCorp"}`,
		http.Header{CorrelationHeader: {"SEQ-7"}})
	var got sessionBody
	decode(t, resp.Body, &got)
	if got.CorrelationID != "SEQ-7" || got.History[0].Content != "analyze TechCorp" {
		t.Errorf("Unexpected session %+v", got)
	}
	if got.History[2].Sender != "Technical" {
		t.Errorf("Expected Technical last, got %s", got.History[2].Sender)
	}
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		errSub string
	}{
		{"malformed body", `{"rule":`, http.StatusBadRequest, "invalid request body"},
		{"unknown pattern", `{"rule": {"pattern": "vote"}, "message": "x"}`, http.StatusUnprocessableEntity, "unsupported"},
		{"unknown agent", `{"rule": {"pattern": "chain", "agents": ["Ghost"]}, "message": "x"}`, http.StatusUnprocessableEntity, "unknown"},
		{"missing message", `{"rule": {"pattern": "chain", "agents": ["Fundamental"]}}`, http.StatusUnprocessableEntity, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, store := newTestServer(t)
			resp := post(t, ts, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body map[string]any
			decode(t, resp.Body, &body)
			msg, _ := body["error"].(string)
			if !strings.Contains(strings.ToLower(msg), tt.errSub) {
				t.Errorf("Expected error containing %q, got %q", tt.errSub, msg)
			}
			if store.Len() != 0 {
				t.Error("Rejected submissions must not be stored")
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func TestStream(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialStream(t, ts)

	err := conn.WriteJSON(SubmitRequest{
		Rule:          patterns.RuleSpec{Pattern: desk.PatternChain, Agents: []string{"Fundamental", "Technical"}},
		Message:       map[string]any{"company": "GreenTech Solutions Inc."},
		CorrelationID: "SEQ-2024-001",
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var senders []string
	for {
		var ev rawEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if ev.Type == EventSession {
			var s sessionBody
			if err := json.Unmarshal(ev.Payload, &s); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if s.Status != "complete" || len(s.History) != 3 {
				t.Errorf("Unexpected final session %+v", s)
			}
			break
		}
		if ev.Type != EventMessage {
			t.Fatalf("Unexpected event %s: %s", ev.Type, ev.Payload)
		}
		var m desk.Message
		if err := json.Unmarshal(ev.Payload, &m); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		senders = append(senders, m.Sender)
	}

	if strings.Join(senders, ",") != "user,Fundamental,Technical" {
		t.Errorf("Unexpected streamed senders %v", senders)
	}
}

func TestStream_ConfigurationError(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(map[string]any{
		"rule":    map[string]any{"pattern": "round_robin", "agents": []string{"Fundamental"}},
		"message": "debate",
	}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var ev struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != EventError || ev.Payload["configuration"] != true {
		t.Errorf("Expected configuration error event, got %+v", ev)
	}
}
