package scenarios

import (
	"sort"

	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/patterns"
)

// InvestmentRequest asks analysts for independent calls on one company.
type InvestmentRequest struct {
	Company       string         `json:"company"`
	FinancialData map[string]any `json:"financial_data"`
	RequestID     string         `json:"request_id"`
}

func (r InvestmentRequest) CorrelationID() string { return r.RequestID }

// InvestmentProposal is put before the investment committee.
type InvestmentProposal struct {
	Company         string         `json:"company"`
	ProposalDetails map[string]any `json:"proposal_details"`
	SessionID       string         `json:"session_id"`
}

func (p InvestmentProposal) CorrelationID() string { return p.SessionID }

// ConsultationRequest is a client inquiry awaiting triage.
type ConsultationRequest struct {
	Company   string `json:"company"`
	Inquiry   string `json:"inquiry"`
	RequestID string `json:"request_id"`
}

func (c ConsultationRequest) CorrelationID() string { return c.RequestID }

// InvestmentTask is the briefing passed down the analysis pipeline.
type InvestmentTask struct {
	Company       string         `json:"company"`
	InitialData   map[string]any `json:"initial_data"`
	AnalysisChain []string       `json:"analysis_chain,omitempty"`
	SessionID     string         `json:"session_id"`
}

func (t InvestmentTask) CorrelationID() string { return t.SessionID }

// InvestmentQuery is an open question for the planner.
type InvestmentQuery struct {
	Query     string         `json:"query"`
	Context   map[string]any `json:"context"`
	SessionID string         `json:"session_id"`
}

func (q InvestmentQuery) CorrelationID() string { return q.SessionID }

var catalog = map[string]func() *Desk{
	"concurrent": Concurrent,
	"groupchat":  GroupChat,
	"handoff":    Handoff,
	"sequential": Sequential,
	"magnetic":   Magnetic,
}

// Names lists the built-in desks in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh copy of the named built-in desk.
func Lookup(name string) (*Desk, bool) {
	build, ok := catalog[name]
	if !ok {
		return nil, false
	}
	return build(), true
}

// Concurrent fans a TechCorp request out to three analysts.
func Concurrent() *Desk {
	return &Desk{
		Name:        "concurrent",
		Description: "Independent fundamental, technical and sentiment calls on TechCorp Inc.",
		Agents: []desk.AgentSpec{
			{
				Name:      "FundamentalAnalyst",
				ServiceID: "fundamental_analyst",
				RolePrompt: "You are a Fundamental Investment Analyst. " +
					"Analyze financial statements, revenue growth, profitability ratios, debt levels, " +
					"and valuation multiples. " +
					"Provide your findings as a bullet list and conclude with BUY/HOLD/SELL.",
			},
			{
				Name:      "TechnicalAnalyst",
				ServiceID: "technical_analyst",
				RolePrompt: "You are a Technical Investment Analyst. " +
					"Assess price charts, moving averages, RSI, MACD, and volume trends. " +
					"Summarize your technical signals and conclude with BUY/HOLD/SELL.",
			},
			{
				Name:      "SentimentAnalyst",
				ServiceID: "sentiment_analyst",
				RolePrompt: "You are a Sentiment Investment Analyst. " +
					"Evaluate recent news headlines, social media sentiment, and market mood. " +
					"Provide sentiment score (positive/neutral/negative) and a recommendation.",
			},
		},
		Rule: patterns.RuleSpec{
			Pattern: desk.PatternFanOut,
			Agents:  []string{"FundamentalAnalyst", "TechnicalAnalyst", "SentimentAnalyst"},
		},
		Task: InvestmentRequest{
			Company: "TechCorp Inc.",
			FinancialData: map[string]any{
				"revenue":        "$10B",
				"profit_margin":  "15%",
				"debt_to_equity": "0.3",
				"price_data":     "Upward trend, RSI: 45, Moving averages bullish",
				"news_sentiment": "Recent product launch received positive reviews, strong Q3 earnings",
			},
			RequestID: "INV-2024-001",
		},
		Recommend: true,
	}
}

// GroupChat runs a moderated committee on the CleanEnergy proposal.
func GroupChat() *Desk {
	return &Desk{
		Name:        "groupchat",
		Description: "Investment committee debating a growth equity proposal.",
		Agents: []desk.AgentSpec{
			{
				Name:        "Moderator",
				Description: "Investment Committee Moderator agent",
				RolePrompt: "You are the Investment Committee Moderator. " +
					"Manage turn order, prompt agents to speak, and keep discussion on track. " +
					"After each round, summarize key points.",
			},
			{
				Name:        "FundamentalAnalyst",
				Description: "Agent analyzing financials and valuations",
				RolePrompt: "You are a Fundamental Analyst. " +
					"Critically analyze company financials, valuation, and risks. " +
					"Respond in 2-3 bullet points.",
			},
			{
				Name:        "RiskManager",
				Description: "Agent identifying and quantifying key risks",
				RolePrompt: "You are a Risk Manager. " +
					"Identify and quantify key risks, mitigation strategies, and risk-adjusted returns. " +
					"Respond in 2-3 bullet points.",
			},
		},
		Rule: patterns.RuleSpec{
			Pattern:   desk.PatternRoundRobin,
			Agents:    []string{"FundamentalAnalyst", "RiskManager"},
			Moderator: "Moderator",
			MaxRounds: 5,
		},
		Task: InvestmentProposal{
			Company: "CleanEnergy Innovations Ltd.",
			ProposalDetails: map[string]any{
				"type":            "Growth Equity Investment",
				"amount":          "$50M",
				"sector":          "Renewable Energy",
				"expected_return": "18-22% IRR",
				"risk_level":      "Medium-High",
				"time_horizon":    "5-7 years",
				"key_metrics": map[string]any{
					"revenue_growth":       "45% CAGR",
					"market_opportunity":   "$500B by 2030",
					"competitive_position": "Patent-protected technology",
				},
			},
			SessionID: "COMMITTEE-2024-Q4-001",
		},
	}
}

// Handoff routes a client inquiry through a triage advisor.
func Handoff() *Desk {
	return &Desk{
		Name:        "handoff",
		Description: "Triage advisor routing equity questions and complex cases.",
		Agents: []desk.AgentSpec{
			{
				Name: "TriageAdvisor",
				RolePrompt: "You are the Triage Advisor. " +
					"Read customer queries, classify into equity or complex. " +
					"Return the best advisor role to hand off to.",
			},
			{
				Name: "EquitySpecialist",
				RolePrompt: "You are the Equity Specialist. " +
					"Provide stock analysis, recommendation, and next steps for equity queries. " +
					"Focus on price, valuation, and market catalysts. " +
					"If the question is outside equities, say: back to triage.",
			},
			{
				Name: "HumanAdvisor",
				RolePrompt: "You are the Human Advisor. " +
					"Handle questions that AI cannot. " +
					"Provide clear, empathetic guidance or escalate as needed.",
			},
		},
		Rule: patterns.RuleSpec{
			Pattern: desk.PatternHandoff,
			Triage:  "TriageAdvisor",
			Routes: []patterns.RouteSpec{
				{
					Target:         "EquitySpecialist",
					Keywords:       []string{"invest", "stock", "equity"},
					ReturnKeywords: []string{"back to triage"},
				},
				{Target: "HumanAdvisor", Keywords: []string{"refund"}},
			},
			Default: "HumanAdvisor",
			MaxHops: 3,
		},
		Task: ConsultationRequest{
			Company:   "TechCorp",
			Inquiry:   "I want to invest in stocks",
			RequestID: "HR-001",
		},
	}
}

// Sequential passes a GreenTech briefing through a three stage pipeline.
func Sequential() *Desk {
	stages := []string{"DataCollector", "FundamentalAnalyst", "ReportGenerator"}
	return &Desk{
		Name:        "sequential",
		Description: "Data collection, fundamental analysis and executive report.",
		Agents: []desk.AgentSpec{
			{
				Name: "DataCollector",
				RolePrompt: "You are an Investment Data Collector. " +
					"Given a company name and initial briefing, gather, verify, and structure key financial metrics: " +
					"revenue, profit margin, debt ratios, recent price trends, analyst coverage, and relevant news. " +
					"Output as a JSON-like object or bullet list with metric names and values.",
			},
			{
				Name: "FundamentalAnalyst",
				RolePrompt: "You are a Fundamental Investment Analyst. " +
					"Using the collected data, analyze financial health, business model strength, competitive position, " +
					"growth prospects, and valuation. Identify key risks and opportunities. " +
					"Conclude with a recommendation (BUY/HOLD/SELL) and a brief rationale (1-2 sentences).",
			},
			{
				Name: "ReportGenerator",
				RolePrompt: "You are an Investment Report Generator. " +
					"Compose a concise executive summary of the analysis. " +
					"List key findings as bullet points, state the final recommendation clearly, " +
					"and provide supporting rationale in professional language.",
			},
		},
		Rule: patterns.RuleSpec{Pattern: desk.PatternChain, Agents: stages},
		Task: InvestmentTask{
			Company: "GreenTech Solutions Inc.",
			InitialData: map[string]any{
				"sector":           "Renewable Energy",
				"market_cap":       "$5B",
				"recent_price":     "$45.20",
				"analyst_coverage": "Strong",
				"news_flow":        "Positive - major contract wins",
			},
			AnalysisChain: stages,
			SessionID:     "SEQ-2024-001",
		},
	}
}

// Magnetic plans a TSLA analysis, runs it on specialists and synthesizes a
// decision.
func Magnetic() *Desk {
	return &Desk{
		Name:        "magnetic",
		Description: "Planner decomposes the query, specialists execute, orchestrator decides.",
		Agents: []desk.AgentSpec{
			{
				Name:        "Planner",
				Description: "Convert the investment query into a JSON array of tasks.",
				RolePrompt: "You are the Investment Planner. " +
					"Convert the investment query into a JSON array of tasks with fields: " +
					"`task_id`, `description`, `specialist`, `dependencies`. " +
					"Use these specialists where they fit: Fundamental Analyst, Technical Analyst, " +
					"Sentiment Analyst, Risk Analyst. Reply with the JSON array only.",
			},
			{
				Name:       "FundamentalAnalyst",
				RolePrompt: "You are a Fundamental Analyst. Complete the task using financials, growth and valuation.",
			},
			{
				Name:       "TechnicalAnalyst",
				RolePrompt: "You are a Technical Analyst. Complete the task using price action and market signals.",
			},
			{
				Name:       "SentimentAnalyst",
				RolePrompt: "You are a Sentiment Analyst. Complete the task using news flow and market mood.",
			},
			{
				Name:       "RiskAnalyst",
				RolePrompt: "You are a Risk Analyst. Complete the task by identifying and sizing the key risks.",
			},
			{
				Name:       "GeneralAnalyst",
				RolePrompt: "You are a generalist investment researcher. Complete the task concisely.",
			},
			{
				Name:        "Orchestrator",
				Description: "Produce the final recommendation from the completed task results.",
				RolePrompt: "You are the Investment Orchestrator. " +
					"Receive completed task results, then produce a final recommendation: " +
					"`decision`, `confidence`, and `summary`. Reply with a JSON object.",
			},
		},
		Rule: patterns.RuleSpec{
			Pattern:     desk.PatternPlan,
			Planner:     "Planner",
			Synthesizer: "Orchestrator",
			Worker:      "GeneralAnalyst",
			MaxTasks:    12,
		},
		Task: InvestmentQuery{
			Query: "Should we invest in Tesla (TSLA) for our growth portfolio? Analyze the investment " +
				"opportunity considering current valuation, market position, and long-term prospects.",
			Context: map[string]any{
				"portfolio_type":     "growth",
				"investment_horizon": "3-5 years",
				"risk_tolerance":     "moderate-high",
				"current_holdings":   "diversified tech portfolio",
				"investment_amount":  "$100,000",
			},
			SessionID: "MAGNETIC-2024-001",
		},
	}
}
