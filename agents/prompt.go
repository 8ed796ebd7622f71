package agents

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scttfrdmn/investdesk/desk"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Renderer turns an input message into the user turn sent to the model.
type Renderer func(input desk.Message) string

// ContentRenderer sends the message content unchanged.
func ContentRenderer(input desk.Message) string {
	return input.Content
}

var titleCaser = cases.Title(language.English)

// ServiceTitle converts a service id such as "fundamental_analyst" into
// "Fundamental Analyst".
func ServiceTitle(serviceID string) string {
	return titleCaser.String(strings.ReplaceAll(serviceID, "_", " "))
}

// TaskPrompt renders an analysis request addressed to serviceID:
//
//	Task for Fundamental Analyst:
//	Company: TechCorp Inc.
//	Data: {debt_to_equity: 0.3, revenue: $10B}
//
// Company and data are read from the "company" and "financial_data" payload
// keys; messages without them fall back to their content.
func TaskPrompt(serviceID string) Renderer {
	title := ServiceTitle(serviceID)
	return func(input desk.Message) string {
		company := input.PayloadString("company")
		data, hasData := input.Payload["financial_data"]
		if company == "" && !hasData {
			return fmt.Sprintf("Task for %s:\n%s", title, input.Content)
		}
		return fmt.Sprintf("Task for %s:\nCompany: %s\nData: %s", title, company, formatData(data))
	}
}

// formatData renders maps with sorted keys so prompts are stable.
func formatData(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		if data == nil {
			return "{}"
		}
		return fmt.Sprint(data)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
