package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/scttfrdmn/investdesk/agents"
	"github.com/scttfrdmn/investdesk/desk"
)

// Task is one step of a plan.
type Task struct {
	ID           string   `json:"task_id" yaml:"task_id"`
	Description  string   `json:"description" yaml:"description"`
	Specialist   string   `json:"specialist" yaml:"specialist"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Payload keys set on plan messages.
const (
	PayloadTaskID       = "task_id"
	PayloadSpecialist   = "specialist"
	PayloadDependencies = "dependencies"
	PayloadSummary      = "summary"

	// The synthesizer's verdict is free text ("Invest", "High"), so it is kept
	// apart from the BUY/HOLD/SELL keys analysts carry.
	PayloadDecision           = "decision"
	PayloadDecisionConfidence = "decision_confidence"
)

// ParsePlan reads a JSON array of tasks from a planner reply. Markdown code
// fences and prose around the array are ignored. Task ids may be strings or
// numbers.
func ParsePlan(text string) ([]Task, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, desk.NewConfigurationError("planner reply contains no task list", nil)
	}

	var raw []struct {
		ID           json.RawMessage   `json:"task_id"`
		Description  string            `json:"description"`
		Specialist   string            `json:"specialist"`
		Dependencies []json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, desk.NewConfigurationError("planner reply is not a valid task list",
			map[string]any{"error": err.Error()})
	}

	tasks := make([]Task, 0, len(raw))
	for i, r := range raw {
		id := rawID(r.ID)
		if id == "" {
			return nil, desk.NewConfigurationError("task without task_id", map[string]any{"index": i})
		}
		task := Task{ID: id, Description: r.Description, Specialist: r.Specialist}
		for _, dep := range r.Dependencies {
			if d := rawID(dep); d != "" {
				task.Dependencies = append(task.Dependencies, d)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// OrderTasks checks that task ids are unique, that every dependency names a
// task in the list and that the graph has no cycle. It returns the tasks in
// execution order: at each step the first task in declaration order whose
// dependencies are done. A positive maxTasks bounds the plan size.
func OrderTasks(tasks []Task, maxTasks int) ([]Task, error) {
	if len(tasks) == 0 {
		return nil, invalidRule(desk.PatternPlan, "plan has no tasks", nil)
	}
	if maxTasks > 0 && len(tasks) > maxTasks {
		return nil, invalidRule(desk.PatternPlan, "plan has too many tasks",
			map[string]any{"tasks": len(tasks), "max_tasks": maxTasks})
	}

	index := make(map[string]int, len(tasks))
	for i, task := range tasks {
		if task.ID == "" {
			return nil, invalidRule(desk.PatternPlan, "task without task_id", map[string]any{"index": i})
		}
		if _, dup := index[task.ID]; dup {
			return nil, invalidRule(desk.PatternPlan, "duplicate task id", map[string]any{"task_id": task.ID})
		}
		index[task.ID] = i
	}

	pending := make([]int, len(tasks))
	dependents := make([][]int, len(tasks))
	for i, task := range tasks {
		for _, dep := range task.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, invalidRule(desk.PatternPlan, "unknown task dependency",
					map[string]any{"task_id": task.ID, "dependency": dep})
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(tasks))
	order := make([]Task, 0, len(tasks))
	for len(order) < len(tasks) {
		next := -1
		for i := range tasks {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, task := range tasks {
				if !done[i] {
					stuck = append(stuck, task.ID)
				}
			}
			return nil, invalidRule(desk.PatternPlan, "task dependencies form a cycle",
				map[string]any{"tasks": strings.Join(stuck, ",")})
		}
		done[next] = true
		order = append(order, tasks[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return order, nil
}

// resolveSpecialist maps a planner's specialist label to a registered agent.
// "Fundamental Analyst" matches an agent named FundamentalAnalyst.
func resolveSpecialist(reg Registry, specialist string) (string, bool) {
	if specialist == "" {
		return "", false
	}
	if reg.Has(specialist) {
		return specialist, true
	}
	want := normalizeName(specialist)
	for _, name := range reg.Names() {
		if normalizeName(name) == want {
			return name, true
		}
	}
	return "", false
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// taskMessage builds the input for one task: the task itself, the original
// request and the results of the tasks it depends on.
func taskMessage(seed desk.Message, task Task, results map[string]desk.Message) desk.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", task.ID, task.Description)
	fmt.Fprintf(&b, "Original request: %s", seed.Content)

	deps := make(map[string]any, len(task.Dependencies))
	if len(task.Dependencies) > 0 {
		b.WriteString("\nResults from dependencies:")
		for _, id := range task.Dependencies {
			result := results[id]
			fmt.Fprintf(&b, "\n[Task %s - %s]: %s", id, result.Sender, result.Content)
			deps[id] = result.Content
		}
	}

	msg := desk.Message{
		Sender:        seed.Sender,
		Role:          desk.RoleUser,
		Content:       b.String(),
		CorrelationID: seed.CorrelationID,
	}
	msg = msg.WithPayload(PayloadTaskID, task.ID)
	if task.Specialist != "" {
		msg = msg.WithPayload(PayloadSpecialist, task.Specialist)
	}
	if len(deps) > 0 {
		msg = msg.WithPayload(PayloadDependencies, deps)
	}
	return msg
}

// synthesisMessage gives the synthesizer every task result in execution
// order.
func synthesisMessage(seed desk.Message, order []assignment, results map[string]desk.Message) desk.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\nCompleted task results:", seed.Content)
	for _, a := range order {
		result := results[a.task.ID]
		fmt.Fprintf(&b, "\n[Task %s - %s] %s\n%s", a.task.ID, result.Sender, a.task.Description, result.Content)
	}
	return desk.Message{
		Sender:        seed.Sender,
		Role:          desk.RoleUser,
		Content:       b.String(),
		CorrelationID: seed.CorrelationID,
	}
}

// runPlan gets a task list from the planner (or the rule), runs each task in
// dependency order and hands the results to the synthesizer. A failed task
// ends the session; an invalid plan is a configuration error.
func runPlan(ctx context.Context, r *run, seed desk.Message, rule PlanRule) error {
	tasks := rule.Tasks
	if rule.Planner != "" {
		planned, err := r.step(ctx, rule.Planner, seed)
		if err != nil {
			r.failStep(ctx, fmt.Sprintf("planner (%s)", rule.Planner), err)
			return nil
		}
		tasks, err = ParsePlan(planned.Content)
		if err != nil {
			r.s.Fail(err.Error(), err)
			return err
		}
		r.continuing()
	}

	order, err := rule.schedule(r.o, tasks)
	if err != nil {
		r.s.Fail(err.Error(), err)
		return err
	}
	r.logger.InfoContext(ctx, "plan scheduled",
		"correlation_id", r.s.CorrelationID(), "tasks", len(order))

	results := make(map[string]desk.Message, len(order))
	for _, a := range order {
		reply, err := r.dispatch(ctx, a.agent, taskMessage(seed, a.task, results))
		if err != nil {
			r.append(seed.FailedReply(a.agent, err).WithPayload(PayloadTaskID, a.task.ID))
			r.failStep(ctx, fmt.Sprintf("task %s (%s)", a.task.ID, a.agent), err)
			return nil
		}
		reply, err = r.record(reply.WithPayload(PayloadTaskID, a.task.ID))
		if err != nil {
			return err
		}
		results[a.task.ID] = reply
		r.continuing()
	}

	if rule.Synthesizer == "" {
		r.complete(fmt.Sprintf("%d tasks completed", len(order)))
		return nil
	}

	reply, err := r.dispatch(ctx, rule.Synthesizer, synthesisMessage(seed, order, results))
	if err != nil {
		r.append(seed.FailedReply(rule.Synthesizer, err))
		r.failStep(ctx, fmt.Sprintf("synthesizer (%s)", rule.Synthesizer), err)
		return nil
	}
	if decision, ok := agents.ParseDecision(reply.Content); ok {
		reply = reply.
			WithPayload(PayloadDecision, decision.Decision).
			WithPayload(PayloadDecisionConfidence, decision.Confidence).
			WithPayload(PayloadSummary, decision.Summary)
	}
	if _, err := r.record(reply); err != nil {
		return err
	}
	r.complete("")
	return nil
}
