package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agentsup.dev/supervisor/common/llm"
	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

// llmPlanResponse is the structured-output shape the LLM is constrained to;
// Data stays a loose map so jsonschema reflection doesn't choke on
// action.Action's json.RawMessage field.
type llmPlanResponse struct {
	Reason             string           `json:"reason" jsonschema_description:"Why this plan was chosen"`
	Actions            []llmActionEntry `json:"actions" jsonschema_description:"Ordered list of at most 4 actions"`
	FinalResponseStyle string           `json:"final_response_style" jsonschema:"enum=concise,enum=detailed"`
}

type llmActionEntry struct {
	Type string         `json:"type" jsonschema_description:"One of the declared action types"`
	Data map[string]any `json:"data"`
}

var planSchema = llm.GenerateSchema[llmPlanResponse]()

// explicitPlannerRequest keywords: the user asked by name for the planner provider.
var explicitPlannerRequest = []string{"use the planner", "ask the planner", "planner agent"}

// Planner is the LLM-first router with deterministic fallback.
type Planner struct {
	llm llm.Client
}

func New(client llm.Client) *Planner {
	return &Planner{llm: client}
}

// Plan produces a normalized ActionPlan for one user message. If llm is nil
// or the call fails, returns cancelled (propagating, not falling back) when
// ctx was cancelled mid-call, otherwise falls back to the deterministic
// classifier, per spec.md §4.6.
func (p *Planner) Plan(ctx context.Context, message string, bundle ContextBundle) (action.ActionPlan, error) {
	plan, err := p.planWithLLM(ctx, message, bundle)
	if err != nil {
		if ctx.Err() != nil {
			return action.ActionPlan{}, supervisorerr.NewCancelled("replan", "planner call aborted: "+ctx.Err().Error())
		}
		plan = Fallback(message, bundle)
	}

	plan = postProcess(plan, bundle, message)
	if len(plan.Actions) == 0 {
		plan = postProcess(Fallback(message, bundle), bundle, message)
	}

	plan.FinalResponseStyle = orDefault(plan.FinalResponseStyle, "concise")
	if max := maxOrDefault(bundle.JobConfig.Budget.MaxActions); len(plan.Actions) > max {
		plan.Actions = plan.Actions[:max]
	}
	return plan, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// maxPlanRetries bounds the retries of transient LLM failures: at most three
// calls in all, with exponential backoff of 1s and then 2s between them,
// adapted from keywords.go's KeywordsExtractor retry loop (llm.IsRetryable
// classification).
const maxPlanRetries = 2

func (p *Planner) planWithLLM(ctx context.Context, message string, bundle ContextBundle) (action.ActionPlan, error) {
	if p.llm == nil {
		return action.ActionPlan{}, fmt.Errorf("planner: no llm client configured")
	}

	systemPrompt := buildSystemPrompt(bundle)

	var resp llmPlanResponse
	var err error

	for attempt := 0; attempt <= maxPlanRetries; attempt++ {
		start := time.Now()
		_, err = p.llm.Chat(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   message,
			SchemaName:   "action_plan",
			Schema:       planSchema,
			Temperature:  llm.Temp(0),
		}, &resp)
		slog.DebugContext(ctx, "planner llm call completed", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())

		if err == nil {
			return convertLLMResponse(resp), nil
		}
		if !llm.IsRetryable(ctx, err) || attempt == maxPlanRetries {
			break
		}
		slog.WarnContext(ctx, "planner llm call retry", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(1<<attempt) * time.Second)
	}

	return action.ActionPlan{}, err
}

func convertLLMResponse(resp llmPlanResponse) action.ActionPlan {
	actions := make([]action.Action, 0, len(resp.Actions))
	for _, entry := range resp.Actions {
		data, err := json.Marshal(entry.Data)
		if err != nil {
			continue
		}
		raw, err := json.Marshal(map[string]any{"type": entry.Type, "data": json.RawMessage(data)})
		if err != nil {
			continue
		}
		a, ok := action.NormalizeAction(raw)
		if !ok {
			continue
		}
		actions = append(actions, a)
	}

	style := resp.FinalResponseStyle
	if style == "" {
		style = "concise"
	}
	return action.ActionPlan{
		Reason:             resp.Reason,
		Actions:            actions,
		FinalResponseStyle: style,
	}
}

// buildSystemPrompt composes the structured prompt: allowed action schema,
// catalog, and the hard rules spec.md §4.6 names explicitly.
func buildSystemPrompt(bundle ContextBundle) string {
	var b strings.Builder
	b.WriteString("You are the router for a multi-agent supervisor. Emit only one JSON object matching the given schema.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Prefer a single run_agent for simple requests.\n")
	b.WriteString("- Only use the planner provider when the user explicitly asked for it.\n")
	b.WriteString("- Raise risk to L3 for file-writing runs (handled by post-processing; you don't set risk directly).\n")
	b.WriteString(fmt.Sprintf("- Emit at most %d actions.\n", maxOrDefault(bundle.JobConfig.Budget.MaxActions)))
	b.WriteString("\nAvailable agents:\n")
	for _, a := range bundle.Agents {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Provider, a.Description)
	}
	b.WriteString("\nAvailable tools:\n")
	for _, t := range bundle.Tools {
		fmt.Fprintf(&b, "- %s: %v\n", t.ID, t.ActionTypes)
	}
	if bundle.ContextSummary != "" {
		b.WriteString("\nContext summary:\n")
		b.WriteString(bundle.ContextSummary)
	}
	return b.String()
}

func maxOrDefault(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

// postProcess applies the two filtering rules from spec.md §4.6.
func postProcess(plan action.ActionPlan, bundle ContextBundle, message string) action.ActionPlan {
	explicit := mentionsExplicitPlannerRequest(message)

	filtered := make([]action.Action, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		if a.Type != action.TypeRunAgent {
			filtered = append(filtered, a)
			continue
		}

		data, err := action.ParseData[action.RunAgentData](a)
		if err != nil {
			continue
		}

		kind, known := bundle.providerOf(data.AgentID)
		if known && kind == model.ProviderPlanner && !explicit {
			continue // drop planner-provider run_agent unless explicitly requested
		}
		if known && kind == model.ProviderCoder {
			a.Risk = model.RiskL3
		}

		filtered = append(filtered, a)
	}

	plan.Actions = filtered
	return plan
}

func mentionsExplicitPlannerRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range explicitPlannerRequest {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
