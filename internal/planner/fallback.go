package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"agentsup.dev/supervisor/internal/action"
)

// keywordSets classify intent by language-agnostic keyword matching over
// the lowercased message. Order matters: the first matching set wins.
var keywordSets = []struct {
	kind     string
	keywords []string
}{
	{"list", []string{"list agents", "list tools", "show agents", "show tools", "what agents"}},
	{"status", []string{"status", "what's running", "whats running", "progress"}},
	{"interrupt", []string{"stop", "cancel", "abort", "interrupt"}},
	{"open_context", []string{"open context", "show context", "context"}},
	{"spawn", []string{"spawn", "parallel", "in parallel", "fan out"}},
	{"disable", []string{"disable", "turn off", "deactivate"}},
	{"enable", []string{"enable", "turn on", "activate"}},
	{"publish", []string{"publish"}},
	{"install", []string{"install"}},
	{"search", []string{"search", "find agent", "look for agent"}},
	{"propose", []string{"propose", "suggest an agent", "draft an agent"}},
	{"create", []string{"create agent", "new agent", "make an agent"}},
	{"update", []string{"update agent", "change agent", "edit agent"}},
	{"run", []string{"run", "please", "can you", "summarize", "help"}},
}

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)|(?:\bid:\s*([a-zA-Z0-9_-]+))`)

// extractMentionedAgentIDs finds tokens of the form @id or id:<id>.
func extractMentionedAgentIDs(message string) []string {
	var ids []string
	for _, m := range mentionPattern.FindAllStringSubmatch(message, -1) {
		if m[1] != "" {
			ids = append(ids, strings.ToLower(m[1]))
		} else if m[2] != "" {
			ids = append(ids, strings.ToLower(m[2]))
		}
	}
	return ids
}

func classifyIntent(message string) string {
	lower := strings.ToLower(message)
	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.kind
			}
		}
	}
	return "run"
}

// Fallback builds a minimal deterministic plan when the LLM path is
// unavailable or unparseable, per spec.md §4.6. It is the one path required
// to work without any live LLM.
func Fallback(message string, bundle ContextBundle) action.ActionPlan {
	intent := classifyIntent(message)
	mentioned := extractMentionedAgentIDs(message)

	agentID := defaultFallbackAgent(bundle)
	if len(mentioned) > 0 {
		if _, ok := bundle.agentByID(mentioned[0]); ok {
			agentID = mentioned[0]
		}
	}

	switch intent {
	case "list":
		return plan("default list fallback", action.TypeListAgents, action.ListAgentsData{})
	case "status":
		return plan("default status fallback", action.TypeGetStatus, action.GetStatusData{Detail: "summary"})
	case "interrupt":
		return plan("default interrupt fallback", action.TypeInterrupt, action.InterruptData{Mode: "cancel", Note: message})
	case "open_context":
		return plan("default open_context fallback", action.TypeOpenContext, action.OpenContextData{Scope: "current"})
	default:
		return plan("default run_agent fallback", action.TypeRunAgent, action.RunAgentData{
			AgentID: agentID,
			Goal:    strings.TrimSpace(message),
		})
	}
}

// defaultFallbackAgent prefers "router", then "coder", then the first
// catalog entry — the same deterministic default EffectiveEnabled uses.
func defaultFallbackAgent(bundle ContextBundle) string {
	catalog := bundle.catalogIDs()
	for _, preferred := range []string{"router", "coder"} {
		for _, id := range catalog {
			if id == preferred {
				return id
			}
		}
	}
	if len(catalog) > 0 {
		return catalog[0]
	}
	return "router"
}

func plan(reason string, t action.Type, data any) action.ActionPlan {
	raw, err := json.Marshal(map[string]any{"type": string(t), "data": data})
	if err != nil {
		return action.ActionPlan{Reason: reason, FinalResponseStyle: "concise"}
	}
	a, ok := action.NormalizeAction(raw)
	if !ok {
		return action.ActionPlan{Reason: reason, FinalResponseStyle: "concise"}
	}
	return action.ActionPlan{
		Reason:             reason,
		Actions:            []action.Action{a},
		FinalResponseStyle: "concise",
	}
}
