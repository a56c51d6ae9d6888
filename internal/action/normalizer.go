package action

import (
	"encoding/json"
	"strings"

	"agentsup.dev/supervisor/internal/model"
)

// typeSynonyms maps loose/legacy type tags seen from upstream LLM output
// or older clients onto the canonical Type constants.
var typeSynonyms = map[string]Type{
	"agent_run":   TypeRunAgent,
	"run":         TypeRunAgent,
	"context":     TypeOpenContext,
	"open":        TypeOpenContext,
	"more_detail": TypeNeedMoreDetail,
	"expand":      TypeNeedMoreDetail,
}

func canonicalType(raw string) Type {
	folded := strings.ToLower(strings.TrimSpace(raw))
	if syn, ok := typeSynonyms[folded]; ok {
		return syn
	}
	return Type(folded)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// rawAction is the untyped shape a planner output or a tool-call arguments
// blob arrives in before normalization.
type rawAction struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	// flattened-field aliases some callers emit instead of nesting under Data
	AgentID string `json:"agent_id,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Goal    string `json:"goal,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Task    string `json:"task,omitempty"`
}

// NormalizeAction accepts one untyped record as raw JSON and returns a typed, risk-stamped
// Action, or ok=false if it is malformed or missing mandatory fields.
func NormalizeAction(raw json.RawMessage) (Action, bool) {
	var ra rawAction
	if err := json.Unmarshal(raw, &ra); err != nil {
		return Action{}, false
	}

	t := canonicalType(ra.Type)
	if t == "" {
		return Action{}, false
	}

	data := ra.Data
	if len(data) == 0 {
		data = raw
	}

	switch t {
	case TypeRunAgent:
		return normalizeRunAgent(t, data, ra)
	case TypeProposeAgent:
		var d ProposeAgentData
		if !decode(data, &d) || d.ID == "" {
			return Action{}, false
		}
		d.ID = normalizeID(d.ID)
		return build(t, d, model.RiskL2)
	case TypeNeedMoreDetail:
		var d NeedMoreDetailData
		if !decode(data, &d) || d.ContextSetID == "" {
			return Action{}, false
		}
		d.Depth = clamp(valueOrDefault(d.Depth, 1), 1, 3)
		d.MaxChars = clamp(valueOrDefault(d.MaxChars, 1200), 1200, 24000)
		return build(t, d, model.RiskL0)
	case TypeOpenContext:
		var d OpenContextData
		if !decode(data, &d) {
			return Action{}, false
		}
		if d.Scope != "current" && d.Scope != "global" {
			d.Scope = "current"
		}
		return build(t, d, model.RiskL0)
	case TypeSummarize:
		var d SummarizeData
		decode(data, &d) //nolint:errcheck // hint is optional, always valid
		return build(t, d, model.RiskL0)
	case TypeSearchPublicAgents:
		var d SearchPublicAgentsData
		if !decode(data, &d) || strings.TrimSpace(d.Query) == "" {
			return Action{}, false
		}
		d.Limit = clamp(valueOrDefault(d.Limit, 10), 1, 10)
		return build(t, d, model.RiskL0)
	case TypeInstallAgentBlueprint:
		var d InstallAgentBlueprintData
		if !decode(data, &d) || (d.BlueprintID == "" && d.PublicNodeID == "") {
			return Action{}, false
		}
		d.AgentIDOverride = normalizeID(d.AgentIDOverride)
		return build(t, d, model.RiskL1)
	case TypePublishAgent:
		var d PublishAgentData
		if !decode(data, &d) || d.AgentNodeID == "" || d.AgentID == "" {
			return Action{}, false
		}
		d.AgentID = normalizeID(d.AgentID)
		return build(t, d, model.RiskL1)
	case TypeEnableAgent:
		var d EnableAgentData
		if !decode(data, &d) || d.AgentID == "" {
			return Action{}, false
		}
		d.AgentID = normalizeID(d.AgentID)
		return build(t, d, model.RiskL1)
	case TypeDisableAgent:
		var d DisableAgentData
		if !decode(data, &d) || d.AgentID == "" {
			return Action{}, false
		}
		d.AgentID = normalizeID(d.AgentID)
		return build(t, d, model.RiskL1)
	case TypeEnableTool:
		var d EnableToolData
		if !decode(data, &d) || d.ToolID == "" {
			return Action{}, false
		}
		d.ToolID = normalizeID(d.ToolID)
		return build(t, d, model.RiskL1)
	case TypeDisableTool:
		var d DisableToolData
		if !decode(data, &d) || d.ToolID == "" {
			return Action{}, false
		}
		d.ToolID = normalizeID(d.ToolID)
		return build(t, d, model.RiskL1)
	case TypeListAgents:
		var d ListAgentsData
		decode(data, &d) //nolint:errcheck
		return build(t, d, model.RiskL0)
	case TypeListTools:
		var d ListToolsData
		decode(data, &d) //nolint:errcheck
		return build(t, d, model.RiskL0)
	case TypeCreateAgent:
		var d CreateAgentData
		if !decode(data, &d) || len(d.Profile) == 0 {
			return Action{}, false
		}
		return build(t, d, model.RiskL1)
	case TypeUpdateAgent:
		var d UpdateAgentData
		if !decode(data, &d) || d.AgentID == "" || len(d.Patch) == 0 {
			return Action{}, false
		}
		d.AgentID = normalizeID(d.AgentID)
		return build(t, d, model.RiskL1)
	case TypeGetStatus:
		var d GetStatusData
		if !decode(data, &d) {
			return Action{}, false
		}
		if d.Detail != "full" {
			d.Detail = "summary"
		}
		return build(t, d, model.RiskL0)
	case TypeInterrupt:
		var d InterruptData
		if !decode(data, &d) || (d.Mode != "cancel" && d.Mode != "replan") {
			return Action{}, false
		}
		return build(t, d, model.RiskL0)
	case TypeSpawnAgents:
		var d SpawnAgentsData
		if !decode(data, &d) || len(d.Agents) == 0 {
			return Action{}, false
		}
		if len(d.Agents) > 8 {
			d.Agents = d.Agents[:8]
		}
		d.MaxParallel = clamp(valueOrDefault(d.MaxParallel, 1), 1, 8)
		return build(t, d, model.RiskL1)
	default:
		return Action{}, false
	}
}

func normalizeRunAgent(t Type, data json.RawMessage, ra rawAction) (Action, bool) {
	var d RunAgentData
	decode(data, &d) //nolint:errcheck // fall through to flattened-alias recovery below

	if d.AgentID == "" {
		d.AgentID = ra.AgentID
	}
	if d.AgentID == "" {
		d.AgentID = ra.Agent
	}
	if d.Goal == "" {
		d.Goal = ra.Goal
	}
	if d.Goal == "" {
		d.Goal = ra.Prompt
	}
	if d.Goal == "" {
		d.Goal = ra.Task
	}

	d.AgentID = normalizeID(d.AgentID)
	d.Goal = strings.TrimSpace(d.Goal)
	if d.AgentID == "" || d.Goal == "" {
		return Action{}, false
	}

	return build(t, d, model.RiskL1)
}

func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return true
	}
	return json.Unmarshal(data, v) == nil
}

func valueOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func build(t Type, payload any, risk model.RiskLevel) (Action, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Action{}, false
	}
	return Action{Type: t, Data: data, Risk: risk}, true
}

const defaultMaxActions = 4

// NormalizeActionPlan walks a raw plan's actions (each a json.RawMessage),
// normalizes each, drops nulls, and truncates to maxActions (default 4 when
// maxActions <= 0). Order is preserved.
func NormalizeActionPlan(reason string, finalResponseStyle string, rawActions []json.RawMessage, maxActions int) ActionPlan {
	if maxActions <= 0 {
		maxActions = defaultMaxActions
	}
	if finalResponseStyle == "" {
		finalResponseStyle = "concise"
	}

	actions := make([]Action, 0, len(rawActions))
	for _, raw := range rawActions {
		a, ok := NormalizeAction(raw)
		if !ok {
			continue
		}
		actions = append(actions, a)
		if len(actions) >= maxActions {
			break
		}
	}

	return ActionPlan{
		Reason:             reason,
		Actions:            actions,
		FinalResponseStyle: finalResponseStyle,
	}
}
