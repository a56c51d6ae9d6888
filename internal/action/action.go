// Package action implements C1: the tagged-variant Action model and its
// defensive normalizer. Every planner output and every raw tool-call
// argument payload flows through NormalizeAction before the executor
// ever sees it.
package action

import (
	"encoding/json"
	"fmt"

	"agentsup.dev/supervisor/internal/model"
)

type Type string

const (
	TypeRunAgent            Type = "run_agent"
	TypeProposeAgent        Type = "propose_agent"
	TypeNeedMoreDetail      Type = "need_more_detail"
	TypeOpenContext         Type = "open_context"
	TypeSummarize           Type = "summarize"
	TypeSearchPublicAgents  Type = "search_public_agents"
	TypeInstallAgentBlueprint Type = "install_agent_blueprint"
	TypePublishAgent        Type = "publish_agent"
	TypeEnableAgent         Type = "enable_agent"
	TypeDisableAgent        Type = "disable_agent"
	TypeEnableTool          Type = "enable_tool"
	TypeDisableTool         Type = "disable_tool"
	TypeListAgents          Type = "list_agents"
	TypeListTools           Type = "list_tools"
	TypeCreateAgent         Type = "create_agent"
	TypeUpdateAgent         Type = "update_agent"
	TypeGetStatus           Type = "get_status"
	TypeInterrupt           Type = "interrupt"
	TypeSpawnAgents         Type = "spawn_agents"
)

// Action is the tagged variant: Type selects how Data is interpreted. Every
// variant, regardless of shape, carries an effective Risk once normalized.
type Action struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
	Risk model.RiskLevel `json:"-"` // set by normalization, never trusted from input
}

// ParseData unmarshals Data into T. Call sites know T from Type.
func ParseData[T any](a Action) (T, error) {
	var data T
	if len(a.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(a.Data, &data); err != nil {
		return data, fmt.Errorf("parsing %s data: %w", a.Type, err)
	}
	return data, nil
}

// ActionPlan is the planner's normalized output: a reason, a bounded ordered
// list of actions, and a response-verbosity hint.
type ActionPlan struct {
	Reason             string   `json:"reason"`
	Actions            []Action `json:"actions"`
	FinalResponseStyle string   `json:"final_response_style"`
}

// --- variant payloads -------------------------------------------------------

type RunAgentData struct {
	AgentID string         `json:"agent_id"`
	Goal    string         `json:"goal"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

type ProposeAgentData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

type NeedMoreDetailData struct {
	ContextSetID string   `json:"context_set_id"`
	NodeIDs      []string `json:"node_ids,omitempty"`
	Depth        int      `json:"depth"`
	MaxChars     int      `json:"max_chars"`
}

type OpenContextData struct {
	Scope string `json:"scope"` // current | global
}

type SummarizeData struct {
	Hint string `json:"hint,omitempty"`
}

type SearchPublicAgentsData struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type InstallAgentBlueprintData struct {
	BlueprintID     string `json:"blueprint_id"`
	PublicNodeID    string `json:"public_node_id"`
	AgentIDOverride string `json:"agent_id_override,omitempty"`
}

type PublishAgentData struct {
	AgentNodeID string `json:"agent_node_id"`
	AgentID     string `json:"agent_id"`
}

type EnableAgentData struct {
	AgentID string `json:"agent_id"`
}

type DisableAgentData struct {
	AgentID string `json:"agent_id"`
}

type EnableToolData struct {
	ToolID string `json:"tool_id"`
}

type DisableToolData struct {
	ToolID string `json:"tool_id"`
}

type ListAgentsData struct {
	IncludeDisabled bool `json:"include_disabled,omitempty"`
}

type ListToolsData struct {
	IncludeDisabled bool `json:"include_disabled,omitempty"`
}

type CreateAgentData struct {
	Profile json.RawMessage `json:"profile"`
	Format  string          `json:"format,omitempty"` // json | yaml
}

type UpdateAgentData struct {
	AgentID string          `json:"agent_id"`
	Patch   json.RawMessage `json:"patch"`
	Format  string          `json:"format,omitempty"`
}

type GetStatusData struct {
	Detail string `json:"detail,omitempty"` // summary | full
}

type InterruptData struct {
	Mode string `json:"mode"` // cancel | replan
	Note string `json:"note,omitempty"`
}

type SpawnAgentSpec struct {
	AgentID string `json:"agent_id"`
	Goal    string `json:"goal"`
}

type SpawnAgentsData struct {
	Summary     string           `json:"summary"`
	Agents      []SpawnAgentSpec `json:"agents"`
	MaxParallel int              `json:"max_parallel"`
}
