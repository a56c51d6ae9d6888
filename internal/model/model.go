// Package model holds the data-model types shared across the supervisor's
// components (C1-C9): agent/tool catalog entries, per-job policy, and the
// small closed enums (risk level, provider kind) that Action and JobConfig
// are both built from.
package model

import "time"

// RiskLevel ranks an action's potential for harm, L0 (pure read) to L3
// (file-write / destructive). Approval gates compare against this ordering.
type RiskLevel int

const (
	RiskL0 RiskLevel = iota // read-only
	RiskL1                  // benign write
	RiskL2                  // sensitive
	RiskL3                  // file-write / destructive
)

func (r RiskLevel) String() string {
	switch r {
	case RiskL0:
		return "L0"
	case RiskL1:
		return "L1"
	case RiskL2:
		return "L2"
	case RiskL3:
		return "L3"
	default:
		return "L?"
	}
}

// ParseRiskLevel accepts "L0".."L3" (case-insensitive); anything else yields
// RiskL0 and ok=false so callers can decide whether to default or reject.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch s {
	case "L0", "l0":
		return RiskL0, true
	case "L1", "l1":
		return RiskL1, true
	case "L2", "l2":
		return RiskL2, true
	case "L3", "l3":
		return RiskL3, true
	default:
		return RiskL0, false
	}
}

// ProviderKind is the small closed set of external agent executors. Governs
// approval (the file-write rule targets ProviderCoder specifically) and which
// surfaces an agent profile is allowed to use.
type ProviderKind string

const (
	ProviderPlanner    ProviderKind = "planner"
	ProviderCoder      ProviderKind = "coder"
	ProviderResearcher ProviderKind = "researcher"
)

// AgentProfile is a named, versioned binding of a provider + system prompt.
// The latest append-only profile resource with a given ID wins (see
// internal/agent for the load/create/update semantics).
type AgentProfile struct {
	ID          string         // lowercase slug, unique
	Name        string         // human name
	Description string         // free-form
	Provider    ProviderKind   // planner | coder | researcher
	Model       string         // model string passed to the provider
	SystemPrompt string
	Metadata    map[string]any // free-form

	InstalledFrom *InstalledFrom // non-nil if installed from the public library
	CreatedAt     time.Time
}

// InstalledFrom records the public-library origin of an installed agent
// profile, per SPEC_FULL.md §3.1.
type InstalledFrom struct {
	BlueprintID  string
	PublicNodeID string
}

// Tool is a declared capability an agent plan may invoke; its ActionTypes
// are added to a job's JobConfig.AllowActions (see
// tool.Registry.AllowedActionTypes), not to action.DefaultAllowlist.
type Tool struct {
	ID          string
	Name        string
	ActionTypes []string
	Risk        RiskLevel
}

// AgentSelector chooses which catalog entries are enabled for a job, per
// JobConfig.AgentSet / JobConfig.ToolSet.
type AgentSelector struct {
	Mode     SelectorMode
	Selected []string
	Disabled []string
}

type SelectorMode string

const (
	SelectorAllEnabled SelectorMode = "all_enabled"
	SelectorSelected   SelectorMode = "selected"
)

// Budget caps a single run's action count, output size, and maximum allowed risk.
type Budget struct {
	MaxActions int
	MaxChars   int
	MaxRisk    RiskLevel
}

// Approval configures when a run must pause for a human approval.
type Approval struct {
	RequireForRisk  []RiskLevel
	RequireFileWrite bool
}

// Policies holds small boolean knobs that don't fit Approval/Budget.
type Policies struct {
	ForbidChatGPTPlannerByDefault bool
}

// JobConfig is the per-job policy snapshot the planner and executor consult.
type JobConfig struct {
	JobID               string
	Mode                string // fixed "supervisor"
	FinalResponseStyle  string // concise | detailed
	Participants        []string
	AgentSet            AgentSelector
	ToolSet             AgentSelector
	AllowActions        map[string]struct{}
	Budget              Budget
	Approval            Approval
	Policies            Policies
	UpdatedAt           time.Time
}

// EffectiveEnabled computes catalog-minus-disabled, intersected with Selected
// when Mode == selected; falling back to a deterministic default ("router"
// then "coder" then the first catalog entry) when the result would be empty.
func EffectiveEnabled(sel AgentSelector, catalog []string) []string {
	disabled := toSet(sel.Disabled)

	base := catalog
	if sel.Mode == SelectorSelected {
		base = intersect(sel.Selected, catalog)
	}

	enabled := make([]string, 0, len(base))
	for _, id := range base {
		if _, blocked := disabled[id]; !blocked {
			enabled = append(enabled, id)
		}
	}

	if len(enabled) > 0 {
		return enabled
	}

	return defaultSelection(catalog, disabled)
}

func defaultSelection(catalog []string, disabled map[string]struct{}) []string {
	for _, preferred := range []string{"router", "coder"} {
		for _, id := range catalog {
			if id == preferred {
				if _, blocked := disabled[id]; !blocked {
					return []string{id}
				}
			}
		}
	}
	for _, id := range catalog {
		if _, blocked := disabled[id]; !blocked {
			return []string{id}
		}
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func intersect(selected, catalog []string) []string {
	allowed := toSet(selected)
	out := make([]string, 0, len(selected))
	for _, id := range catalog {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
