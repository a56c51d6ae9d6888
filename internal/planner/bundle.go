// Package planner implements C6: the LLM-first planner with a deterministic
// keyword-based fallback, and the post-processing rules applied to whichever
// plan wins. The fallback is the behavioral contract — tests must be able to
// drive the supervisor without a live LLM (spec.md §4.6).
package planner

import (
	"agentsup.dev/supervisor/internal/model"
)

// ContextBundle is everything the planner needs besides the raw message.
type ContextBundle struct {
	Agents               []model.AgentProfile
	Tools                []model.Tool
	JobConfig            model.JobConfig
	CurrentJobID         string
	CurrentContextSetID  string
	Locale               string
	RouterPolicy         string
	ContextSummary       string
}

func (b ContextBundle) agentByID(id string) (model.AgentProfile, bool) {
	for _, a := range b.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return model.AgentProfile{}, false
}

func (b ContextBundle) providerOf(agentID string) (model.ProviderKind, bool) {
	a, ok := b.agentByID(agentID)
	if !ok {
		return "", false
	}
	return a.Provider, true
}

func (b ContextBundle) catalogIDs() []string {
	ids := make([]string, 0, len(b.Agents))
	for _, a := range b.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}
