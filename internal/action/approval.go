package action

import "agentsup.dev/supervisor/internal/model"

// ActionNeedsApproval implements the risk-gate comparison from spec.md §4.1:
// an action requires a human approval when its Risk meets or exceeds any
// level named in approval.RequireForRisk, OR when approval.RequireFileWrite
// is set and the action is a run_agent dispatched to a coder-provider agent
// (the only variant that can touch the workspace filesystem).
func ActionNeedsApproval(a Action, approval model.Approval, providerOf func(agentID string) (model.ProviderKind, bool)) bool {
	for _, threshold := range approval.RequireForRisk {
		if a.Risk >= threshold {
			return true
		}
	}

	if approval.RequireFileWrite && a.Type == TypeRunAgent {
		data, err := ParseData[RunAgentData](a)
		if err == nil && providerOf != nil {
			if kind, ok := providerOf(data.AgentID); ok && kind == model.ProviderCoder {
				return true
			}
		}
	}

	return false
}
