package action

// DefaultAllowlist is the set of action types every job may take regardless
// of JobConfig.AllowActions, per spec.md §4.1: the read-only/status/control
// surface is never gated behind an explicit allow entry.
var DefaultAllowlist = map[Type]struct{}{
	TypeNeedMoreDetail:     {},
	TypeOpenContext:        {},
	TypeSummarize:          {},
	TypeSearchPublicAgents: {},
	TypeListAgents:         {},
	TypeListTools:          {},
	TypeGetStatus:          {},
	TypeInterrupt:          {},
}

// IsActionAllowed reports whether a's Type may run under a job whose
// AllowActions set is allow. DefaultAllowlist entries are always permitted;
// everything else (run_agent, spawn_agents, the registry-mutating variants)
// requires an explicit entry in allow — either a built-in type name or a
// tool-contributed action type registered via a Tool.ActionTypes list.
func IsActionAllowed(t Type, allow map[string]struct{}) bool {
	if _, ok := DefaultAllowlist[t]; ok {
		return true
	}
	_, ok := allow[string(t)]
	return ok
}
