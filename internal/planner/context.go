package planner

import (
	"fmt"
	"strings"

	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
)

// BuildContextSummary assembles ContextBundle.ContextSummary: an ordered,
// section-per-concern markdown dump, each section only emitted if non-empty,
// adapted from the teacher's context_builder.go buildContextDump (issue /
// participants / learnings / gaps / findings / spec / reply-threading
// sections) to this spec's job/agent/compiled-context shape.
func BuildContextSummary(jobTitle string, agents []model.AgentProfile, compiled *knowledge.CompiledContext, replyThreadID string) string {
	var sb strings.Builder

	if jobTitle != "" {
		sb.WriteString("# Job\n\n")
		fmt.Fprintf(&sb, "**Title**: %s\n\n", jobTitle)
	}

	if len(agents) > 0 {
		sb.WriteString("# Available Agents\n\n")
		for _, a := range agents {
			fmt.Fprintf(&sb, "- `%s` (%s, %s): %s\n", a.ID, a.Provider, a.Model, a.Description)
		}
		sb.WriteString("\n")
	}

	if compiled != nil && strings.TrimSpace(compiled.Text) != "" {
		sb.WriteString("# Compiled Context\n\n")
		sb.WriteString(compiled.Text)
		sb.WriteString("\n\n")
		if len(compiled.ActiveNodeIDs) > 0 {
			fmt.Fprintf(&sb, "_Active nodes: %s_\n\n", strings.Join(compiled.ActiveNodeIDs, ", "))
		}
	}

	if replyThreadID != "" {
		sb.WriteString("# Reply Context\n\n")
		fmt.Fprintf(&sb, "This run was triggered by a message in thread `%s`.\n\n", replyThreadID)
	}

	return strings.TrimSpace(sb.String())
}
