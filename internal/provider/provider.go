// Package provider defines the thin collaborator surfaces SPEC_FULL.md §6.1
// names: AgentProvider (the only one with a real binding — LLM invocation is
// core to C6/C7), plus ChatTransport and WorkspaceFS, which stay narrow
// interfaces with in-memory test doubles only, per spec.md §1's out-of-scope
// collaborator list.
package provider

import (
	"context"

	"agentsup.dev/supervisor/internal/model"
)

// AgentInvocation is one dispatch of an agent against a goal.
type AgentInvocation struct {
	AgentID      string
	Goal         string
	SystemPrompt string
	Model        string
	Inputs       map[string]any
}

// AgentResult is what a provider invocation produces.
type AgentResult struct {
	Output       string
	FinishReason string
}

// AgentProvider invokes one of the three provider kinds against a goal.
type AgentProvider interface {
	Invoke(ctx context.Context, req AgentInvocation) (AgentResult, error)
	Kind() model.ProviderKind
}

// InlineButton is one approve/deny (or other) inline action attached to an
// outbound chat message.
type InlineButton struct {
	Label   string
	Payload string // e.g. "approve:<jobId>:<token>" / "deny:<jobId>:<token>"
}

// InboundMessage is one incoming chat message, as delivered by ChatTransport.
type InboundMessage struct {
	ChatID            string
	UserID            string
	Text              string
	ExternalMessageID string
}

// ChatTransport delivers inbound messages and sends outbound ones. Out of
// scope per spec.md §1: this package ships no real transport, only the
// interface and an in-memory test double (see internal/transport/memtransport).
type ChatTransport interface {
	Send(ctx context.Context, chatID string, text string, buttons []InlineButton) error
	Receive() <-chan InboundMessage
}

// Settings is the parsed contents of the workspace's settings.md.
type Settings struct {
	Raw string
}

// WorkspaceFS is the narrow filesystem surface a running agent needs. Out of
// scope per spec.md §1: ships only the interface and an in-memory test
// double (see internal/transport/memfs).
type WorkspaceFS interface {
	ReadSettings(ctx context.Context) (Settings, error)
	WriteFile(ctx context.Context, relPath string, data []byte) error
}
