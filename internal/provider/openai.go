package provider

import (
	"context"
	"fmt"

	"agentsup.dev/supervisor/common/llm"
	"agentsup.dev/supervisor/internal/model"
)

// openaiProvider is the one real AgentProvider binding: a thin wrapper over
// common/llm.AgentClient, generalized from the teacher's single-purpose
// keyword/planner LLM usage to the three provider kinds this spec names.
type openaiProvider struct {
	kind   model.ProviderKind
	client llm.AgentClient
}

// NewOpenAIProvider builds an AgentProvider bound to one ProviderKind. cfg's
// model is used for every invocation; AgentInvocation.Model is not applied.
func NewOpenAIProvider(kind model.ProviderKind, cfg llm.Config) (AgentProvider, error) {
	client, err := llm.NewAgentClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", kind, err)
	}
	return &openaiProvider{kind: kind, client: client}, nil
}

func (p *openaiProvider) Kind() model.ProviderKind { return p.kind }

func (p *openaiProvider) Invoke(ctx context.Context, req AgentInvocation) (AgentResult, error) {
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf("You are the %q agent.", req.AgentID)
	}

	resp, err := p.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Goal},
		},
	})
	if err != nil {
		return AgentResult{}, fmt.Errorf("provider %s invoke: %w", p.kind, err)
	}

	return AgentResult{
		Output:       resp.Content,
		FinishReason: resp.FinishReason,
	}, nil
}
