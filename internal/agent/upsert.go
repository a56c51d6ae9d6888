package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
)

// UpsertAgentProfile creates a new agent_profile resource carrying the
// serialized profile as raw text plus op metadata, chained to the previous
// resource for this id via a NEXT_PART edge. The id is lowercase-slug
// enforced before writing.
func (l *Loader) UpsertAgentProfile(ctx context.Context, baseDir string, profile model.AgentProfile, previousNodeID string) (model.AgentProfile, string, error) {
	profile.ID = strings.ToLower(strings.TrimSpace(profile.ID))
	if profile.ID == "" {
		return model.AgentProfile{}, "", fmt.Errorf("agent registry: profile id is required")
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	mapping, err := l.goc.EnsureServiceThread(ctx, "agents", baseDir)
	if err != nil {
		return model.AgentProfile{}, "", fmt.Errorf("agent registry: ensuring agents thread: %w", err)
	}

	raw, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return model.AgentProfile{}, "", fmt.Errorf("agent registry: encoding profile: %w", err)
	}

	resource, err := l.client.CreateResource(ctx, knowledge.Resource{
		Name:         "agent:" + profile.ID,
		Summary:      profile.Description,
		RawText:      string(raw),
		ResourceKind: "agent_profile",
		ContextSetID: mapping.SharedContextSetID,
		AutoActivate: true,
		AttachTo:     previousNodeID,
		Payload: map[string]any{
			"agent_profile": profile,
			"op":            "upsert",
		},
	})
	if err != nil {
		return model.AgentProfile{}, "", err
	}

	if previousNodeID != "" {
		if err := l.client.CreateNextPartEdge(ctx, previousNodeID, resource.ID); err != nil {
			return model.AgentProfile{}, "", err
		}
	}

	return profile, resource.ID, nil
}

// MergePatch applies patch onto base, field by field; empty string/nil
// fields in patch leave base's value unchanged. Used by update_agent, which
// merges onto the latest loaded profile rather than replacing it wholesale.
func MergePatch(base model.AgentProfile, patch map[string]any) model.AgentProfile {
	m := canonicalizeKeys(patch)

	if v, ok := m["name"].(string); ok && v != "" {
		base.Name = v
	}
	if v, ok := m["description"].(string); ok && v != "" {
		base.Description = v
	}
	if v, ok := m["model"].(string); ok && v != "" {
		base.Model = v
	}
	if v, ok := m["system_prompt"].(string); ok && v != "" {
		base.SystemPrompt = v
	}
	if v, ok := m["provider"].(string); ok && v != "" {
		switch v {
		case string(model.ProviderCoder):
			base.Provider = model.ProviderCoder
		case string(model.ProviderResearcher):
			base.Provider = model.ProviderResearcher
		case string(model.ProviderPlanner):
			base.Provider = model.ProviderPlanner
		}
	}
	if v, ok := m["metadata"].(map[string]any); ok {
		base.Metadata = v
	}
	return base
}

// InstallFromBlueprint resolves a blueprint resource (by id or public node
// id), extracts and repairs the agent profile it contains (filling
// defaults), honors an id override, then upserts it into the agents thread.
func (l *Loader) InstallFromBlueprint(ctx context.Context, baseDir, blueprintID, publicNodeID, idOverride string) (model.AgentProfile, error) {
	nodeID := publicNodeID
	if nodeID == "" {
		nodeID = blueprintID
	}
	if nodeID == "" {
		return model.AgentProfile{}, fmt.Errorf("agent registry: install requires blueprint_id or public_node_id")
	}

	node, err := l.client.GetNode(ctx, nodeID)
	if err != nil {
		return model.AgentProfile{}, fmt.Errorf("agent registry: resolving blueprint %s: %w", nodeID, err)
	}

	profile, ok := decodeProfileFromResource(node)
	if !ok {
		return model.AgentProfile{}, fmt.Errorf("agent registry: blueprint %s does not contain a valid agent profile", nodeID)
	}

	if profile.Name == "" {
		profile.Name = profile.ID
	}
	if profile.SystemPrompt == "" {
		profile.SystemPrompt = "You are a helpful assistant."
	}

	if idOverride != "" {
		profile.ID = strings.ToLower(strings.TrimSpace(idOverride))
	}
	profile.InstalledFrom = &model.InstalledFrom{
		BlueprintID:  blueprintID,
		PublicNodeID: publicNodeID,
	}

	installed, _, err := l.UpsertAgentProfile(ctx, baseDir, profile, "")
	if err != nil {
		return model.AgentProfile{}, err
	}
	return installed, nil
}
