// Package agent implements C5: the agent registry. Profiles are append-only
// resources in the workspace's "agents" service thread; the latest resource
// with a given id wins. Loading cascades compiled-context → node scan →
// static local fallback, per spec.md §4.5.
package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agentsup.dev/supervisor/internal/goc"
	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
)

// Registry is the loaded agent catalog: an ordered list plus an id index.
type Registry struct {
	Agents []model.AgentProfile
	ByID   map[string]model.AgentProfile
}

func newRegistry(agents []model.AgentProfile) Registry {
	byID := make(map[string]model.AgentProfile, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return Registry{Agents: agents, ByID: byID}
}

// Loader loads and persists agent profiles against the knowledge store.
type Loader struct {
	client *knowledge.Client
	goc    *goc.Manager
}

func NewLoader(client *knowledge.Client, gocMgr *goc.Manager) *Loader {
	return &Loader{client: client, goc: gocMgr}
}

// LoadAgentsFromGoc implements the 7-step cascade from spec.md §4.5.
func (l *Loader) LoadAgentsFromGoc(ctx context.Context, baseDir string, includeCompiled bool) (Registry, error) {
	mapping, err := l.goc.EnsureServiceThread(ctx, "agents", baseDir)
	if err != nil {
		return Registry{}, fmt.Errorf("agent registry: ensuring agents thread: %w", err)
	}

	resources, err := l.client.ListResources(ctx, mapping.SharedContextSetID)
	if err != nil {
		return Registry{}, fmt.Errorf("agent registry: listing agent_profile resources: %w", err)
	}

	var profileResources []knowledge.Resource
	for _, r := range resources {
		if r.ResourceKind == "agent_profile" {
			profileResources = append(profileResources, r)
		}
	}
	sort.SliceStable(profileResources, func(i, j int) bool {
		return profileResources[i].CreatedAtUnix < profileResources[j].CreatedAtUnix
	})

	byID := make(map[string]model.AgentProfile)
	order := make([]string, 0, len(profileResources))
	for _, r := range profileResources {
		profile, ok := decodeProfileFromResource(r)
		if !ok {
			continue
		}
		if _, exists := byID[profile.ID]; !exists {
			order = append(order, profile.ID)
		}
		byID[profile.ID] = profile // last wins
	}

	if includeCompiled && mapping.SharedContextSetID != "" {
		compiled, err := l.client.GetCompiledContext(ctx, mapping.SharedContextSetID)
		if err == nil && compiled != "" {
			if compiledProfiles := ParseProfilesFromText(compiled); len(compiledProfiles) > 0 {
				for _, p := range compiledProfiles {
					if _, exists := byID[p.ID]; !exists {
						order = append(order, p.ID)
					}
					byID[p.ID] = p
				}
			}
		}
	}

	if len(byID) == 0 {
		fallback := staticFallbackBundle()
		for _, p := range fallback {
			order = append(order, p.ID)
			byID[p.ID] = p
		}
	}

	agents := make([]model.AgentProfile, 0, len(order))
	for _, id := range order {
		agents = append(agents, byID[id])
	}

	return newRegistry(agents), nil
}

// decodeProfileFromResource tries, in order: (a) the payload under
// agent_profile/agent/profile/root, (b) fenced JSON/YAML blocks in raw text,
// (c) the raw text as a whole document.
func decodeProfileFromResource(r knowledge.Resource) (model.AgentProfile, bool) {
	if r.Payload != nil {
		for _, key := range []string{"agent_profile", "agent", "profile"} {
			if v, ok := r.Payload[key]; ok {
				if m, ok := v.(map[string]any); ok {
					if p, ok := decodeProfileFromMap(m); ok {
						return withOrigin(p, r), true
					}
				}
			}
		}
		if p, ok := decodeProfileFromMap(r.Payload); ok {
			return withOrigin(p, r), true
		}
	}

	if p, ok := decodeProfileFromFencedBlocks(r.RawText); ok {
		return withOrigin(p, r), true
	}

	if p, ok := decodeProfileFromDocument(r.RawText); ok {
		return withOrigin(p, r), true
	}

	return model.AgentProfile{}, false
}

func withOrigin(p model.AgentProfile, r knowledge.Resource) model.AgentProfile {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Unix(r.CreatedAtUnix, 0).UTC()
	}
	return p
}

// staticFallbackBundle is the last-resort catalog when the store has no
// agent_profile resources and no compiled-context profiles at all.
func staticFallbackBundle() []model.AgentProfile {
	return []model.AgentProfile{
		{
			ID:           "router",
			Name:         "Router",
			Description:  "Default general-purpose assistant for routine requests.",
			Provider:     model.ProviderPlanner,
			SystemPrompt: "You are a helpful assistant that answers directly and delegates complex work.",
		},
		{
			ID:           "coder",
			Name:         "Coder",
			Description:  "Writes and edits code in the workspace.",
			Provider:     model.ProviderCoder,
			SystemPrompt: "You are a careful software engineer. Make the smallest correct change.",
		},
		{
			ID:           "researcher",
			Name:         "Researcher",
			Description:  "Gathers and synthesizes information without writing code.",
			Provider:     model.ProviderResearcher,
			SystemPrompt: "You research thoroughly and report findings concisely.",
		},
	}
}
