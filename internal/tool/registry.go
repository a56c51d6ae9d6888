// Package tool implements the tool-catalog counterpart to internal/agent:
// declared capabilities loaded from the workspace's "tools" service thread,
// each contributing its ActionTypes to a job's allowlist (JobConfig.AllowActions).
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentsup.dev/supervisor/internal/goc"
	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
)

type Registry struct {
	Tools []model.Tool
	ByID  map[string]model.Tool
}

func newRegistry(tools []model.Tool) Registry {
	byID := make(map[string]model.Tool, len(tools))
	for _, t := range tools {
		byID[t.ID] = t
	}
	return Registry{Tools: tools, ByID: byID}
}

// AllowedActionTypes flattens every enabled tool's declared action types,
// for merging into a job's effective allowlist.
func (r Registry) AllowedActionTypes(enabledIDs []string) map[string]struct{} {
	enabled := make(map[string]struct{}, len(enabledIDs))
	for _, id := range enabledIDs {
		enabled[id] = struct{}{}
	}

	out := make(map[string]struct{})
	for _, t := range r.Tools {
		if _, ok := enabled[t.ID]; !ok {
			continue
		}
		for _, at := range t.ActionTypes {
			out[at] = struct{}{}
		}
	}
	return out
}

type Loader struct {
	client *knowledge.Client
	goc    *goc.Manager
}

func NewLoader(client *knowledge.Client, gocMgr *goc.Manager) *Loader {
	return &Loader{client: client, goc: gocMgr}
}

type toolDoc struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ActionTypes []string `json:"action_types"`
	Risk        string   `json:"risk"`
}

// LoadToolsFromGoc mirrors the agent registry's load cascade, narrowed to
// the tool_profile resource kind, with no static fallback: an empty tool
// catalog is a valid steady state (no tools contribute extra allowlist entries).
func (l *Loader) LoadToolsFromGoc(ctx context.Context, baseDir string) (Registry, error) {
	mapping, err := l.goc.EnsureServiceThread(ctx, "tools", baseDir)
	if err != nil {
		return Registry{}, fmt.Errorf("tool registry: ensuring tools thread: %w", err)
	}

	resources, err := l.client.ListResources(ctx, mapping.SharedContextSetID)
	if err != nil {
		return Registry{}, fmt.Errorf("tool registry: listing tool_profile resources: %w", err)
	}

	var toolResources []knowledge.Resource
	for _, r := range resources {
		if r.ResourceKind == "tool_profile" {
			toolResources = append(toolResources, r)
		}
	}
	sort.SliceStable(toolResources, func(i, j int) bool {
		return toolResources[i].CreatedAtUnix < toolResources[j].CreatedAtUnix
	})

	byID := make(map[string]model.Tool)
	order := make([]string, 0, len(toolResources))
	for _, r := range toolResources {
		t, ok := decodeTool(r)
		if !ok {
			continue
		}
		if _, exists := byID[t.ID]; !exists {
			order = append(order, t.ID)
		}
		byID[t.ID] = t
	}

	tools := make([]model.Tool, 0, len(order))
	for _, id := range order {
		tools = append(tools, byID[id])
	}
	return newRegistry(tools), nil
}

func decodeTool(r knowledge.Resource) (model.Tool, bool) {
	var doc toolDoc
	if payload, ok := r.Payload["tool"].(map[string]any); ok {
		doc = toolDocFromMap(payload)
	} else {
		doc = toolDocFromMap(r.Payload)
	}

	id := strings.ToLower(strings.TrimSpace(doc.ID))
	if id == "" {
		return model.Tool{}, false
	}

	risk, _ := model.ParseRiskLevel(doc.Risk)
	return model.Tool{
		ID:          id,
		Name:        doc.Name,
		ActionTypes: doc.ActionTypes,
		Risk:        risk,
	}, true
}

func toolDocFromMap(m map[string]any) toolDoc {
	var doc toolDoc
	if v, ok := m["id"].(string); ok {
		doc.ID = v
	}
	if v, ok := m["name"].(string); ok {
		doc.Name = v
	}
	if v, ok := m["risk"].(string); ok {
		doc.Risk = v
	}
	if v, ok := m["action_types"].([]any); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				doc.ActionTypes = append(doc.ActionTypes, s)
			}
		}
	}
	return doc
}
