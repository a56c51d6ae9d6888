package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"agentsup.dev/supervisor/internal/model"
)

// fieldAliases maps every accepted source field name to its canonical name.
var fieldAliases = map[string]string{
	"id": "id", "agent_id": "id", "agentId": "id",
	"name": "name",
	"description": "description", "desc": "description",
	"provider": "provider",
	"model":    "model",
	"prompt": "system_prompt", "base_prompt": "system_prompt", "system_prompt": "system_prompt",
	"metadata": "metadata",
}

func canonicalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		canon, ok := fieldAliases[k]
		if !ok {
			canon = k
		}
		out[canon] = v
	}
	return out
}

// decodeProfileFromMap builds an AgentProfile from an alias-normalized map.
func decodeProfileFromMap(raw map[string]any) (model.AgentProfile, bool) {
	m := canonicalizeKeys(raw)

	id, _ := m["id"].(string)
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return model.AgentProfile{}, false
	}

	name, _ := m["name"].(string)
	description, _ := m["description"].(string)
	providerRaw, _ := m["provider"].(string)
	modelStr, _ := m["model"].(string)
	systemPrompt, _ := m["system_prompt"].(string)

	provider := model.ProviderPlanner
	switch strings.ToLower(strings.TrimSpace(providerRaw)) {
	case string(model.ProviderCoder):
		provider = model.ProviderCoder
	case string(model.ProviderResearcher):
		provider = model.ProviderResearcher
	case string(model.ProviderPlanner), "":
		provider = model.ProviderPlanner
	default:
		provider = model.ProviderPlanner
	}

	var metadata map[string]any
	if v, ok := m["metadata"].(map[string]any); ok {
		metadata = v
	}

	return model.AgentProfile{
		ID:           id,
		Name:         name,
		Description:  description,
		Provider:     provider,
		Model:        modelStr,
		SystemPrompt: systemPrompt,
		Metadata:     metadata,
	}, true
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|yaml|yml)?\\s*\\n(.*?)\\n```")

// decodeProfileFromFencedBlocks scans text for fenced JSON/YAML blocks and
// decodes the first one that yields a valid profile.
func decodeProfileFromFencedBlocks(text string) (model.AgentProfile, bool) {
	matches := fencedBlockPattern.FindAllStringSubmatch(text, -1)
	for _, match := range matches {
		if p, ok := decodeProfileFromDocument(match[1]); ok {
			return p, true
		}
	}
	return model.AgentProfile{}, false
}

// decodeProfileFromDocument tries JSON first, then the flat-object YAML
// subset, against the document as a whole.
func decodeProfileFromDocument(text string) (model.AgentProfile, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.AgentProfile{}, false
	}

	var jsonMap map[string]any
	if err := json.Unmarshal([]byte(text), &jsonMap); err == nil {
		return decodeProfileFromMap(jsonMap)
	}

	yamlMap, err := decodeYAMLSubset(text)
	if err != nil {
		return model.AgentProfile{}, false
	}
	return decodeProfileFromMap(yamlMap)
}

// decodeYAMLSubset decodes text with the real yaml.v3 decoder and then
// narrows the result to the documented flat-object subset: scalars, quoted
// strings, block scalars, and maps nested by indentation — anything beyond
// that (sequences of documents, anchors, merge keys) is outside scope and
// simply passes through as whatever yaml.v3 produced for that node, since
// the caller only reads the known alias keys.
func decodeYAMLSubset(text string) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	return normalizeYAMLMap(raw), nil
}

// normalizeYAMLMap recursively walks nested map[string]any and []any values.
// Any other value, including a map[any]any, is returned unchanged.
func normalizeYAMLMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAMLMap(t)
	case []any:
		result := make([]any, len(t))
		for i, item := range t {
			result[i] = normalizeYAMLValue(item)
		}
		return result
	default:
		return v
	}
}

// ParseProfilesFromText extracts every agent profile document found in the
// fenced JSON/YAML blocks of a compiled-context blob, keeping the first
// profile seen for each id. Text outside fenced blocks is not parsed.
func ParseProfilesFromText(text string) []model.AgentProfile {
	var profiles []model.AgentProfile
	seen := make(map[string]struct{})

	matches := fencedBlockPattern.FindAllStringSubmatch(text, -1)
	for _, match := range matches {
		if p, ok := decodeProfileFromDocument(match[1]); ok {
			if _, dup := seen[p.ID]; !dup {
				seen[p.ID] = struct{}{}
				profiles = append(profiles, p)
			}
		}
	}
	return profiles
}
