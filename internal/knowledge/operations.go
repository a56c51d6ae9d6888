package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"agentsup.dev/supervisor/internal/supervisorerr"
)

// Thread is a named container: one per job, plus service threads
// ("agents", "tools", "global:shared", "agents:library").
type Thread struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextSet is a selector over a thread; every thread has a "shared" set.
type ContextSet struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Name     string `json:"name"`
}

// Resource is an append-only document node.
type Resource struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Summary       string         `json:"summary"`
	RawText       string         `json:"raw_text"`
	ResourceKind  string         `json:"resource_kind"`
	URI           string         `json:"uri,omitempty"`
	ContextSetID  string         `json:"context_set_id"`
	AutoActivate  bool           `json:"auto_activate"`
	AttachTo      string         `json:"attach_to,omitempty"`
	Payload       map[string]any `json:"payload_json,omitempty"`
	CreatedAtUnix int64          `json:"created_at_unix,omitempty"`
}

// CompiledContext is the materialized, canonical view of a context set.
type CompiledContext struct {
	Text           string   `json:"compiled_text"`
	Explain        string   `json:"explain,omitempty"`
	ActiveNodeIDs  []string `json:"active_node_ids,omitempty"`
}

const nextPartEdgeType = "NEXT_PART"

// CreateThread creates a new thread with the given name.
func (c *Client) CreateThread(ctx context.Context, name string) (Thread, error) {
	attempts := []attempt{
		{name: "create_thread_v1", method: "POST", path: "/v1/threads", body: map[string]any{"name": name}},
		{name: "create_thread_legacy", method: "POST", path: "/threads", body: map[string]any{"title": name}},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return Thread{}, err
	}
	return parseThread(body)
}

// ListThreads returns every thread known to the store.
func (c *Client) ListThreads(ctx context.Context) ([]Thread, error) {
	attempts := []attempt{
		{name: "list_threads_v1", method: "GET", path: "/v1/threads"},
		{name: "list_threads_legacy", method: "GET", path: "/threads"},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return nil, err
	}
	return parseThreadList(body)
}

// FindThreadByTitle returns the first thread whose name matches any of the
// candidate titles, in order; candidates let callers tolerate legacy renames.
func (c *Client) FindThreadByTitle(ctx context.Context, candidates ...string) (Thread, bool, error) {
	threads, err := c.ListThreads(ctx)
	if err != nil {
		return Thread{}, false, err
	}
	for _, candidate := range candidates {
		for _, t := range threads {
			if t.Name == candidate {
				return t, true, nil
			}
		}
	}
	return Thread{}, false, nil
}

// ListContextSets returns the context sets attached to threadID.
func (c *Client) ListContextSets(ctx context.Context, threadID string) ([]ContextSet, error) {
	attempts := []attempt{
		{name: "list_context_sets_v1", method: "GET", path: "/v1/context-sets", query: map[string]string{"thread_id": threadID}},
		{name: "list_context_sets_legacy", method: "GET", path: "/threads/" + threadID + "/context-sets"},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return nil, err
	}
	return parseContextSetList(body)
}

// CreateContextSet creates a context set named name under threadID.
func (c *Client) CreateContextSet(ctx context.Context, threadID, name string) (ContextSet, error) {
	attempts := []attempt{
		{name: "create_context_set_v1", method: "POST", path: "/v1/context-sets",
			body: map[string]any{"thread_id": threadID, "name": name}},
		{name: "create_context_set_legacy", method: "POST", path: "/threads/" + threadID + "/context-sets",
			body: map[string]any{"name": name}},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return ContextSet{}, err
	}
	return parseContextSet(body)
}

// CreateResource creates a new node.
func (c *Client) CreateResource(ctx context.Context, r Resource) (Resource, error) {
	attempts := []attempt{
		{name: "create_resource_v1", method: "POST", path: "/v1/resources", body: r},
		{name: "create_resource_legacy", method: "POST", path: "/nodes", body: r},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return Resource{}, err
	}
	return parseResource(body)
}

// ListResources lists resources in a context set. If the indexed list
// endpoint is unavailable, falls back to a graph read filtered to
// resource-like nodes, per spec.md §4.3.
func (c *Client) ListResources(ctx context.Context, contextSetID string) ([]Resource, error) {
	indexed := []attempt{
		{name: "list_resources_v1", method: "GET", path: "/v1/resources", query: map[string]string{"context_set_id": contextSetID}},
		{name: "list_resources_legacy", method: "GET", path: "/context-sets/" + contextSetID + "/resources"},
	}
	body, err := c.runAttempts(ctx, indexed)
	if err == nil {
		return parseResourceList(body)
	}
	if _, fatal := err.(*supervisorerr.FatalRemote); fatal {
		return nil, err
	}

	graphFallback := []attempt{
		{name: "list_resources_graph_fallback", method: "GET", path: "/v1/graph/nodes", query: map[string]string{"context_set_id": contextSetID}},
	}
	body, err = c.runAttempts(ctx, graphFallback)
	if err != nil {
		return nil, err
	}
	nodes, err := parseResourceList(body)
	if err != nil {
		return nil, err
	}
	filtered := make([]Resource, 0, len(nodes))
	for _, n := range nodes {
		if n.ResourceKind != "" {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// CreateEdge creates a typed directed link from fromID to toID.
func (c *Client) CreateEdge(ctx context.Context, fromID, toID, edgeType string) error {
	attempts := []attempt{
		{name: "create_edge_v1", method: "POST", path: "/v1/edges",
			body: map[string]any{"from_id": fromID, "to_id": toID, "type": edgeType}},
		{name: "create_edge_legacy", method: "POST", path: "/edges",
			body: map[string]any{"source": fromID, "target": toID, "edge_type": edgeType}},
	}
	_, err := c.runAttempts(ctx, attempts)
	return err
}

// CreateNextPartEdge chains two appends of the same logical document.
func (c *Client) CreateNextPartEdge(ctx context.Context, fromID, toID string) error {
	return c.CreateEdge(ctx, fromID, toID, nextPartEdgeType)
}

// GetCompiledContext returns the compiled text only. An HTML response body
// is a fatal misconfiguration, never silently treated as compiled text.
func (c *Client) GetCompiledContext(ctx context.Context, contextSetID string) (string, error) {
	attempts := []attempt{
		{name: "compiled_context_v1", method: "GET", path: "/v1/context-sets/" + contextSetID + "/compiled"},
		{name: "compiled_context_legacy", method: "GET", path: "/context-sets/" + contextSetID + "/compile"},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return "", err
	}
	if looksLikeHTML(body) {
		return "", &supervisorerr.FatalRemote{Status: 502, Detail: "HTML returned — check base URL/proxy"}
	}

	var wrapped struct {
		CompiledText string `json:"compiled_text"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.CompiledText != "" {
		return wrapped.CompiledText, nil
	}
	return string(body), nil
}

// GetCompiledContextExplain additionally returns the explain payload and
// active node ids.
func (c *Client) GetCompiledContextExplain(ctx context.Context, contextSetID string) (CompiledContext, error) {
	attempts := []attempt{
		{name: "compiled_context_explain_v1", method: "GET", path: "/v1/context-sets/" + contextSetID + "/compiled",
			query: map[string]string{"explain": "true"}},
		{name: "compiled_context_explain_legacy", method: "GET", path: "/context-sets/" + contextSetID + "/compile",
			query: map[string]string{"explain": "1"}},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return CompiledContext{}, err
	}
	if looksLikeHTML(body) {
		return CompiledContext{}, &supervisorerr.FatalRemote{Status: 502, Detail: "HTML returned — check base URL/proxy"}
	}

	var cc CompiledContext
	if err := json.Unmarshal(body, &cc); err != nil {
		return CompiledContext{}, fmt.Errorf("decoding compiled context explain: %w", err)
	}
	return cc, nil
}

// GetNode fetches a single node by id.
func (c *Client) GetNode(ctx context.Context, nodeID string) (Resource, error) {
	attempts := []attempt{
		{name: "get_node_v1", method: "GET", path: "/v1/resources/" + nodeID},
		{name: "get_node_legacy", method: "GET", path: "/nodes/" + nodeID},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return Resource{}, err
	}
	return parseResource(body)
}

// ActivateNodes marks the given nodes active (included in compiled context).
func (c *Client) ActivateNodes(ctx context.Context, nodeIDs []string) error {
	attempts := []attempt{
		{name: "activate_nodes_v1", method: "POST", path: "/v1/nodes/activate", body: map[string]any{"node_ids": nodeIDs}},
	}
	_, err := c.runAttempts(ctx, attempts)
	return err
}

// DeactivateNodes marks the given nodes inactive.
func (c *Client) DeactivateNodes(ctx context.Context, nodeIDs []string) error {
	attempts := []attempt{
		{name: "deactivate_nodes_v1", method: "POST", path: "/v1/nodes/deactivate", body: map[string]any{"node_ids": nodeIDs}},
	}
	_, err := c.runAttempts(ctx, attempts)
	return err
}

// UIToken is the result of minting a short-lived UI deep-link token.
type UIToken struct {
	Token string `json:"token"`
	Exp   int64  `json:"exp"`
}

// MintUIToken mints a token for constructing a UI link. A missing token in
// the response is a fatal error, never silently ignored.
func (c *Client) MintUIToken(ctx context.Context, threadID, contextSetID string) (UIToken, error) {
	attempts := []attempt{
		{name: "mint_ui_token_v1", method: "POST", path: "/v1/ui-tokens",
			body: map[string]any{"thread_id": threadID, "context_set_id": contextSetID, "ttl_seconds": int(c.cfg.UITokenTTL.Seconds())}},
	}
	body, err := c.runAttempts(ctx, attempts)
	if err != nil {
		return UIToken{}, err
	}

	var tok UIToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return UIToken{}, fmt.Errorf("decoding ui token: %w", err)
	}
	if tok.Token == "" {
		return UIToken{}, &supervisorerr.FatalRemote{Status: 200, Detail: "mint_ui_token: missing token in response"}
	}
	return tok, nil
}

// UILink builds the deep link from a minted token.
func (c *Client) UILink(threadID, contextSetID string, tok UIToken) string {
	return fmt.Sprintf("%s?thread=%s&ctx=%s#token=%s", c.cfg.UIBase, threadID, contextSetID, tok.Token)
}
