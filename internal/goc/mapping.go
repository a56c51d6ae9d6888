// Package goc implements C4: the persisted mapping between local jobs/
// workspaces and knowledge-store threads/context-sets, plus the tracking-doc
// append operation that chains resources via NEXT_PART edges. In-flight
// de-duplication for ensureJobThread/ensureServiceThread uses
// golang.org/x/sync/singleflight, replacing a hand-rolled promise map with
// exactly the "N concurrent callers, one creation" primitive spec.md §9 asks
// for.
package goc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"agentsup.dev/supervisor/internal/knowledge"
)

// Mapping is the persisted per-job or per-workspace goc.json contents.
type Mapping struct {
	ThreadID           string            `json:"thread_id"`
	SharedContextSetID string            `json:"shared_context_set_id"`
	AgentContextSets   map[string]string `json:"agent_context_sets,omitempty"`
	LastNodeByDoc      map[string]string `json:"last_node_by_doc,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Manager owns the knowledge-store client and the persisted mapping files,
// de-duplicating concurrent ensure-thread calls for the same key.
type Manager struct {
	client *knowledge.Client

	autoActivateProgress bool
	trackingChunkMaxLen  int
	jobThreadPrefix      string

	group singleflight.Group
}

type Config struct {
	AutoActivateProgress bool
	TrackingChunkMaxLen  int   // 0 means unbounded
	JobThreadPrefix      string
}

func NewManager(client *knowledge.Client, cfg Config) *Manager {
	prefix := cfg.JobThreadPrefix
	if prefix == "" {
		prefix = "job:"
	}
	return &Manager{
		client:               client,
		autoActivateProgress: cfg.AutoActivateProgress,
		trackingChunkMaxLen:  cfg.TrackingChunkMaxLen,
		jobThreadPrefix:      prefix,
	}
}

func mappingPath(jobDir string) string { return filepath.Join(jobDir, "goc.json") }

func loadMapping(path string) (Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Mapping{LastNodeByDoc: map[string]string{}}, nil
		}
		return Mapping{}, fmt.Errorf("goc: reading %s: %w", path, err)
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return Mapping{}, fmt.Errorf("goc: decoding %s: %w", path, err)
	}
	if m.LastNodeByDoc == nil {
		m.LastNodeByDoc = map[string]string{}
	}
	return m, nil
}

func saveMapping(path string, m Mapping) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("goc: encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("goc: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("goc: renaming %s: %w", tmp, err)
	}
	return nil
}

// EnsureJobThread is idempotent: if the job's mapping already has a thread
// id, it's reused; otherwise a thread titled "job:<id>" is found-or-created,
// a "shared" context set is ensured under it, and a default job_config
// resource is created if none exists. Concurrent callers for the same
// (jobDir, jobID) share one creation via singleflight.
func (m *Manager) EnsureJobThread(ctx context.Context, jobID, jobDir string) (Mapping, error) {
	key := jobDir + "|" + jobID
	result, err, _ := m.group.Do(key, func() (any, error) {
		return m.ensureJobThreadOnce(ctx, jobID, jobDir)
	})
	if err != nil {
		return Mapping{}, err
	}
	return result.(Mapping), nil
}

func (m *Manager) ensureJobThreadOnce(ctx context.Context, jobID, jobDir string) (Mapping, error) {
	path := mappingPath(jobDir)
	mapping, err := loadMapping(path)
	if err != nil {
		return Mapping{}, err
	}

	if mapping.ThreadID == "" {
		title := m.jobThreadPrefix + jobID
		thread, found, err := m.client.FindThreadByTitle(ctx, title)
		if err != nil {
			return Mapping{}, err
		}
		if !found {
			thread, err = m.client.CreateThread(ctx, title)
			if err != nil {
				return Mapping{}, err
			}
		}
		mapping.ThreadID = thread.ID
	}

	if mapping.SharedContextSetID == "" {
		csID, err := m.ensureSharedContextSet(ctx, mapping.ThreadID)
		if err != nil {
			return Mapping{}, err
		}
		mapping.SharedContextSetID = csID
	}

	if err := m.ensureDefaultJobConfig(ctx, mapping.SharedContextSetID); err != nil {
		return Mapping{}, err
	}

	if err := saveMapping(path, mapping); err != nil {
		return Mapping{}, err
	}
	return mapping, nil
}

func (m *Manager) ensureSharedContextSet(ctx context.Context, threadID string) (string, error) {
	sets, err := m.client.ListContextSets(ctx, threadID)
	if err != nil {
		return "", err
	}
	for _, cs := range sets {
		if cs.Name == "shared" {
			return cs.ID, nil
		}
	}
	cs, err := m.client.CreateContextSet(ctx, threadID, "shared")
	if err != nil {
		return "", err
	}
	return cs.ID, nil
}

func (m *Manager) ensureDefaultJobConfig(ctx context.Context, contextSetID string) error {
	resources, err := m.client.ListResources(ctx, contextSetID)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if r.ResourceKind == "job_config" {
			return nil
		}
	}

	_, err = m.client.CreateResource(ctx, knowledge.Resource{
		Name:         "job_config",
		Summary:      "default job configuration",
		RawText:      "{}",
		ResourceKind: "job_config",
		ContextSetID: contextSetID,
		AutoActivate: true,
	})
	return err
}

// serviceThreadTitles are title aliases to tolerate legacy renames.
var serviceThreadTitles = map[string][]string{
	"agents": {"agents", "agent_registry", "agents:library"},
	"tools":  {"tools", "tool_registry"},
	"global": {"global:shared", "global"},
}

// EnsureServiceThread finds-or-creates a workspace-scoped service thread
// ("agents" | "tools" | "global"), trying each candidate title in order, and
// persists the mapping to baseDir/goc.<kind>.json (goc.service.json for
// agents/tools, goc.global.json for global).
func (m *Manager) EnsureServiceThread(ctx context.Context, kind, baseDir string) (Mapping, error) {
	key := "service|" + kind + "|" + baseDir
	result, err, _ := m.group.Do(key, func() (any, error) {
		return m.ensureServiceThreadOnce(ctx, kind, baseDir)
	})
	if err != nil {
		return Mapping{}, err
	}
	return result.(Mapping), nil
}

func servicePath(kind, baseDir string) string {
	if kind == "global" {
		return filepath.Join(baseDir, "goc.global.json")
	}
	return filepath.Join(baseDir, "goc.service.json")
}

func (m *Manager) ensureServiceThreadOnce(ctx context.Context, kind, baseDir string) (Mapping, error) {
	path := servicePath(kind, baseDir)
	mapping, err := loadMapping(path)
	if err != nil {
		return Mapping{}, err
	}

	if mapping.ThreadID == "" {
		candidates := serviceThreadTitles[kind]
		if len(candidates) == 0 {
			candidates = []string{kind}
		}
		thread, found, err := m.client.FindThreadByTitle(ctx, candidates...)
		if err != nil {
			return Mapping{}, err
		}
		if !found {
			thread, err = m.client.CreateThread(ctx, candidates[0])
			if err != nil {
				return Mapping{}, err
			}
		}
		mapping.ThreadID = thread.ID
	}

	if mapping.SharedContextSetID == "" {
		csID, err := m.ensureSharedContextSet(ctx, mapping.ThreadID)
		if err != nil {
			return Mapping{}, err
		}
		mapping.SharedContextSetID = csID
	}

	if err := saveMapping(path, mapping); err != nil {
		return Mapping{}, err
	}
	return mapping, nil
}

// trackedDocs are the tracking markdown documents a job appends to.
var trackedDocs = map[string]struct{}{
	"plan.md":      {},
	"research.md":  {},
	"progress.md":  {},
	"decisions.md": {},
}

// AppendTrackingChunkToGoc creates a new resource for one append to docName,
// attaches it to the previous node in the chain via a NEXT_PART edge, and
// advances lastNodeByDoc. progress.md only auto-activates when
// m.autoActivateProgress is set; every other doc kind auto-activates.
func (m *Manager) AppendTrackingChunkToGoc(ctx context.Context, jobID, jobDir, docName, chunk string) error {
	if _, ok := trackedDocs[docName]; !ok {
		return fmt.Errorf("goc: unknown tracking doc %q", docName)
	}

	path := mappingPath(jobDir)
	mapping, err := loadMapping(path)
	if err != nil {
		return err
	}
	if mapping.ThreadID == "" || mapping.SharedContextSetID == "" {
		return fmt.Errorf("goc: job %s has no ensured thread; call EnsureJobThread first", jobID)
	}

	text := chunk
	if m.trackingChunkMaxLen > 0 && len(text) > m.trackingChunkMaxLen {
		text = text[:m.trackingChunkMaxLen]
	}

	autoActivate := true
	if docName == "progress.md" {
		autoActivate = m.autoActivateProgress
	}

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	docKind := docName[:len(docName)-len(filepath.Ext(docName))]

	previousID := mapping.LastNodeByDoc[docName]
	resource, err := m.client.CreateResource(ctx, knowledge.Resource{
		Name:         fmt.Sprintf("%s@%s", docKind, stamp),
		Summary:      text,
		RawText:      text,
		ResourceKind: "tracking_chunk",
		ContextSetID: mapping.SharedContextSetID,
		AutoActivate: autoActivate,
		AttachTo:     previousID,
	})
	if err != nil {
		return err
	}

	if previousID != "" {
		if err := m.client.CreateNextPartEdge(ctx, previousID, resource.ID); err != nil {
			return err
		}
	}

	mapping.LastNodeByDoc[docName] = resource.ID
	return saveMapping(path, mapping)
}

// AppendHook fires the async best-effort mirror of a local tracking-file
// append into the store. The local file remains the source of truth:
// failures here are logged and swallowed, never surfaced to the caller.
func (m *Manager) AppendHook(ctx context.Context, jobID, jobDir, docName, chunk string) {
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.AppendTrackingChunkToGoc(hookCtx, jobID, jobDir, docName, chunk); err != nil {
			slog.ErrorContext(ctx, "goc append hook failed", "job_id", jobID, "doc", docName, "err", err)
		}
	}()
}
