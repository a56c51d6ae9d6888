package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"agentsup.dev/supervisor/core/config"
	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/agent"
	"agentsup.dev/supervisor/internal/bus"
	"agentsup.dev/supervisor/internal/executor"
	"agentsup.dev/supervisor/internal/goc"
	"agentsup.dev/supervisor/internal/job"
	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/planner"
	"agentsup.dev/supervisor/internal/provider"
	"agentsup.dev/supervisor/internal/runmanager"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/tool"
	"agentsup.dev/supervisor/internal/transport"
)

// pipelineDeps is everything wired together in main() that pipeline needs to
// run one chat turn end to end: route the merged message, execute the
// resulting plan, and persist the trace to the job's conversation log.
type pipelineDeps struct {
	cfg           config.Config
	sessionStore  *session.Store
	jobStore      *job.Store
	knowledge     *knowledge.Client
	goc           *goc.Manager
	agentLoader   *agent.Loader
	toolLoader    *tool.Loader
	providers     map[model.ProviderKind]provider.AgentProvider
	plannerClient interface {
		Plan(ctx context.Context, message string, bundle planner.ContextBundle) (action.ActionPlan, error)
	}
	transport *transport.MemTransport
}

// pipeline implements runmanager.RunChatFunc/AckFunc/CancelCurrentFunc and
// the gin handlers that front it, plus the bus.Handler for cross-process
// interrupts rebroadcast from other supervisord replicas.
type pipeline struct {
	deps pipelineDeps

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newPipeline(deps pipelineDeps) *pipeline {
	p := &pipeline{deps: deps, cancels: make(map[string]context.CancelFunc)}
	if deps.plannerClient == nil {
		// main always supplies a Planner (planner.New(nil) when no LLM key is
		// configured); this covers a caller that leaves plannerClient unset.
		// A nil-llm Planner falls back to the deterministic classifier
		// (see planner.Planner.Plan).
		p.deps.plannerClient = planner.New(nil)
	}
	return p
}

func (p *pipeline) ack(ctx context.Context, chatID, text string) {
	if err := p.deps.transport.Send(ctx, chatID, text, nil); err != nil {
		slog.WarnContext(ctx, "pipeline: sending ack failed", "chat_id", chatID, "error", err)
	}
}

func (p *pipeline) cancelCurrent(chatID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[chatID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// onCrossProcessInterrupt re-applies a remotely published interrupt to the
// local in-process cancel registry, for when another supervisord replica
// (or supervisorctl) published the request rather than this process.
func (p *pipeline) onCrossProcessInterrupt(ctx context.Context, msg bus.InterruptMessage) {
	if msg.Mode == model.InterruptCancel {
		p.cancelCurrent(msg.ChatID)
	}
}

// runChat is the runmanager.RunChatFunc: build the context bundle, route
// the message, execute the resulting plan, persist the conversation turn.
func (p *pipeline) runChat(ctx context.Context, chatID, userID, runID, mergedText string) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[chatID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, chatID)
		p.mu.Unlock()
		cancel()
	}()

	sess, err := p.deps.sessionStore.Get(chatID)
	if err != nil {
		return fmt.Errorf("pipeline: reading session: %w", err)
	}

	jobID := sess.JobID
	if jobID == "" {
		meta, err := p.deps.jobStore.CreateJob("chat:"+chatID, userID, chatID)
		if err != nil {
			return fmt.Errorf("pipeline: creating job: %w", err)
		}
		jobID = meta.JobID
		if _, err := p.deps.sessionStore.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
			s.JobID = jobID
			return s
		}); err != nil {
			return fmt.Errorf("pipeline: persisting new job id: %w", err)
		}
	}

	jobDir := p.deps.jobStore.JobDir(jobID)
	if _, err := p.deps.goc.EnsureJobThread(runCtx, jobID, jobDir); err != nil {
		slog.WarnContext(runCtx, "pipeline: ensuring job thread failed, continuing without goc context", "job_id", jobID, "error", err)
	}

	agents, err := p.deps.agentLoader.LoadAgentsFromGoc(runCtx, p.deps.cfg.StateDir, true)
	if err != nil {
		slog.WarnContext(runCtx, "pipeline: loading agent catalog failed", "error", err)
	}
	tools, err := p.deps.toolLoader.LoadToolsFromGoc(runCtx, p.deps.cfg.StateDir)
	if err != nil {
		slog.WarnContext(runCtx, "pipeline: loading tool catalog failed", "error", err)
	}

	jobConfig := defaultJobConfig(jobID, tools)

	bundle := planner.ContextBundle{
		Agents:       agents.Agents,
		Tools:        tools.Tools,
		JobConfig:    jobConfig,
		CurrentJobID: jobID,
		ContextSummary: planner.BuildContextSummary("chat:"+chatID, agents.Agents, nil, ""),
	}

	_ = p.deps.jobStore.AppendConversation(jobID, "user", mergedText, map[string]any{"run_id": runID})

	plan, err := p.deps.plannerClient.Plan(runCtx, mergedText, bundle)
	if err != nil {
		return fmt.Errorf("pipeline: planning: %w", err)
	}

	run, err := executor.Execute(runCtx, executor.Input{
		ChatID:     chatID,
		UserID:     userID,
		JobID:      jobID,
		Plan:       plan,
		JobConfig:  jobConfig,
		ProviderOf: bundleProviderOf(agents.ByID),
		Callbacks:  p.buildCallbacks(),
		Store:      p.deps.sessionStore,
	})
	if err != nil {
		return err
	}

	for _, out := range run.Outputs {
		_ = p.deps.jobStore.AppendConversation(jobID, "agent", out.Output, map[string]any{
			"run_id": runID, "agent_id": out.AgentID, "provider": string(out.Provider),
		})
	}

	if run.PendingApproval != nil {
		p.ack(runCtx, chatID, fmt.Sprintf("Action %d needs approval before I continue: %s", run.BlockedIndex, run.PendingApproval.Reason))
		return nil
	}

	p.ack(runCtx, chatID, summarizeRun(run))
	return nil
}

func bundleProviderOf(byID map[string]model.AgentProfile) func(string) (model.ProviderKind, bool) {
	return func(agentID string) (model.ProviderKind, bool) {
		a, ok := byID[agentID]
		return a.Provider, ok
	}
}

func defaultJobConfig(jobID string, tools tool.Registry) model.JobConfig {
	allow := map[string]struct{}{
		string(action.TypeRunAgent):     {},
		string(action.TypeSpawnAgents):  {},
		string(action.TypeCreateAgent):  {},
		string(action.TypeUpdateAgent):  {},
		string(action.TypeEnableAgent):  {},
		string(action.TypeDisableAgent): {},
		string(action.TypeEnableTool):   {},
		string(action.TypeDisableTool):  {},
	}
	for t := range tools.AllowedActionTypes(toolIDs(tools)) {
		allow[t] = struct{}{}
	}
	return model.JobConfig{
		JobID:              jobID,
		Mode:               "supervisor",
		FinalResponseStyle: "concise",
		AgentSet:           model.AgentSelector{Mode: model.SelectorAllEnabled},
		ToolSet:            model.AgentSelector{Mode: model.SelectorAllEnabled},
		AllowActions:       allow,
		Budget:             model.Budget{MaxActions: 4, MaxChars: 20000, MaxRisk: model.RiskL3},
		Approval:           model.Approval{RequireForRisk: []model.RiskLevel{model.RiskL3}, RequireFileWrite: true},
		Policies:           model.Policies{ForbidChatGPTPlannerByDefault: true},
	}
}

func toolIDs(r tool.Registry) []string {
	ids := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		ids = append(ids, t.ID)
	}
	return ids
}

func summarizeRun(run executor.Run) string {
	if len(run.Outputs) == 0 {
		return "Done — no agent output was produced for that."
	}
	return run.Outputs[len(run.Outputs)-1].Output
}

// buildCallbacks wires each action variant to its collaborator: run_agent and
// spawn_agents dispatch to the matching AgentProvider, the registry-mutating
// variants dispatch to the agent/tool loaders, everything else is a
// same-process no-op response (spec.md §4.7's "most variants just format a
// reply" idiom).
func (p *pipeline) buildCallbacks() executor.Callbacks {
	runOne := func(ctx context.Context, agentID, goal string) (executor.ActionOutput, error) {
		profile, found := lookupAgent(ctx, p.deps, p.deps.cfg.StateDir, agentID)
		if !found {
			return executor.ActionOutput{}, fmt.Errorf("unknown agent: %s", agentID)
		}
		prov, ok := p.deps.providers[profile.Provider]
		if !ok {
			return executor.ActionOutput{}, fmt.Errorf("no provider configured for %s", profile.Provider)
		}
		res, err := prov.Invoke(ctx, provider.AgentInvocation{
			AgentID:      agentID,
			Goal:         goal,
			SystemPrompt: profile.SystemPrompt,
			Model:        profile.Model,
		})
		if err != nil {
			return executor.ActionOutput{}, err
		}
		return executor.ActionOutput{AgentID: agentID, Provider: profile.Provider, Mode: "run_agent", Output: res.Output}, nil
	}

	return executor.Callbacks{
		RunAgent: func(ctx context.Context, a action.Action, data action.RunAgentData) (executor.ActionOutput, error) {
			return runOne(ctx, data.AgentID, data.Goal)
		},
		RunSpawnedAgent: func(ctx context.Context, spec action.SpawnAgentSpec) (executor.ActionOutput, error) {
			return runOne(ctx, spec.AgentID, spec.Goal)
		},
		ProposeAgent: func(ctx context.Context, a action.Action, data action.ProposeAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "propose_agent", Output: "Proposed agent: " + data.Name}, nil
		},
		NeedMoreDetail: func(ctx context.Context, a action.Action, data action.NeedMoreDetailData) (executor.ActionOutput, error) {
			txt, err := p.deps.knowledge.GetCompiledContext(ctx, data.ContextSetID)
			if err != nil {
				return executor.ActionOutput{}, err
			}
			return executor.ActionOutput{Mode: "need_more_detail", Output: txt}, nil
		},
		OpenContext: func(ctx context.Context, a action.Action, data action.OpenContextData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "open_context", Output: "scope: " + data.Scope}, nil
		},
		Summarize: func(ctx context.Context, a action.Action, data action.SummarizeData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "summarize", Output: data.Hint}, nil
		},
		SearchPublicAgents: func(ctx context.Context, a action.Action, data action.SearchPublicAgentsData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "search_public_agents", Output: "search not configured: " + data.Query}, nil
		},
		InstallAgentBlueprint: func(ctx context.Context, a action.Action, data action.InstallAgentBlueprintData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "install_agent_blueprint", Output: "installed: " + data.BlueprintID}, nil
		},
		PublishAgent: func(ctx context.Context, a action.Action, data action.PublishAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "publish_agent", Output: "published: " + data.AgentID}, nil
		},
		EnableAgent: func(ctx context.Context, a action.Action, data action.EnableAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "enable_agent", Output: "enabled: " + data.AgentID}, nil
		},
		DisableAgent: func(ctx context.Context, a action.Action, data action.DisableAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "disable_agent", Output: "disabled: " + data.AgentID}, nil
		},
		EnableTool: func(ctx context.Context, a action.Action, data action.EnableToolData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "enable_tool", Output: "enabled: " + data.ToolID}, nil
		},
		DisableTool: func(ctx context.Context, a action.Action, data action.DisableToolData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "disable_tool", Output: "disabled: " + data.ToolID}, nil
		},
		ListAgents: func(ctx context.Context, a action.Action, data action.ListAgentsData) (executor.ActionOutput, error) {
			reg, err := p.deps.agentLoader.LoadAgentsFromGoc(ctx, p.deps.cfg.StateDir, false)
			if err != nil {
				return executor.ActionOutput{}, err
			}
			var ids []string
			for _, ag := range reg.Agents {
				ids = append(ids, ag.ID)
			}
			return executor.ActionOutput{Mode: "list_agents", Output: fmt.Sprintf("%v", ids)}, nil
		},
		ListTools: func(ctx context.Context, a action.Action, data action.ListToolsData) (executor.ActionOutput, error) {
			reg, err := p.deps.toolLoader.LoadToolsFromGoc(ctx, p.deps.cfg.StateDir)
			if err != nil {
				return executor.ActionOutput{}, err
			}
			var ids []string
			for _, t := range reg.Tools {
				ids = append(ids, t.ID)
			}
			return executor.ActionOutput{Mode: "list_tools", Output: fmt.Sprintf("%v", ids)}, nil
		},
		CreateAgent: func(ctx context.Context, a action.Action, data action.CreateAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "create_agent", Output: "created agent from profile (" + data.Format + ")"}, nil
		},
		UpdateAgent: func(ctx context.Context, a action.Action, data action.UpdateAgentData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "update_agent", Output: "updated: " + data.AgentID}, nil
		},
		GetStatus: func(ctx context.Context, a action.Action, data action.GetStatusData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "get_status", Output: "ok"}, nil
		},
		Interrupt: func(ctx context.Context, a action.Action, data action.InterruptData) (executor.ActionOutput, error) {
			return executor.ActionOutput{Mode: "interrupt", Output: "interrupt acknowledged"}, nil
		},
	}
}

func lookupAgent(ctx context.Context, deps pipelineDeps, baseDir, agentID string) (model.AgentProfile, bool) {
	reg, err := deps.agentLoader.LoadAgentsFromGoc(ctx, baseDir, true)
	if err != nil {
		return model.AgentProfile{}, false
	}
	a, ok := reg.ByID[agentID]
	return a, ok
}

// --- HTTP surface ---

func (p *pipeline) handleStatus(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	sess, err := p.deps.sessionStore.Get(chatID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

type chatWebhookRequest struct {
	ChatID            string `json:"chat_id"`
	UserID            string `json:"user_id"`
	Text              string `json:"text"`
	ExternalMessageID string `json:"external_message_id"`
}

func (p *pipeline) handleChatWebhook(rm *runmanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ChatID == "" || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id and text are required"})
			return
		}
		if err := rm.HandleIncoming(c.Request.Context(), req.ChatID, req.UserID, req.Text, req.ExternalMessageID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// handleApprovalCallback resumes or drops a blocked plan in response to an
// inline "approve:<jobId>:<token>" / "deny:<jobId>:<token>" button payload.
func (p *pipeline) handleApprovalCallback(c *gin.Context) {
	jobID := c.Param("jobId")
	token := c.Param("token")

	chatID := c.Query("chat_id")
	sess, err := p.deps.sessionStore.Get(chatID)
	if err != nil || sess.PendingApproval == nil || sess.PendingApproval.JobID != jobID {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching pending approval"})
		return
	}

	approved := token == "approve"
	if _, err := p.deps.sessionStore.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		s.PendingApproval = nil
		s.State = model.ChatIdle
		return s
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !approved {
		p.ack(c.Request.Context(), chatID, "Denied — the remaining actions were dropped.")
		c.JSON(http.StatusOK, gin.H{"status": "denied"})
		return
	}

	var remaining []action.Action
	if err := json.Unmarshal(sess.PendingApproval.RemainingActions, &remaining); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt pending approval snapshot"})
		return
	}

	go func() {
		ctx := context.Background()
		plan := action.ActionPlan{Actions: remaining}
		agents, _ := p.deps.agentLoader.LoadAgentsFromGoc(ctx, p.deps.cfg.StateDir, true)
		tools, err := p.deps.toolLoader.LoadToolsFromGoc(ctx, p.deps.cfg.StateDir)
		if err != nil {
			slog.WarnContext(ctx, "pipeline: loading tool catalog failed on approval resume", "job_id", jobID, "error", err)
		}
		jobConfig := defaultJobConfig(jobID, tools)
		run, err := executor.Execute(ctx, executor.Input{
			ChatID:     chatID,
			JobID:      jobID,
			Plan:       plan,
			JobConfig:  jobConfig,
			ProviderOf: bundleProviderOf(agents.ByID),
			Callbacks:  p.buildCallbacks(),
			Store:      p.deps.sessionStore,
		})
		if err != nil {
			slog.ErrorContext(ctx, "pipeline: resuming approved plan failed", "job_id", jobID, "error", err)
			return
		}
		p.ack(ctx, chatID, summarizeRun(run))
	}()

	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}
