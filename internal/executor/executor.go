// Package executor implements C7: the action-plan executor. It iterates a
// normalized ActionPlan under the 8-step dispatch loop from spec.md §4.7,
// following the teacher's action_executor.go Execute/ExecuteBatch idiom
// (continue on a captured per-action error, never abort the batch) and
// planner.go's executeToolsParallel semaphore-bounded fan-out for
// spawn_agents.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/sanitize"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusSkip    Status = "skip"
	StatusBlocked Status = "blocked"
	StatusError   Status = "error"
)

// ActionResult is one action's structured outcome.
type ActionResult struct {
	Label  string
	Status Status
	Note   string
}

// ActionOutput is one action's output envelope.
type ActionOutput struct {
	AgentID  string
	Provider model.ProviderKind
	Mode     string
	Output   string
}

// Callbacks has one dispatch function per action variant; Executor calls
// whichever matches the action's Type.
type Callbacks struct {
	RunAgent              func(ctx context.Context, a action.Action, data action.RunAgentData) (ActionOutput, error)
	ProposeAgent          func(ctx context.Context, a action.Action, data action.ProposeAgentData) (ActionOutput, error)
	NeedMoreDetail        func(ctx context.Context, a action.Action, data action.NeedMoreDetailData) (ActionOutput, error)
	OpenContext           func(ctx context.Context, a action.Action, data action.OpenContextData) (ActionOutput, error)
	Summarize             func(ctx context.Context, a action.Action, data action.SummarizeData) (ActionOutput, error)
	SearchPublicAgents    func(ctx context.Context, a action.Action, data action.SearchPublicAgentsData) (ActionOutput, error)
	InstallAgentBlueprint func(ctx context.Context, a action.Action, data action.InstallAgentBlueprintData) (ActionOutput, error)
	PublishAgent          func(ctx context.Context, a action.Action, data action.PublishAgentData) (ActionOutput, error)
	EnableAgent           func(ctx context.Context, a action.Action, data action.EnableAgentData) (ActionOutput, error)
	DisableAgent          func(ctx context.Context, a action.Action, data action.DisableAgentData) (ActionOutput, error)
	EnableTool            func(ctx context.Context, a action.Action, data action.EnableToolData) (ActionOutput, error)
	DisableTool           func(ctx context.Context, a action.Action, data action.DisableToolData) (ActionOutput, error)
	ListAgents            func(ctx context.Context, a action.Action, data action.ListAgentsData) (ActionOutput, error)
	ListTools             func(ctx context.Context, a action.Action, data action.ListToolsData) (ActionOutput, error)
	CreateAgent           func(ctx context.Context, a action.Action, data action.CreateAgentData) (ActionOutput, error)
	UpdateAgent           func(ctx context.Context, a action.Action, data action.UpdateAgentData) (ActionOutput, error)
	GetStatus             func(ctx context.Context, a action.Action, data action.GetStatusData) (ActionOutput, error)
	Interrupt             func(ctx context.Context, a action.Action, data action.InterruptData) (ActionOutput, error)
	RunSpawnedAgent       func(ctx context.Context, spec action.SpawnAgentSpec) (ActionOutput, error)
}

var sideEffectTypes = map[action.Type]struct{}{
	action.TypeEnableAgent:  {},
	action.TypeDisableAgent: {},
	action.TypeEnableTool:   {},
	action.TypeDisableTool:  {},
}

// Run is the result of one executor pass over a plan.
type Run struct {
	Results          []ActionResult
	Outputs          []ActionOutput
	CurrentJobID     string
	PendingApproval  *model.PendingApproval
	BlockedIndex     int
	RemainingActions []action.Action
}

// Input bundles everything the executor needs for one plan.
type Input struct {
	ChatID     string
	UserID     string
	JobID      string
	Plan       action.ActionPlan
	JobConfig  model.JobConfig
	ProviderOf func(agentID string) (model.ProviderKind, bool)
	Callbacks  Callbacks
	Store      *session.Store
}

// Execute runs in.Plan.Actions under the 8-step dispatch loop from
// spec.md §4.7, returning once the plan finishes, blocks on approval,
// blocks on budget, or is interrupted.
func Execute(ctx context.Context, in Input) (Run, error) {
	out := Run{CurrentJobID: in.JobID, BlockedIndex: -1}

	allow := in.JobConfig.AllowActions

	for i, a := range in.Plan.Actions {
		sess, err := in.Store.Get(in.ChatID)
		if err != nil {
			return out, fmt.Errorf("executor: reading session: %w", err)
		}

		// Step 1: interrupt poll (pre-action).
		if sess.Interrupt != nil && sess.Interrupt.Requested {
			switch sess.Interrupt.Mode {
			case model.InterruptCancel:
				return out, supervisorerr.NewCancelled("cancel", sess.Interrupt.Reason)
			case model.InterruptReplan:
				out.Results = append(out.Results, ActionResult{Label: label(a), Status: StatusSkip, Note: "interrupt/skip"})
				return out, nil
			}
		}

		// Step 2: allowlist check.
		if !action.IsActionAllowed(a.Type, allow) {
			out.Results = append(out.Results, ActionResult{Label: label(a), Status: StatusBlocked, Note: "blocked: not in allowlist"})
			continue
		}

		// Step 3: budget check.
		if sess.Budget.UsedActions >= in.JobConfig.Budget.MaxActions {
			out.Results = append(out.Results, ActionResult{Label: label(a), Status: StatusBlocked, Note: "blocked: budget exceeded"})
			out.BlockedIndex = i
			out.RemainingActions = in.Plan.Actions[i:]
			break
		}

		// Step 4: approval check.
		if action.ActionNeedsApproval(a, in.JobConfig.Approval, in.ProviderOf) {
			snapshot, _ := json.Marshal(a)
			remaining, _ := json.Marshal(in.Plan.Actions[i:])
			doneResults, _ := json.Marshal(out.Results)
			doneOutputs, _ := json.Marshal(out.Outputs)
			pending := &model.PendingApproval{
				ID:                 uuid.NewString(),
				ChatID:             in.ChatID,
				JobID:              in.JobID,
				ActionSnapshot:     snapshot,
				Reason:             "file-write or high-risk action requires approval",
				BlockedIndex:       i,
				RemainingActions:   remaining,
				AlreadyDoneResults: doneResults,
				AlreadyDoneOutputs: doneOutputs,
				RequestedBy:        in.UserID,
				Ts:                 time.Now(),
			}
			if _, err := in.Store.Upsert(in.ChatID, func(s model.ChatSession) model.ChatSession {
				s.State = model.ChatAwaitingApproval
				s.PendingApproval = pending
				return s
			}); err != nil {
				return out, fmt.Errorf("executor: persisting pending approval: %w", err)
			}
			out.PendingApproval = pending
			out.BlockedIndex = i
			out.RemainingActions = in.Plan.Actions[i:]
			return out, nil
		}

		// Step 5: dispatch.
		output, result, dispatchErr := dispatch(ctx, a, in.Callbacks)
		if dispatchErr != nil {
			return out, dispatchErr
		}
		out.Results = append(out.Results, result)
		if result.Status == StatusOK {
			out.Outputs = append(out.Outputs, output)
			if _, err := in.Store.Upsert(in.ChatID, func(s model.ChatSession) model.ChatSession {
				s.Budget.UsedActions++
				return s
			}); err != nil {
				return out, fmt.Errorf("executor: committing budget: %w", err)
			}
		} else if result.Status == StatusBlocked {
			if _, err := in.Store.Upsert(in.ChatID, func(s model.ChatSession) model.ChatSession {
				s.Budget.BlockedActions++
				return s
			}); err != nil {
				return out, fmt.Errorf("executor: committing blocked counter: %w", err)
			}
		}

		// Step 6: interrupt poll (post-action).
		sess, err = in.Store.Get(in.ChatID)
		if err != nil {
			return out, fmt.Errorf("executor: re-reading session: %w", err)
		}
		if sess.Interrupt != nil && sess.Interrupt.Requested {
			switch sess.Interrupt.Mode {
			case model.InterruptCancel:
				return out, supervisorerr.NewCancelled("cancel", sess.Interrupt.Reason)
			case model.InterruptReplan:
				return out, nil
			}
		}

		// Step 7: side-effect short-circuit.
		if _, ok := sideEffectTypes[a.Type]; ok {
			out.Results = append(out.Results, ActionResult{Label: label(a), Status: StatusSkip, Note: "selection_update/skip"})
			break
		}

		// Step 8: interrupt action is first-class; its callback already ran
		// in step 5, so just break the loop.
		if a.Type == action.TypeInterrupt {
			break
		}
	}

	// Clean exit: clear the interrupt flag so the next run starts without one.
	if _, err := in.Store.Upsert(in.ChatID, func(s model.ChatSession) model.ChatSession {
		s.Interrupt = nil
		return s
	}); err != nil {
		return out, fmt.Errorf("executor: clearing interrupt: %w", err)
	}
	return out, nil
}

func label(a action.Action) string { return string(a.Type) }

// dispatch calls the registered callback for a's variant. Any error other
// than a cancellation is captured into the per-action result (continue on
// error, per action_executor.go's ExecuteBatch); a cancellation is returned
// as the third value and must abort the whole run.
func dispatch(ctx context.Context, a action.Action, cb Callbacks) (output ActionOutput, result ActionResult, cancelled error) {
	result = ActionResult{Label: label(a), Status: StatusOK}

	var out ActionOutput
	var err error

	switch a.Type {
	case action.TypeRunAgent:
		out, err = invoke(ctx, a, cb.RunAgent)
	case action.TypeProposeAgent:
		out, err = invoke(ctx, a, cb.ProposeAgent)
	case action.TypeNeedMoreDetail:
		out, err = invoke(ctx, a, cb.NeedMoreDetail)
	case action.TypeOpenContext:
		out, err = invoke(ctx, a, cb.OpenContext)
	case action.TypeSummarize:
		out, err = invoke(ctx, a, cb.Summarize)
	case action.TypeSearchPublicAgents:
		out, err = invoke(ctx, a, cb.SearchPublicAgents)
	case action.TypeInstallAgentBlueprint:
		out, err = invoke(ctx, a, cb.InstallAgentBlueprint)
	case action.TypePublishAgent:
		out, err = invoke(ctx, a, cb.PublishAgent)
	case action.TypeEnableAgent:
		out, err = invoke(ctx, a, cb.EnableAgent)
	case action.TypeDisableAgent:
		out, err = invoke(ctx, a, cb.DisableAgent)
	case action.TypeEnableTool:
		out, err = invoke(ctx, a, cb.EnableTool)
	case action.TypeDisableTool:
		out, err = invoke(ctx, a, cb.DisableTool)
	case action.TypeListAgents:
		out, err = invoke(ctx, a, cb.ListAgents)
	case action.TypeListTools:
		out, err = invoke(ctx, a, cb.ListTools)
	case action.TypeCreateAgent:
		out, err = invoke(ctx, a, cb.CreateAgent)
	case action.TypeUpdateAgent:
		out, err = invoke(ctx, a, cb.UpdateAgent)
	case action.TypeGetStatus:
		out, err = invoke(ctx, a, cb.GetStatus)
	case action.TypeInterrupt:
		out, err = invoke(ctx, a, cb.Interrupt)
	case action.TypeSpawnAgents:
		out, err = dispatchSpawn(ctx, a, cb.RunSpawnedAgent)
	default:
		err = fmt.Errorf("executor: no callback registered for %s", a.Type)
	}

	if err == nil {
		if a.Type == action.TypeRunAgent {
			out.Output, _ = sanitize.Output(out.Output)
		}
		return out, result, nil
	}

	if c, ok := err.(*supervisorerr.Cancelled); ok {
		return ActionOutput{}, ActionResult{}, c
	}

	result.Status = StatusError
	result.Note = err.Error()
	return ActionOutput{}, result, nil
}

// invoke parses a's payload into T and calls fn, short-circuiting to a
// validation error result when the payload is malformed.
func invoke[T any](ctx context.Context, a action.Action, fn func(context.Context, action.Action, T) (ActionOutput, error)) (ActionOutput, error) {
	if fn == nil {
		return ActionOutput{}, fmt.Errorf("executor: no callback registered for %s", a.Type)
	}
	data, err := action.ParseData[T](a)
	if err != nil {
		return ActionOutput{}, err
	}
	return fn(ctx, a, data)
}

// dispatchSpawn runs spawn_agents.agents with parallelism bounded by
// max_parallel (an upper bound, per spec.md §9's Open Question resolution);
// ctx cancellation propagates to every child invocation.
func dispatchSpawn(ctx context.Context, a action.Action, runOne func(context.Context, action.SpawnAgentSpec) (ActionOutput, error)) (ActionOutput, error) {
	data, err := action.ParseData[action.SpawnAgentsData](a)
	if err != nil {
		return ActionOutput{}, err
	}
	if runOne == nil {
		return ActionOutput{}, fmt.Errorf("executor: no callback registered for spawn_agents")
	}

	maxParallel := data.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	results := make([]ActionOutput, len(data.Agents))
	errs := make([]error, len(data.Agents))

	for i, spec := range data.Agents {
		wg.Add(1)
		go func(idx int, s action.SpawnAgentSpec) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			out, err := runOne(ctx, s)
			if err == nil {
				out.Output, _ = sanitize.Output(out.Output)
			}
			results[idx] = out
			errs[idx] = err
		}(i, spec)
	}
	wg.Wait()

	var combined string
	for i, out := range results {
		if errs[i] != nil {
			combined += fmt.Sprintf("[%s] error: %s\n", data.Agents[i].AgentID, errs[i])
			continue
		}
		combined += fmt.Sprintf("[%s] %s\n", data.Agents[i].AgentID, out.Output)
	}

	return ActionOutput{Mode: "spawn_agents", Output: combined}, nil
}
