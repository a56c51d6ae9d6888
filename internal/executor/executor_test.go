package executor_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/executor"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

func TestExecutor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Executor Suite")
}

func mustAction(t action.Type, data any) action.Action {
	raw, err := json.Marshal(map[string]any{"type": string(t), "data": data})
	Expect(err).NotTo(HaveOccurred())
	a, ok := action.NormalizeAction(raw)
	Expect(ok).To(BeTrue())
	return a
}

func newStore() (*session.Store, func()) {
	dir, err := os.MkdirTemp("", "executor-test-*")
	Expect(err).NotTo(HaveOccurred())
	store, err := session.New(dir)
	Expect(err).NotTo(HaveOccurred())
	return store, func() { os.RemoveAll(dir) }
}

var _ = Describe("Execute", func() {
	var (
		store   *session.Store
		cleanup func()
		chatID  string
	)

	BeforeEach(func() {
		store, cleanup = newStore()
		chatID = "chat-1"
	})

	AfterEach(func() { cleanup() })

	It("runs a simple single-agent plan to completion", func() {
		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeRunAgent, action.RunAgentData{AgentID: "coder", Goal: "fix it"}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{"run_agent": {}},
				Budget:       model.Budget{MaxActions: 4},
			},
			Callbacks: executor.Callbacks{
				RunAgent: func(ctx context.Context, a action.Action, data action.RunAgentData) (executor.ActionOutput, error) {
					return executor.ActionOutput{AgentID: data.AgentID, Output: "done: " + data.Goal}, nil
				},
			},
			Store: store,
		}
		run, err := executor.Execute(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Outputs).To(HaveLen(1))
		Expect(run.Outputs[0].Output).To(Equal("done: fix it"))
		Expect(run.PendingApproval).To(BeNil())

		sess, err := store.Get(chatID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Budget.UsedActions).To(Equal(1))
	})

	It("blocks an action not present in the job's allowlist", func() {
		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeRunAgent, action.RunAgentData{AgentID: "coder", Goal: "fix it"}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{}, // nothing allowed
				Budget:       model.Budget{MaxActions: 4},
			},
			Callbacks: executor.Callbacks{
				RunAgent: func(ctx context.Context, a action.Action, data action.RunAgentData) (executor.ActionOutput, error) {
					Fail("run_agent callback should never be invoked when blocked by the allowlist")
					return executor.ActionOutput{}, nil
				},
			},
			Store: store,
		}
		run, err := executor.Execute(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Outputs).To(BeEmpty())
		Expect(run.Results).To(HaveLen(1))
		Expect(run.Results[0].Status).To(Equal(executor.StatusBlocked))
	})

	It("stops and records the remaining actions once the action budget is exhausted", func() {
		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeGetStatus, action.GetStatusData{Detail: "summary"}),
			mustAction(action.TypeListAgents, action.ListAgentsData{}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{"get_status": {}, "list_agents": {}},
				Budget:       model.Budget{MaxActions: 0},
			},
			Callbacks: executor.Callbacks{},
			Store:     store,
		}
		run, err := executor.Execute(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.BlockedIndex).To(Equal(0))
		Expect(run.RemainingActions).To(HaveLen(2))
	})

	It("gates a coder file-writing run on approval and persists enough state to resume", func() {
		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeRunAgent, action.RunAgentData{AgentID: "coder", Goal: "write the file"}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{"run_agent": {}},
				Budget:       model.Budget{MaxActions: 4},
				Approval:     model.Approval{RequireFileWrite: true},
			},
			ProviderOf: func(agentID string) (model.ProviderKind, bool) {
				return model.ProviderCoder, agentID == "coder"
			},
			Callbacks: executor.Callbacks{
				RunAgent: func(ctx context.Context, a action.Action, data action.RunAgentData) (executor.ActionOutput, error) {
					Fail("run_agent should not run before approval is granted")
					return executor.ActionOutput{}, nil
				},
			},
			Store: store,
		}
		run, err := executor.Execute(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.PendingApproval).NotTo(BeNil())
		Expect(run.PendingApproval.ChatID).To(Equal(chatID))

		sess, err := store.Get(chatID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.ChatAwaitingApproval))
		Expect(sess.PendingApproval).NotTo(BeNil())
	})

	It("aborts with a cancellation error when a cancel interrupt is pending before dispatch", func() {
		_, err := store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
			s.Interrupt = &model.Interrupt{Requested: true, Mode: model.InterruptCancel, Reason: "stop now", Ts: time.Now()}
			return s
		})
		Expect(err).NotTo(HaveOccurred())

		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeGetStatus, action.GetStatusData{}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{"get_status": {}},
				Budget:       model.Budget{MaxActions: 4},
			},
			Store: store,
		}
		_, err = executor.Execute(context.Background(), in)
		Expect(err).To(HaveOccurred())
		var cancelled *supervisorerr.Cancelled
		Expect(err).To(BeAssignableToTypeOf(cancelled))
	})

	It("fans spawn_agents out across its sub-agents and joins their outputs", func() {
		plan := action.ActionPlan{Actions: []action.Action{
			mustAction(action.TypeSpawnAgents, action.SpawnAgentsData{
				Summary: "two jobs",
				Agents: []action.SpawnAgentSpec{
					{AgentID: "a", Goal: "task a"},
					{AgentID: "b", Goal: "task b"},
				},
				MaxParallel: 2,
			}),
		}}
		in := executor.Input{
			ChatID: chatID, JobID: "job-1", Plan: plan,
			JobConfig: model.JobConfig{
				AllowActions: map[string]struct{}{"spawn_agents": {}},
				Budget:       model.Budget{MaxActions: 4},
			},
			Callbacks: executor.Callbacks{
				RunSpawnedAgent: func(ctx context.Context, spec action.SpawnAgentSpec) (executor.ActionOutput, error) {
					return executor.ActionOutput{AgentID: spec.AgentID, Output: "result for " + spec.AgentID}, nil
				},
			},
			Store: store,
		}
		run, err := executor.Execute(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Outputs).To(HaveLen(1))
		Expect(run.Outputs[0].Output).To(ContainSubstring("result for a"))
		Expect(run.Outputs[0].Output).To(ContainSubstring("result for b"))
	})
})
