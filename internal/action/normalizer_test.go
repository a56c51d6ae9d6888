package action_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/model"
)

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("NormalizeAction", func() {
	It("accepts a well-formed run_agent action", func() {
		a, ok := action.NormalizeAction(raw(map[string]any{
			"type": "run_agent",
			"data": map[string]any{"agent_id": "Coder", "goal": "fix the bug"},
		}))
		Expect(ok).To(BeTrue())
		Expect(a.Type).To(Equal(action.TypeRunAgent))
		Expect(a.Risk).To(Equal(model.RiskL1))

		data, err := action.ParseData[action.RunAgentData](a)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.AgentID).To(Equal("coder")) // lowercased
		Expect(data.Goal).To(Equal("fix the bug"))
	})

	It("recovers run_agent from flattened legacy aliases", func() {
		a, ok := action.NormalizeAction(raw(map[string]any{
			"type":  "agent_run",
			"agent": "researcher",
			"task":  "look into the outage",
		}))
		Expect(ok).To(BeTrue())
		Expect(a.Type).To(Equal(action.TypeRunAgent))

		data, err := action.ParseData[action.RunAgentData](a)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.AgentID).To(Equal("researcher"))
		Expect(data.Goal).To(Equal("look into the outage"))
	})

	It("rejects run_agent with no goal", func() {
		_, ok := action.NormalizeAction(raw(map[string]any{
			"type": "run_agent",
			"data": map[string]any{"agent_id": "coder"},
		}))
		Expect(ok).To(BeFalse())
	})

	It("clamps spawn_agents to at most 8 sub-agents and max_parallel to [1,8]", func() {
		agents := make([]map[string]string, 0, 10)
		for i := 0; i < 10; i++ {
			agents = append(agents, map[string]string{"agent_id": "a", "goal": "g"})
		}
		a, ok := action.NormalizeAction(raw(map[string]any{
			"type": "spawn_agents",
			"data": map[string]any{"summary": "fan out", "agents": agents, "max_parallel": 99},
		}))
		Expect(ok).To(BeTrue())

		data, err := action.ParseData[action.SpawnAgentsData](a)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.Agents).To(HaveLen(8))
		Expect(data.MaxParallel).To(Equal(8))
	})

	It("defaults max_parallel to 1 when unset", func() {
		a, ok := action.NormalizeAction(raw(map[string]any{
			"type": "spawn_agents",
			"data": map[string]any{"summary": "s", "agents": []map[string]string{{"agent_id": "a", "goal": "g"}}},
		}))
		Expect(ok).To(BeTrue())
		data, err := action.ParseData[action.SpawnAgentsData](a)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.MaxParallel).To(Equal(1))
	})

	It("rejects an unknown action type", func() {
		_, ok := action.NormalizeAction(raw(map[string]any{"type": "do_something_weird"}))
		Expect(ok).To(BeFalse())
	})

	It("defaults open_context scope to current when invalid", func() {
		a, ok := action.NormalizeAction(raw(map[string]any{
			"type": "open_context",
			"data": map[string]any{"scope": "nonsense"},
		}))
		Expect(ok).To(BeTrue())
		data, err := action.ParseData[action.OpenContextData](a)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.Scope).To(Equal("current"))
	})

	It("rejects interrupt actions with an invalid mode", func() {
		_, ok := action.NormalizeAction(raw(map[string]any{
			"type": "interrupt",
			"data": map[string]any{"mode": "pause"},
		}))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("NormalizeActionPlan", func() {
	It("truncates to the default max of 4 actions and preserves order", func() {
		var rawActions []json.RawMessage
		for i := 0; i < 6; i++ {
			rawActions = append(rawActions, raw(map[string]any{
				"type": "get_status",
			}))
		}
		plan := action.NormalizeActionPlan("because", "", rawActions, 0)
		Expect(plan.Actions).To(HaveLen(4))
		Expect(plan.FinalResponseStyle).To(Equal("concise"))
	})

	It("drops malformed actions but keeps the valid ones", func() {
		rawActions := []json.RawMessage{
			raw(map[string]any{"type": "not_a_real_type"}),
			raw(map[string]any{"type": "get_status"}),
		}
		plan := action.NormalizeActionPlan("r", "detailed", rawActions, 4)
		Expect(plan.Actions).To(HaveLen(1))
		Expect(plan.Actions[0].Type).To(Equal(action.TypeGetStatus))
	})
})
