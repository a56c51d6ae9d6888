package planner_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/common/llm"
	"agentsup.dev/supervisor/internal/action"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/planner"
)

func TestPlanner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Planner Suite")
}

// mockLLMClient is a hand-rolled stand-in for llm.Client, in the teacher's
// internal/brain mockLLMClient style: a configurable chatFn plus a call count.
type mockLLMClient struct {
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	callCount int
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.callCount++
	return m.chatFn(ctx, req, result)
}

func (m *mockLLMClient) Model() string { return "mock-model" }

var coderAgent = model.AgentProfile{ID: "coder", Provider: model.ProviderCoder}
var plannerAgent = model.AgentProfile{ID: "gpt-planner", Provider: model.ProviderPlanner}

var _ = Describe("Planner.Plan", func() {
	var bundle planner.ContextBundle

	BeforeEach(func() {
		bundle = planner.ContextBundle{
			Agents:    []model.AgentProfile{coderAgent, plannerAgent},
			JobConfig: model.JobConfig{Budget: model.Budget{MaxActions: 4}},
		}
	})

	It("falls back to the deterministic classifier when no llm client is configured", func() {
		p := planner.New(nil)
		plan, err := p.Plan(context.Background(), "please run something", bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Actions).To(HaveLen(1))
		Expect(plan.Actions[0].Type).To(Equal(action.TypeRunAgent))
	})

	It("uses the llm-produced plan when the call succeeds", func() {
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				raw := []byte(`{"reason":"llm chose status","actions":[{"type":"get_status","data":{}}],"final_response_style":"concise"}`)
				return nil, json.Unmarshal(raw, result)
			},
		}
		p := planner.New(mock)
		plan, err := p.Plan(context.Background(), "how's it going", bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.callCount).To(Equal(1))
		Expect(plan.Actions).To(HaveLen(1))
		Expect(plan.Actions[0].Type).To(Equal(action.TypeGetStatus))
	})

	It("falls back to the deterministic classifier once the llm call exhausts its retries", func() {
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				return nil, fmt.Errorf("boom: transport failure")
			},
		}
		p := planner.New(mock)
		plan, err := p.Plan(context.Background(), "list agents please", bundle)
		Expect(err).NotTo(HaveOccurred())
		// a plain network-shaped error is retried (1s, 2s backoff) until
		// maxPlanRetries is exhausted: 3 attempts total
		Expect(mock.callCount).To(Equal(3))
		Expect(plan.Actions).To(HaveLen(1))
		Expect(plan.Actions[0].Type).To(Equal(action.TypeListAgents))
	})

	It("propagates cancellation instead of falling back when ctx is cancelled mid-call", func() {
		ctx, cancel := context.WithCancel(context.Background())
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				cancel()
				return nil, context.Canceled
			},
		}
		p := planner.New(mock)
		_, err := p.Plan(ctx, "anything", bundle)
		Expect(err).To(HaveOccurred())
	})

	It("drops a planner-provider run_agent action unless explicitly requested, falling through to the deterministic fallback", func() {
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				raw := []byte(`{"reason":"r","actions":[{"type":"run_agent","data":{"agent_id":"gpt-planner","goal":"g"}}],"final_response_style":"concise"}`)
				return nil, json.Unmarshal(raw, result)
			},
		}
		p := planner.New(mock)
		plan, err := p.Plan(context.Background(), "do the thing", bundle)
		Expect(err).NotTo(HaveOccurred())
		// dropped, then falls through to the deterministic fallback since no
		// actions survived post-processing — which defaults to a coder run
		Expect(plan.Actions).To(HaveLen(1))
		data, err := action.ParseData[action.RunAgentData](plan.Actions[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(data.AgentID).To(Equal("coder"))
	})

	It("raises risk to L3 for a run_agent routed to the coder provider", func() {
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				raw := []byte(`{"reason":"r","actions":[{"type":"run_agent","data":{"agent_id":"coder","goal":"write code"}}],"final_response_style":"concise"}`)
				return nil, json.Unmarshal(raw, result)
			},
		}
		p := planner.New(mock)
		plan, err := p.Plan(context.Background(), "write some code", bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Actions).To(HaveLen(1))
		Expect(plan.Actions[0].Risk).To(Equal(model.RiskL3))
	})

	It("truncates the plan to the job's max action budget", func() {
		bundle.JobConfig.Budget.MaxActions = 1
		mock := &mockLLMClient{
			chatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				raw := []byte(`{"reason":"r","actions":[{"type":"get_status","data":{}},{"type":"list_agents","data":{}}],"final_response_style":"concise"}`)
				return nil, json.Unmarshal(raw, result)
			},
		}
		p := planner.New(mock)
		plan, err := p.Plan(context.Background(), "status then list", bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Actions).To(HaveLen(1))
	})
})
