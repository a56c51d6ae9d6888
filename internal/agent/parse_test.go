package agent_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/agent"
	"agentsup.dev/supervisor/internal/model"
)

func TestAgent(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Agent Suite")
}

var _ = Describe("ParseProfilesFromText", func() {
	It("decodes a fenced JSON profile block", func() {
		text := "here is the profile:\n```json\n" +
			`{"id": "Coder", "name": "Coder", "provider": "coder", "system_prompt": "write code"}` +
			"\n```\nand some trailing chatter."
		profiles := agent.ParseProfilesFromText(text)
		Expect(profiles).To(HaveLen(1))
		Expect(profiles[0].ID).To(Equal("coder"))
		Expect(profiles[0].Provider).To(Equal(model.ProviderCoder))
		Expect(profiles[0].SystemPrompt).To(Equal("write code"))
	})

	It("decodes a fenced YAML profile block using flattened aliases", func() {
		text := "```yaml\n" +
			"agent_id: researcher\nname: Researcher\nbase_prompt: dig into the facts\n" +
			"```"
		profiles := agent.ParseProfilesFromText(text)
		Expect(profiles).To(HaveLen(1))
		Expect(profiles[0].ID).To(Equal("researcher"))
		Expect(profiles[0].SystemPrompt).To(Equal("dig into the facts"))
		Expect(profiles[0].Provider).To(Equal(model.ProviderPlanner)) // default
	})

	It("de-duplicates repeated ids, keeping the first occurrence", func() {
		text := "```json\n{\"id\": \"coder\", \"name\": \"first\"}\n```\n" +
			"```json\n{\"id\": \"coder\", \"name\": \"second\"}\n```"
		profiles := agent.ParseProfilesFromText(text)
		Expect(profiles).To(HaveLen(1))
		Expect(profiles[0].Name).To(Equal("first"))
	})

	It("skips fenced blocks with no usable id", func() {
		text := "```json\n{\"name\": \"no id here\"}\n```"
		profiles := agent.ParseProfilesFromText(text)
		Expect(profiles).To(BeEmpty())
	})

	It("returns nothing when there are no fenced blocks", func() {
		profiles := agent.ParseProfilesFromText("just plain prose, no code fences at all")
		Expect(profiles).To(BeEmpty())
	})

	It("falls back to the planner provider for an unrecognized provider value", func() {
		text := "```json\n{\"id\": \"x\", \"provider\": \"not-a-real-provider\"}\n```"
		profiles := agent.ParseProfilesFromText(text)
		Expect(profiles).To(HaveLen(1))
		Expect(profiles[0].Provider).To(Equal(model.ProviderPlanner))
	})
})
