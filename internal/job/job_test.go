package job_test

import (
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/job"
)

func TestJob(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job Suite")
}

var _ = Describe("Store", func() {
	var (
		runsDir string
		store   *job.Store
		hooked  []string
	)

	BeforeEach(func() {
		var err error
		runsDir, err = os.MkdirTemp("", "job-test-*")
		Expect(err).NotTo(HaveOccurred())
		hooked = nil
		store, err = job.NewStore(runsDir, func(jobID, jobDir, docName, chunk string) {
			hooked = append(hooked, docName+":"+chunk)
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { os.RemoveAll(runsDir) })

	It("creates a job directory skeleton and can read its meta back", func() {
		meta, err := store.CreateJob("chat:123", "user-1", "chat-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.JobID).NotTo(BeEmpty())

		read, err := store.ReadMeta(meta.JobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(read.Title).To(Equal("chat:123"))
		Expect(read.OwnerUserID).To(Equal("user-1"))

		_, err = os.Stat(store.JobDir(meta.JobID) + "/shared")
		Expect(err).NotTo(HaveOccurred())
	})

	It("appends and tails conversation entries in order", func() {
		meta, err := store.CreateJob("t", "u", "c")
		Expect(err).NotTo(HaveOccurred())

		Expect(store.AppendConversation(meta.JobID, "user", "hello", nil)).To(Succeed())
		Expect(store.AppendConversation(meta.JobID, "assistant", "hi there", nil)).To(Succeed())
		Expect(store.AppendConversation(meta.JobID, "user", "how are you", nil)).To(Succeed())

		all, err := store.TailConversation(meta.JobID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(3))
		Expect(all[0].Text).To(Equal("hello"))

		last2, err := store.TailConversation(meta.JobID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(last2).To(HaveLen(2))
		Expect(last2[0].Text).To(Equal("hi there"))
	})

	It("skips corrupt lines in conversation.jsonl instead of failing", func() {
		meta, err := store.CreateJob("t", "u", "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.AppendConversation(meta.JobID, "user", "good line", nil)).To(Succeed())

		path := store.JobDir(meta.JobID) + "/conversation.jsonl"
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.WriteString("{not valid json\n")
		Expect(err).NotTo(HaveOccurred())
		f.Close()

		all, err := store.TailConversation(meta.JobID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})

	It("rejects a tracking doc name outside the allowed pattern", func() {
		meta, err := store.CreateJob("t", "u", "c")
		Expect(err).NotTo(HaveOccurred())
		err = store.AppendTracking(meta.JobID, "../escape.md", "x", time.Now())
		Expect(err).To(MatchError(job.ErrInvalidDocName))
	})

	It("fires the tracking hook synchronously after a durable append", func() {
		meta, err := store.CreateJob("t", "u", "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.InitTracking(meta.JobID, []string{"plan.md"})).To(Succeed())
		Expect(store.AppendTracking(meta.JobID, "plan.md", "the plan body", time.Now())).To(Succeed())

		Expect(hooked).To(ContainElement("plan.md:the plan body"))

		content, err := os.ReadFile(store.JobDir(meta.JobID) + "/shared/plan.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("the plan body"))
	})
})
