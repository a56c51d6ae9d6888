package session_test

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/session"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

var _ = Describe("Store", func() {
	var (
		stateDir string
		store    *session.Store
	)

	BeforeEach(func() {
		var err error
		stateDir, err = os.MkdirTemp("", "session-test-*")
		Expect(err).NotTo(HaveOccurred())
		store, err = session.New(stateDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { os.RemoveAll(stateDir) })

	It("returns a fresh idle default session for a chat it has never seen", func() {
		sess, err := store.Get("new-chat")
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.ChatID).To(Equal("new-chat"))
		Expect(sess.State).To(Equal(model.ChatIdle))
	})

	It("rejects a chat id outside the allowed character set", func() {
		_, err := store.Get("not a valid id!")
		Expect(err).To(MatchError(session.ErrInvalidChatID))
	})

	It("persists an upsert so a later Get sees it", func() {
		_, err := store.Upsert("chat-a", func(s model.ChatSession) model.ChatSession {
			s.State = model.ChatExecuting
			s.Budget.MaxActions = 4
			return s
		})
		Expect(err).NotTo(HaveOccurred())

		sess, err := store.Get("chat-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.ChatExecuting))
		Expect(sess.Budget.MaxActions).To(Equal(4))
	})

	It("keeps separate chats independent across upserts", func() {
		_, err := store.Upsert("chat-a", func(s model.ChatSession) model.ChatSession {
			s.State = model.ChatExecuting
			return s
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Upsert("chat-b", func(s model.ChatSession) model.ChatSession {
			s.State = model.ChatDone
			return s
		})
		Expect(err).NotTo(HaveOccurred())

		a, err := store.Get("chat-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(a.State).To(Equal(model.ChatExecuting))

		b, err := store.Get("chat-b")
		Expect(err).NotTo(HaveOccurred())
		Expect(b.State).To(Equal(model.ChatDone))
	})

	It("removes a chat's entry entirely on Clear", func() {
		_, err := store.Upsert("chat-c", func(s model.ChatSession) model.ChatSession {
			s.State = model.ChatExecuting
			return s
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Clear("chat-c")).To(Succeed())

		sess, err := store.Get("chat-c")
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.ChatIdle)) // back to a fresh default
	})
})
