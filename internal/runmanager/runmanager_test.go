package runmanager_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/runmanager"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

func TestRunmanager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runmanager Suite")
}

// recordingAcks collects every ack sent, safe for concurrent use by the
// drain goroutine and the test assertions.
type recordingAcks struct {
	mu   sync.Mutex
	acks []string
}

func (r *recordingAcks) ack(ctx context.Context, chatID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, text)
}

func (r *recordingAcks) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.acks))
	copy(out, r.acks)
	return out
}

var _ = Describe("Manager", func() {
	var (
		store   *session.Store
		acks    *recordingAcks
		stateDir string
	)

	BeforeEach(func() {
		var err error
		stateDir, err = os.MkdirTemp("", "runmanager-test-*")
		Expect(err).NotTo(HaveOccurred())
		store, err = session.New(stateDir)
		Expect(err).NotTo(HaveOccurred())
		acks = &recordingAcks{}
	})

	AfterEach(func() {
		os.RemoveAll(stateDir)
	})

	It("runs a simple message end to end and returns the chat to idle", func() {
		var gotMessage string
		ran := make(chan struct{})
		runChat := func(ctx context.Context, chatID, userID, runID, mergedText string) error {
			gotMessage = mergedText
			close(ran)
			return nil
		}
		rm := runmanager.New(store, runChat, acks.ack, nil, nil)
		Expect(rm.HandleIncoming(context.Background(), "chat-1", "user-1", "hello there", "")).To(Succeed())

		Eventually(ran, time.Second).Should(BeClosed())
		Eventually(func() model.ChatState {
			sess, _ := store.Get("chat-1")
			return sess.State
		}, time.Second, 5*time.Millisecond).Should(Equal(model.ChatIdle))

		Expect(gotMessage).To(Equal("hello there"))
	})

	It("merges a message that arrives while a run is in flight instead of starting a second run", func() {
		started := make(chan struct{})
		release := make(chan struct{})
		var startOnce sync.Once
		runChat := func(ctx context.Context, chatID, userID, runID, mergedText string) error {
			startOnce.Do(func() { close(started) })
			<-release
			return nil
		}
		rm := runmanager.New(store, runChat, acks.ack, nil, nil)

		Expect(rm.HandleIncoming(context.Background(), "chat-2", "user-1", "first message", "")).To(Succeed())
		<-started

		Expect(rm.HandleIncoming(context.Background(), "chat-2", "user-1", "second message", "")).To(Succeed())

		sess, err := store.Get("chat-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Interrupt).NotTo(BeNil())
		Expect(sess.Interrupt.Mode).To(Equal(model.InterruptReplan))

		close(release)

		Eventually(func() model.ChatState {
			s, _ := store.Get("chat-2")
			return s.State
		}, time.Second, 5*time.Millisecond).Should(Equal(model.ChatIdle))

		Expect(acks.all()).To(ContainElement(ContainSubstring("fold that into the current run")))
	})

	It("merges pending messages with the latest leading and earlier ones bulleted in arrival order", func() {
		started := make(chan struct{})
		release := make(chan struct{})

		var mu sync.Mutex
		var calls int
		var secondMerged string

		runChat := func(ctx context.Context, chatID, userID, runID, mergedText string) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()

			if n == 1 {
				close(started)
				<-release
				return nil
			}

			mu.Lock()
			secondMerged = mergedText
			mu.Unlock()
			return nil
		}
		rm := runmanager.New(store, runChat, acks.ack, nil, nil)

		Expect(rm.HandleIncoming(context.Background(), "chat-4", "user-1", "A", "")).To(Succeed())
		<-started

		Expect(rm.HandleIncoming(context.Background(), "chat-4", "user-1", "B", "")).To(Succeed())
		Expect(rm.HandleIncoming(context.Background(), "chat-4", "user-1", "C", "")).To(Succeed())

		close(release)

		Eventually(func() model.ChatState {
			s, _ := store.Get("chat-4")
			return s.State
		}, time.Second, 5*time.Millisecond).Should(Equal(model.ChatIdle))

		Expect(secondMerged).To(Equal("C\n\nAdditional instructions received while working:\n- B\n"))
	})

	It("hard-cancels an active run, invoking the cancel hook and resetting state", func() {
		var cancelled bool
		runChat := func(ctx context.Context, chatID, userID, runID, mergedText string) error {
			return supervisorerr.NewCancelled("cancel", "stopped by test")
		}
		cancelCurrent := func(chatID string) { cancelled = true }

		rm := runmanager.New(store, runChat, acks.ack, cancelCurrent, nil)
		Expect(rm.HardCancel(context.Background(), "chat-3", "user asked to stop")).To(Succeed())

		Expect(cancelled).To(BeTrue())
		sess, err := store.Get("chat-3")
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.ChatIdle))
		Expect(sess.Interrupt).To(BeNil())
		Expect(acks.all()).To(ContainElement("Cancelled."))
	})
})

