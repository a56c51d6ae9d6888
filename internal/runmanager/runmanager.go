// Package runmanager implements C8: the per-chat debounce/preempt/drain
// loop that sits between inbound chat messages and the planner+executor
// pipeline. It is grounded on the teacher's orchestrator.go HandleEngagement
// cycle-draining loop (claim → run → check for new arrivals → re-run up to
// a cap, else requeue a follow-up), adapted from a per-issue DB claim to a
// per-chat in-memory single-flight guard over the session store.
package runmanager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

// maxDrainCycles bounds how many times a single drain loop re-merges newly
// arrived messages before yielding; mirrors orchestrator.go's maxCycles.
const maxDrainCycles = 8

// RunChatFunc performs one full plan+execute pass for a chat's merged
// message. It returns nil when the pass ends (including a pause for
// approval) and an error, a *supervisorerr.Cancelled for a cancellation,
// when it fails. It is supplied by the caller
// that wires together the planner, executor, and collaborators.
type RunChatFunc func(ctx context.Context, chatID, userID, runID, mergedText string) error

// AckFunc sends a short acknowledgement back to the chat (e.g. "got it,
// still working" on preemption, or "cancelled" on hard cancel).
type AckFunc func(ctx context.Context, chatID, text string)

// CancelCurrentFunc is invoked to cancel whatever context the active run for
// chatID is using, if any (wired to a context.CancelFunc registry by the
// caller).
type CancelCurrentFunc func(chatID string)

// InterruptPublisher broadcasts an interrupt request to other processes;
// satisfied by internal/bus.Bus. Optional — nil means single-instance mode,
// where the in-process cancelCurrent hook is sufficient.
type InterruptPublisher interface {
	PublishInterrupt(ctx context.Context, chatID string, mode model.InterruptMode, reason string) error
}

type Manager struct {
	store         *session.Store
	runChat       RunChatFunc
	ack           AckFunc
	cancelCurrent CancelCurrentFunc
	publisher     InterruptPublisher

	mu       sync.Mutex
	draining map[string]struct{}
}

func New(store *session.Store, runChat RunChatFunc, ack AckFunc, cancelCurrent CancelCurrentFunc, publisher InterruptPublisher) *Manager {
	return &Manager{
		store:         store,
		runChat:       runChat,
		ack:           ack,
		cancelCurrent: cancelCurrent,
		publisher:     publisher,
		draining:      make(map[string]struct{}),
	}
}

// HandleIncoming appends one inbound message to chatID's pending queue, then
// either preempts a busy chat (clears any pending approval, requests a soft
// replan, acks, and starts a drain loop if none is active) or starts a fresh
// drain loop. Every preempting message is acked; acks are not rate-limited.
func (m *Manager) HandleIncoming(ctx context.Context, chatID, userID, text, externalMessageID string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		s.AppendPending(model.PendingMessage{
			Ts:                time.Now(),
			UserID:            userID,
			Text:              text,
			ExternalMessageID: externalMessageID,
		})
		return s
	})
	if err != nil {
		return fmt.Errorf("runmanager: appending pending message: %w", err)
	}

	if sess.IsBusy() {
		if _, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
			s.PendingApproval = nil
			s.Interrupt = &model.Interrupt{Requested: true, Mode: model.InterruptReplan, Reason: "new message arrived", Ts: time.Now()}
			return s
		}); err != nil {
			return fmt.Errorf("runmanager: requesting replan: %w", err)
		}
		m.ack(ctx, chatID, "Got it — I'll fold that into the current run.")
		go m.drainLoop(context.WithoutCancel(ctx), chatID, userID)
		return nil
	}

	go m.drainLoop(context.WithoutCancel(ctx), chatID, userID)
	return nil
}

// HardCancel stops chatID's active run outright: clears any pending
// approval, requests a cancel interrupt, invokes the caller's cancellation
// hook, and resets the session to idle.
func (m *Manager) HardCancel(ctx context.Context, chatID, reason string) error {
	if _, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		s.PendingApproval = nil
		s.PendingUserMessages = nil
		s.Interrupt = &model.Interrupt{Requested: true, Mode: model.InterruptCancel, Reason: reason, Ts: time.Now()}
		return s
	}); err != nil {
		return fmt.Errorf("runmanager: requesting cancel: %w", err)
	}

	if m.cancelCurrent != nil {
		m.cancelCurrent(chatID)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishInterrupt(ctx, chatID, model.InterruptCancel, reason); err != nil {
			slog.WarnContext(ctx, "runmanager: publishing cross-process interrupt failed", "chat_id", chatID, "error", err)
		}
	}

	if _, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		s.State = model.ChatIdle
		s.ActiveRunID = ""
		s.Interrupt = nil
		return s
	}); err != nil {
		return fmt.Errorf("runmanager: resetting after cancel: %w", err)
	}

	m.ack(ctx, chatID, "Cancelled.")
	return nil
}

// drainLoop is chatID's single-flight worker: it claims the chat (idle →
// routing), merges all pending messages into one synthetic message, runs
// the plan+execute pass, and — if more messages arrived mid-run — re-merges
// and re-runs, up to maxDrainCycles, mirroring orchestrator.go's
// ListUnprocessedByIssue/requeue idiom.
func (m *Manager) drainLoop(ctx context.Context, chatID, userID string) {
	if !m.claim(chatID) {
		return
	}
	defer m.release(chatID)

	for cycle := 1; cycle <= maxDrainCycles; cycle++ {
		sess, err := m.store.Get(chatID)
		if err != nil {
			slog.ErrorContext(ctx, "runmanager: reading session for drain", "chat_id", chatID, "error", err)
			return
		}
		if len(sess.PendingUserMessages) == 0 {
			break
		}

		merged := mergePending(sess.PendingUserMessages)
		runID := uuid.NewString()

		if _, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
			s.State = model.ChatRouting
			s.ActiveRunID = runID
			s.PendingUserMessages = nil
			s.Interrupt = nil
			return s
		}); err != nil {
			slog.ErrorContext(ctx, "runmanager: claiming drain cycle", "chat_id", chatID, "error", err)
			return
		}

		runErr := m.runChat(ctx, chatID, userID, runID, merged)
		m.finishCycle(ctx, chatID, runID, runErr)

		if runErr != nil {
			return
		}

		if cycle == maxDrainCycles {
			slog.WarnContext(ctx, "runmanager: max drain cycles reached, remaining messages will wait for next trigger", "chat_id", chatID)
		}
	}
}

func (m *Manager) finishCycle(ctx context.Context, chatID, runID string, runErr error) {
	if _, err := m.store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		if s.ActiveRunID != runID {
			// Superseded by a later cycle already; don't clobber its state.
			return s
		}
		switch {
		case runErr == nil:
			if s.PendingApproval == nil {
				s.State = model.ChatIdle
			}
		case isCancelled(runErr):
			s.State = model.ChatIdle
			s.LastError = &model.LastError{Note: runErr.Error(), Ts: time.Now()}
		default:
			s.State = model.ChatIdle
			s.LastError = &model.LastError{Note: runErr.Error(), Ts: time.Now()}
		}
		s.ActiveRunID = ""
		return s
	}); err != nil {
		slog.ErrorContext(ctx, "runmanager: finishing drain cycle", "chat_id", chatID, "error", err)
	}
}

func isCancelled(err error) bool {
	_, ok := err.(*supervisorerr.Cancelled)
	return ok
}

// mergePending joins queued messages into one synthetic prompt: the latest
// message leads as the primary instruction, the earlier ones are folded in
// (in arrival order) as an "additional instructions" bullet list, per
// spec.md §4.8's preemption contract.
func mergePending(pending []model.PendingMessage) string {
	if len(pending) == 1 {
		return pending[0].Text
	}

	last := len(pending) - 1
	var b strings.Builder
	b.WriteString(pending[last].Text)
	b.WriteString("\n\nAdditional instructions received while working:\n")
	for _, p := range pending[:last] {
		b.WriteString("- ")
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Manager) claim(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.draining[chatID]; busy {
		return false
	}
	m.draining[chatID] = struct{}{}
	return true
}

func (m *Manager) release(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.draining, chatID)
}
