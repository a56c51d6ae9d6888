// Package supervisorerr implements the error taxonomy for the supervisor: each
// kind named in the design (validation, policy block, transient/fatal remote,
// provider failure, cancellation, fatal startup) is a distinct Go type so call
// sites can dispatch on kind with errors.As instead of string sniffing.
package supervisorerr

import "fmt"

// Cancelled is raised when a run is interrupted (replan) or stopped (cancel).
// It is the one kind the Executor and Run Manager let propagate rather than
// capture per-action.
type Cancelled struct {
	Mode   string // "cancel" | "replan"
	Reason string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("cancelled (mode=%s): %s", e.Mode, e.Reason)
}

// PolicyBlock represents an allowlist, budget, or approval gate rejection.
// The executor records such rejections as per-action "blocked" results with
// a Note string and never returns them as errors; it does not construct a
// *PolicyBlock.
type PolicyBlock struct {
	Reason string
}

func (e *PolicyBlock) Error() string {
	return "blocked: " + e.Reason
}

// TransientRemote indicates the knowledge-store client should try the next
// attempt descriptor for this operation; Attempted records what was already
// tried, for logging.
type TransientRemote struct {
	Status    int
	Attempted []string
}

func (e *TransientRemote) Error() string {
	return fmt.Sprintf("transient remote error (status=%d, attempted=%v)", e.Status, e.Attempted)
}

// FatalRemote indicates the knowledge-store response can never succeed by
// retrying a different attempt descriptor (HTML body, missing token, a
// non-retryable status). It aborts only the current action.
type FatalRemote struct {
	Status int
	Detail string
}

func (e *FatalRemote) Error() string {
	return fmt.Sprintf("fatal remote error (status=%d): %s", e.Status, e.Detail)
}

// ProviderFailure wraps a non-zero exit / timeout / malformed-output failure
// from an AgentProvider invocation. Captured per action; the run continues.
type ProviderFailure struct {
	Provider string
	Err      error
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("provider %q failed: %v", e.Provider, e.Err)
}

func (e *ProviderFailure) Unwrap() error { return e.Err }

// FatalStartup indicates a process-fatal condition (missing credential, port
// in use, single-instance lock held). Call sites log and os.Exit(1); it never
// flows through the executor.
type FatalStartup struct {
	Err error
}

func (e *FatalStartup) Error() string {
	return fmt.Sprintf("fatal startup error: %v", e.Err)
}

func (e *FatalStartup) Unwrap() error { return e.Err }

// NewCancelled builds a *Cancelled for the given mode/reason.
func NewCancelled(mode, reason string) *Cancelled {
	return &Cancelled{Mode: mode, Reason: reason}
}
