// Command supervisorctl is a thin operator CLI over the same internal
// packages supervisord runs against: inspect a chat session, force a hard
// cancel, broadcast a cross-process interrupt, replay a job's tracking
// docs, or validate a job-config file. Grounded on the teacher's
// cmd/explore/main.go shape (flat main, .env loaded via godotenv, direct
// collaborator construction, no HTTP server) rather than cmd/server's —
// this is an adapter CLI, not a long-running process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"agentsup.dev/supervisor/core/config"
	"agentsup.dev/supervisor/internal/bus"
	"agentsup.dev/supervisor/internal/job"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/session"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.ServiceTypeSupervisorctl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	var runErr error
	switch cmd {
	case "status":
		runErr = cmdStatus(cfg, args)
	case "cancel":
		runErr = cmdCancel(cfg, args)
	case "interrupt":
		runErr = cmdInterrupt(ctx, cfg, args)
	case "tracking":
		runErr = cmdTracking(cfg, args)
	case "validate":
		runErr = cmdValidate(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error:", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `supervisorctl — operator CLI for the supervisor

Usage:
  supervisorctl status <chat-id>
  supervisorctl cancel <chat-id> [reason]
  supervisorctl interrupt <chat-id> [reason]
  supervisorctl tracking <job-id>
  supervisorctl validate <job-config.json>`)
}

func cmdStatus(cfg config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: supervisorctl status <chat-id>")
	}
	store, err := session.New(cfg.StateDir)
	if err != nil {
		return err
	}
	sess, err := store.Get(args[0])
	if err != nil {
		return err
	}
	return printJSON(sess)
}

// cmdCancel hard-cancels a chat's active run in-process by writing a cancel
// interrupt directly to the session store. This only takes effect if
// supervisord itself observes the interrupt at its next poll point (step 1
// or step 6 of the executor's dispatch loop) — it does not reach into a
// running process's goroutines the way supervisord's own HardCancel does.
// Use "interrupt" instead when supervisord is reachable over the bus.
func cmdCancel(cfg config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: supervisorctl cancel <chat-id> [reason]")
	}
	chatID := args[0]
	reason := "cancelled via supervisorctl"
	if len(args) > 1 {
		reason = args[1]
	}

	store, err := session.New(cfg.StateDir)
	if err != nil {
		return err
	}
	_, err = store.Upsert(chatID, func(s model.ChatSession) model.ChatSession {
		s.PendingApproval = nil
		s.PendingUserMessages = nil
		s.Interrupt = &model.Interrupt{Requested: true, Mode: model.InterruptCancel, Reason: reason, Ts: time.Now()}
		return s
	})
	if err != nil {
		return err
	}
	fmt.Println("cancel interrupt written for", chatID)
	return nil
}

// cmdInterrupt broadcasts over the Redis bus so whichever supervisord
// process actually owns chatID's active run observes it, per SPEC_FULL.md's
// named use case for internal/bus.
func cmdInterrupt(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: supervisorctl interrupt <chat-id> [reason]")
	}
	if cfg.Bus.RedisURL == "" {
		return fmt.Errorf("SUPERVISOR_REDIS_URL is not configured; cross-process interrupt requires the bus")
	}
	chatID := args[0]
	reason := "interrupt requested via supervisorctl"
	if len(args) > 1 {
		reason = args[1]
	}

	opts, err := redis.ParseURL(cfg.Bus.RedisURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer client.Close()

	b := bus.New(client)
	if err := b.PublishInterrupt(ctx, chatID, model.InterruptCancel, reason); err != nil {
		return err
	}
	fmt.Println("published interrupt for", chatID)
	return nil
}

// cmdTracking dumps every *.md tracking document for a job directly from
// disk — the local file is the source of truth (internal/job), so this
// needs no knowledge-store round trip.
func cmdTracking(cfg config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: supervisorctl tracking <job-id>")
	}
	store, err := job.NewStore(cfg.RunsDir, nil)
	if err != nil {
		return err
	}
	jobID := args[0]

	meta, err := store.ReadMeta(jobID)
	if err != nil {
		return fmt.Errorf("reading job meta: %w", err)
	}
	fmt.Printf("# job %s — %s (created %s)\n\n", meta.JobID, meta.Title, meta.CreatedAt.Format(time.RFC3339))

	jobDir := filepath.Join(store.JobDir(jobID), "shared")
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return fmt.Errorf("reading job dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(jobDir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", e.Name(), err)
			continue
		}
		fmt.Printf("--- %s ---\n%s\n\n", e.Name(), content)
	}
	return nil
}

// cmdValidate loads a job-config JSON file and reports whether it parses
// and satisfies the invariants the executor assumes: a positive action
// budget and a non-empty mode.
func cmdValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: supervisorctl validate <job-config.json>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var jc model.JobConfig
	if err := json.Unmarshal(raw, &jc); err != nil {
		return fmt.Errorf("invalid job config: %w", err)
	}

	var problems []string
	if jc.Budget.MaxActions <= 0 {
		problems = append(problems, "budget.max_actions must be > 0")
	}
	if jc.Mode == "" {
		problems = append(problems, "mode must be set")
	}
	if jc.FinalResponseStyle != "" && jc.FinalResponseStyle != "concise" && jc.FinalResponseStyle != "detailed" {
		problems = append(problems, "final_response_style must be concise or detailed")
	}

	if len(problems) == 0 {
		fmt.Println("ok")
		return nil
	}
	for _, p := range problems {
		fmt.Println("- " + p)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
