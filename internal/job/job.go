// Package job implements C9: job directory allocation, the append-only
// conversation log, and tracking-document bookkeeping. Grounded on the
// teacher's spec_store.go atomic-write/path-validation idiom (LocalSpecStore
// Write/validatePath) and internal/queue/consumer.go's tolerant
// skip-corrupt-lines decoding.
package job

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidDocName = fmt.Errorf("job: doc name must match %s", docNamePattern.String())

var docNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+\.md$`)

// Meta is the persisted per-job header, written once at creation.
type Meta struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title"`
	OwnerUserID string    `json:"owner_user_id"`
	OwnerChatID string    `json:"owner_chat_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationEntry is one line of conversation.jsonl.
type ConversationEntry struct {
	Ts   time.Time      `json:"ts"`
	Role string         `json:"role"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// TrackingHook is invoked after a tracking append is durably on disk; it
// exists so callers can wire goc.Manager.AppendHook without this package
// importing internal/goc (job lifecycle stays goc-agnostic).
type TrackingHook func(jobID, jobDir, docName, chunk string)

// Store manages job directories under runsDir.
type Store struct {
	runsDir string
	hook    TrackingHook
}

func NewStore(runsDir string, hook TrackingHook) (*Store, error) {
	if runsDir == "" {
		return nil, fmt.Errorf("job: runs directory is required")
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("job: creating runs directory: %w", err)
	}
	return &Store{runsDir: runsDir, hook: hook}, nil
}

func (s *Store) JobDir(jobID string) string { return filepath.Join(s.runsDir, jobID) }

// CreateJob allocates a UUID job id and its on-disk skeleton:
// <runsDir>/<jobId>/{shared/,meta.json,job.log}.
func (s *Store) CreateJob(title, ownerUserID, ownerChatID string) (Meta, error) {
	jobID := uuid.NewString()
	dir := s.JobDir(jobID)

	if err := os.MkdirAll(filepath.Join(dir, "shared"), 0o755); err != nil {
		return Meta{}, fmt.Errorf("job: creating job directory: %w", err)
	}

	meta := Meta{
		JobID:       jobID,
		Title:       title,
		OwnerUserID: ownerUserID,
		OwnerChatID: ownerChatID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := writeJSONAtomic(filepath.Join(dir, "meta.json"), meta); err != nil {
		return Meta{}, fmt.Errorf("job: writing meta.json: %w", err)
	}

	logPath := filepath.Join(dir, "job.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Meta{}, fmt.Errorf("job: creating job.log: %w", err)
	}
	f.Close()

	return meta, nil
}

func (s *Store) ReadMeta(jobID string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.JobDir(jobID), "meta.json"))
	if err != nil {
		return Meta{}, fmt.Errorf("job: reading meta.json: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("job: parsing meta.json: %w", err)
	}
	return meta, nil
}

// AppendConversation appends one JSON line to <jobDir>/conversation.jsonl.
func (s *Store) AppendConversation(jobID, role, text string, meta map[string]any) error {
	entry := ConversationEntry{Ts: time.Now().UTC(), Role: role, Text: text, Meta: meta}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("job: marshaling conversation entry: %w", err)
	}

	path := filepath.Join(s.JobDir(jobID), "conversation.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("job: opening conversation.jsonl: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("job: appending conversation entry: %w", err)
	}
	return nil
}

// TailConversation reads the last n valid JSON lines from conversation.jsonl,
// silently skipping corrupt ones, per spec.md §4.9.
func (s *Store) TailConversation(jobID string, n int) ([]ConversationEntry, error) {
	path := filepath.Join(s.JobDir(jobID), "conversation.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("job: opening conversation.jsonl: %w", err)
	}
	defer f.Close()

	var all []ConversationEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry ConversationEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // corrupt line, skip per spec
		}
		all = append(all, entry)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("job: scanning conversation.jsonl: %w", err)
	}

	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// InitTracking creates any of the named markdown files under
// <jobDir>/shared that don't already exist, each with a title header and
// creation timestamp.
func (s *Store) InitTracking(jobID string, names []string) error {
	for _, name := range names {
		if err := validateDocName(name); err != nil {
			return err
		}
		path := filepath.Join(s.JobDir(jobID), "shared", name)
		if _, err := os.Stat(path); err == nil {
			continue // already initialized
		}

		title := strings.TrimSuffix(name, ".md")
		header := fmt.Sprintf("# %s\n\ncreated: %s\n\n", title, time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return fmt.Errorf("job: initializing tracking doc %s: %w", name, err)
		}
	}
	return nil
}

// AppendTracking writes a separator block followed by markdown to
// <jobDir>/shared/<name>, then calls the tracking hook (if configured)
// synchronously; the local file remains the source of truth regardless of
// hook outcome.
func (s *Store) AppendTracking(jobID, name, markdown string, ts time.Time) error {
	if err := validateDocName(name); err != nil {
		return err
	}

	path := filepath.Join(s.JobDir(jobID), "shared", name)
	block := fmt.Sprintf("\n---\n%s\n\n%s\n", ts.UTC().Format(time.RFC3339), markdown)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("job: opening tracking doc %s: %w", name, err)
	}
	if _, werr := f.WriteString(block); werr != nil {
		f.Close()
		return fmt.Errorf("job: appending tracking doc %s: %w", name, werr)
	}
	f.Close()

	if s.hook != nil {
		s.hook(jobID, s.JobDir(jobID), name, markdown)
	}
	return nil
}

func validateDocName(name string) error {
	if !docNamePattern.MatchString(name) {
		return ErrInvalidDocName
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
