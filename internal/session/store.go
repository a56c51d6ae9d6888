// Package session implements C2: the session store. All chat sessions for a
// workspace live in one pretty-printed file, STATE_DIR/chat_sessions.json,
// written atomically (write-temp-then-rename) on every update, modeled on
// the teacher's LocalSpecStore atomic-write idiom
// (internal/store/spec_store.go). A single mutex serializes the
// read-modify-write cycle; this is a superset of the per-chat critical
// section spec.md requires, since the whole file is rewritten on each
// update regardless of which chat changed.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"agentsup.dev/supervisor/internal/model"
)

var ErrInvalidChatID = errors.New("invalid chat id")

var chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

const fileName = "chat_sessions.json"

// Store persists ChatSession state to STATE_DIR/chat_sessions.json.
type Store struct {
	path string

	mu sync.Mutex
}

// New creates a Store rooted at stateDir, creating the directory if needed.
func New(stateDir string) (*Store, error) {
	if stateDir == "" {
		return nil, fmt.Errorf("session store: state directory is required")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: creating state directory: %w", err)
	}
	return &Store{path: filepath.Join(stateDir, fileName)}, nil
}

// Get returns the persisted session for chatID, or a fresh DefaultSession if
// none exists yet.
func (s *Store) Get(chatID string) (model.ChatSession, error) {
	if !chatIDPattern.MatchString(chatID) {
		return model.ChatSession{}, ErrInvalidChatID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return model.ChatSession{}, err
	}

	if sess, ok := all[chatID]; ok {
		return sess, nil
	}
	return model.DefaultSession(chatID), nil
}

func (s *Store) readAllLocked() (map[string]model.ChatSession, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.ChatSession{}, nil
		}
		return nil, fmt.Errorf("session store: reading %s: %w", fileName, err)
	}
	if len(raw) == 0 {
		return map[string]model.ChatSession{}, nil
	}

	var all map[string]model.ChatSession
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("session store: decoding %s: %w", fileName, err)
	}
	if all == nil {
		all = map[string]model.ChatSession{}
	}
	return all, nil
}

// Upsert calls mutate against chatID's current persisted session (or a fresh
// default if none exists), persists the result, and returns it. The whole
// file is rewritten under the store's lock, so concurrent Upserts for
// different chats serialize but never corrupt one another's entries.
func (s *Store) Upsert(chatID string, mutate func(model.ChatSession) model.ChatSession) (model.ChatSession, error) {
	if !chatIDPattern.MatchString(chatID) {
		return model.ChatSession{}, ErrInvalidChatID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return model.ChatSession{}, err
	}

	current, ok := all[chatID]
	if !ok {
		current = model.DefaultSession(chatID)
	}

	updated := mutate(current)
	updated.ChatID = chatID
	all[chatID] = updated

	if err := s.writeAllLocked(all); err != nil {
		return model.ChatSession{}, err
	}
	return updated, nil
}

// Clear removes chatID's entry entirely.
func (s *Store) Clear(chatID string) error {
	if !chatIDPattern.MatchString(chatID) {
		return ErrInvalidChatID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return err
	}
	delete(all, chatID)
	return s.writeAllLocked(all)
}

func (s *Store) writeAllLocked(all map[string]model.ChatSession) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("session store: encoding: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("session store: writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session store: renaming temp file: %w", err)
	}
	return nil
}
