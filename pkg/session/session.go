package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// timeFormat keeps microsecond precision so updated_at sorts lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000"

func nowStamp() string {
	return time.Now().Format(timeFormat)
}

// Note is one append-only entry in the session store
type Note struct {
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// TokenUsage counts prompt and completion tokens
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// RunRecord summarizes one completed agent run
type RunRecord struct {
	RunID         string                 `json:"run_id"`
	Input         string                 `json:"input"`
	OutputSummary string                 `json:"output_summary"`
	Output        string                 `json:"output"`
	FinalResult   map[string]interface{} `json:"final_result_data,omitempty"`
	Turns         int                    `json:"turns"`
	Tokens        TokenUsage             `json:"tokens"`
	Timestamp     string                 `json:"timestamp,omitempty"`
}

// fileState is the on-disk layout of a session file
type fileState struct {
	SessionID string      `json:"session_id"`
	Context   string      `json:"context"`
	Store     []Note      `json:"store"`
	History   []RunRecord `json:"history"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// Session is the in-memory snapshot of one session file
type Session struct {
	ID        string
	Context   string
	Notes     []Note
	History   []RunRecord
	CreatedAt string
	UpdatedAt string

	dir string
}

// Open opens the session with the given id in dir, creating in-memory state
// if no file exists yet. An empty id generates a fresh one. Malformed or
// unreadable files are treated as empty state, not fatal errors.
func Open(id, dir, context string) (*Session, error) {
	if dir == "" {
		dir = "sessions"
	}
	if id == "" {
		id = GenerateID()
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	now := nowStamp()
	s := &Session{
		ID:        id,
		Context:   context,
		CreatedAt: now,
		UpdatedAt: now,
		dir:       dir,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the session file path
func (s *Session) Path() string {
	return filepath.Join(s.dir, s.ID+".json")
}

// Reload re-reads session state from disk under a shared lock. The owning
// agent calls this after any tool execution that may have mutated the
// session from another process.
func (s *Session) Reload() error {
	f, err := os.Open(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	if err := flockShared(f); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer funlock(f)

	var state fileState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		log.Warn().Str("session_id", s.ID).Err(err).Msg("Malformed session file, treating as empty")
		return nil
	}

	s.apply(state)
	return nil
}

func (s *Session) apply(state fileState) {
	if state.Context != "" {
		s.Context = state.Context
	}
	s.Notes = state.Store
	s.History = state.History
	if state.CreatedAt != "" {
		s.CreatedAt = state.CreatedAt
	}
	if state.UpdatedAt != "" {
		s.UpdatedAt = state.UpdatedAt
	}
}

func (s *Session) state() fileState {
	return fileState{
		SessionID: s.ID,
		Context:   s.Context,
		Store:     s.Notes,
		History:   s.History,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Save persists the full in-memory state under an exclusive lock
func (s *Session) Save() error {
	s.UpdatedAt = nowStamp()

	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer funlock(f)

	return writeState(f, s.state())
}

// AppendNote wraps a payload with a timestamp and appends it to the session
// store. Appending is the only mutation primitive for notes. The latest
// on-disk state is merged in under the exclusive lock first, so notes
// written by other processes since the last reload are never clobbered.
func (s *Session) AppendNote(data map[string]interface{}) error {
	note := Note{Timestamp: nowStamp(), Data: data}
	return s.mutate(func(state *fileState) {
		state.Store = append(state.Store, note)
	})
}

// AddRun appends a run summary to session history
func (s *Session) AddRun(rec RunRecord) error {
	rec.Timestamp = nowStamp()
	return s.mutate(func(state *fileState) {
		state.History = append(state.History, rec)
	})
}

// mutate performs a locked read-modify-write cycle on the session file and
// syncs the in-memory snapshot to the result.
func (s *Session) mutate(apply func(*fileState)) error {
	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer funlock(f)

	state := s.state()
	var disk fileState
	if err := json.NewDecoder(f).Decode(&disk); err == nil && disk.SessionID == s.ID {
		state.Store = disk.Store
		state.History = disk.History
		if disk.Context != "" {
			state.Context = disk.Context
		}
		if disk.CreatedAt != "" {
			state.CreatedAt = disk.CreatedAt
		}
	}

	apply(&state)
	state.UpdatedAt = nowStamp()

	if err := writeState(f, state); err != nil {
		return err
	}

	s.apply(state)
	return nil
}

func writeState(f *os.File, state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate session file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek session file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	return nil
}

// ContextPrompt renders a bounded digest of session state (free context,
// last 10 notes, last 5 run summaries) for inclusion in the next system
// prompt. Returns empty string when there is nothing to show.
func (s *Session) ContextPrompt() string {
	var parts []string

	if s.Context != "" {
		parts = append(parts, fmt.Sprintf("## Session Context\n%s", s.Context))
	}

	if len(s.Notes) > 0 {
		recent := s.Notes
		if len(recent) > 10 {
			recent = recent[len(recent)-10:]
		}
		if data, err := json.MarshalIndent(recent, "", "  "); err == nil {
			parts = append(parts, fmt.Sprintf("## Session Store (your saved notes)\n```json\n%s\n```", data))
		}
	}

	if len(s.History) > 0 {
		parts = append(parts, "## Previous Runs in This Session")
		recent := s.History
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for i, run := range recent {
			summary := run.OutputSummary
			if summary == "" {
				summary = run.Output
			}
			parts = append(parts, fmt.Sprintf("%d. [%s] %s...", i+1, run.Timestamp, truncateRunes(summary, 200)))
		}
	}

	if len(parts) == 0 {
		return ""
	}

	return "---\n" +
		fmt.Sprintf("# SESSION: %s\n\n", s.ID) +
		strings.Join(parts, "\n\n") +
		"\n---\n"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
