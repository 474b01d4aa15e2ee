package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store manages a directory of session files
type Store struct {
	dir string
}

// NewStore creates a session store rooted at dir
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "sessions"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Session store ready")

	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the session files
func (st *Store) Dir() string {
	return st.dir
}

// Open opens the session with the given id, creating state if none exists
func (st *Store) Open(id, context string) (*Session, error) {
	return Open(id, st.dir, context)
}

// Create starts a fresh session with a generated id and persists it
// immediately so concurrent processes can find the file.
func (st *Store) Create(context string) (*Session, error) {
	s, err := Open("", st.dir, context)
	if err != nil {
		return nil, err
	}
	if err := s.Save(); err != nil {
		return nil, err
	}

	log.Info().Str("session_id", s.ID).Msg("Session created")

	return s, nil
}

// Info is one row in a session listing
type Info struct {
	SessionID  string `json:"session_id"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	Context    string `json:"context"`
	Runs       int    `json:"runs"`
	StoreItems int    `json:"store_items"`
}

// List returns all sessions sorted by most recently updated first.
// Unreadable files are skipped.
func (st *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		state, err := readStateFile(filepath.Join(st.dir, entry.Name()))
		if err != nil {
			continue
		}

		id := state.SessionID
		if id == "" {
			id = strings.TrimSuffix(entry.Name(), ".json")
		}
		context := ""
		if state.Context != "" {
			context = truncateRunes(state.Context, 100) + "..."
		}

		infos = append(infos, Info{
			SessionID:  id,
			CreatedAt:  state.CreatedAt,
			UpdatedAt:  state.UpdatedAt,
			Context:    context,
			Runs:       len(state.History),
			StoreItems: len(state.Store),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})

	return infos, nil
}

func readStateFile(path string) (fileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileState{}, err
	}
	defer f.Close()

	if err := flockShared(f); err != nil {
		return fileState{}, err
	}
	defer funlock(f)

	var state fileState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return fileState{}, err
	}
	return state, nil
}

// GenerateID produces a session id with a sortable timestamp and a short
// random suffix, e.g. session_20250101_120000_1a2b3c4d.
func GenerateID() string {
	u := uuid.New()
	return fmt.Sprintf("session_%s_%s", time.Now().Format("20060102_150405"), hex.EncodeToString(u[:4]))
}

// SubAgentID derives the session id for sub-agent n of a parent session
func SubAgentID(parentID string, n int) string {
	return fmt.Sprintf("%s_sub%d", parentID, n)
}

var subAgentIDPattern = regexp.MustCompile(`_sub\d+$`)

// IsSubAgentID reports whether an id was derived by SubAgentID. The spawner
// uses this to refuse nested fan-out.
func IsSubAgentID(id string) bool {
	return subAgentIDPattern.MatchString(id)
}

// validateID rejects ids that could escape the session directory
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}
