// Package skills loads pluggable prompt+tool bundles from SKILL.md files.
//
// Each skill folder holds:
//   - SKILL.md: YAML front-matter (name, description) plus markdown body
//   - optional reference/ folder with additional *.md context
//   - optional scripts/ folder with executables the model can shell out to
//
// Loading modes:
//  1. No skills: the agent only has its basic tools.
//  2. Single skill: the full SKILL.md body goes into the system prompt.
//  3. Multiple skills: a routing prompt lists one-line summaries and the
//     model pulls details on demand via get_skill / get_skill_reference.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Skill represents a loaded skill
type Skill struct {
	Name        string
	Description string
	Content     string // markdown body after front-matter
	Path        string
	References  map[string]string // filename -> content
}

// Summary returns the one-line form used in routing prompts
func (s *Skill) Summary() string {
	return fmt.Sprintf("/%s: %s", s.Name, s.Description)
}

// ReferenceNames returns reference filenames in sorted order
func (s *Skill) ReferenceNames() []string {
	names := make([]string, 0, len(s.References))
	for name := range s.References {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader discovers and caches skills from a directory
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Skill
}

// NewLoader creates a skill loader rooted at dir
func NewLoader(dir string) *Loader {
	if dir == "" {
		dir = "skills"
	}
	return &Loader{
		dir:   dir,
		cache: make(map[string]*Skill),
	}
}

// Dir returns the skills directory
func (l *Loader) Dir() string {
	return l.dir
}

// Discover returns the sorted names of every skill folder that contains a
// SKILL.md. A missing skills directory yields an empty list.
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skills directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.dir, entry.Name(), "SKILL.md")); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load parses a skill by folder name. Repeated loads are served from cache.
// The second return is false when the skill does not exist or cannot be read.
func (l *Loader) Load(name string) (*Skill, bool) {
	l.mu.RLock()
	if skill, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return skill, true
	}
	l.mu.RUnlock()

	skillPath := filepath.Join(l.dir, name)
	raw, err := os.ReadFile(filepath.Join(skillPath, "SKILL.md"))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Str("skill", name).Err(err).Msg("Failed to read skill file")
		}
		return nil, false
	}

	fm, body := parseFrontmatter(string(raw))
	if fm.Name == "" {
		fm.Name = name
	}

	skill := &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Content:     strings.TrimSpace(body),
		Path:        skillPath,
		References:  loadReferences(skillPath),
	}

	l.mu.Lock()
	l.cache[name] = skill
	l.mu.Unlock()

	log.Debug().Str("skill", name).Int("references", len(skill.References)).Msg("Skill loaded")

	return skill, true
}

// loadReferences eagerly reads every *.md under the skill's reference folder
func loadReferences(skillPath string) map[string]string {
	references := make(map[string]string)

	refDir := filepath.Join(skillPath, "reference")
	matches, err := filepath.Glob(filepath.Join(refDir, "*.md"))
	if err != nil {
		return references
	}

	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		references[filepath.Base(path)] = string(content)
	}

	return references
}

// GetSkillContent returns the full skill body plus a list of loadable
// references. Misses come back as a message for the model, never an error.
func (l *Loader) GetSkillContent(name string) string {
	skill, ok := l.Load(name)
	if !ok {
		return fmt.Sprintf("Skill '%s' not found.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Skill: %s\n\n%s", skill.Name, skill.Content)

	if len(skill.References) > 0 {
		b.WriteString("\n\n## Available References\n")
		b.WriteString("Use `get_skill_reference` to load any of these:\n")
		for _, refName := range skill.ReferenceNames() {
			fmt.Fprintf(&b, "- %s\n", refName)
		}
	}

	return b.String()
}

// GetReference returns one reference document from a skill
func (l *Loader) GetReference(name, refName string) string {
	skill, ok := l.Load(name)
	if !ok {
		return fmt.Sprintf("Skill '%s' not found.", name)
	}

	content, ok := skill.References[refName]
	if !ok {
		available := "none"
		if len(skill.References) > 0 {
			available = strings.Join(skill.ReferenceNames(), ", ")
		}
		return fmt.Sprintf("Reference '%s' not found. Available: %s", refName, available)
	}

	return content
}

// Invalidate drops the cache so the next Load re-reads from disk
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*Skill)
	l.mu.Unlock()
}
