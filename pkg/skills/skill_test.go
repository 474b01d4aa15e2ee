package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, folder, content string, refs map[string]string) {
	t.Helper()

	skillDir := filepath.Join(dir, folder)
	require.NoError(t, os.MkdirAll(skillDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0644))

	if len(refs) > 0 {
		refDir := filepath.Join(skillDir, "reference")
		require.NoError(t, os.MkdirAll(refDir, 0755))
		for name, body := range refs {
			require.NoError(t, os.WriteFile(filepath.Join(refDir, name), []byte(body), 0644))
		}
	}
}

const researchSkill = `---
name: med-deepresearch
description: Multi-step research workflow for diagnosing medical cases
---

# Medical Deep Research

Plan your research, query the case database, then submit your answer.
`

func TestDiscover(t *testing.T) {
	t.Run("missing directory yields empty list", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "nope"))
		names, err := loader.Discover()
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("returns sorted skill folders", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "zeta", researchSkill, nil)
		writeSkill(t, dir, "alpha", researchSkill, nil)

		// Folder without SKILL.md is not a skill
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-skill"), 0755))

		loader := NewLoader(dir)
		names, err := loader.Discover()
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "zeta"}, names)
	})
}

func TestLoad(t *testing.T) {
	t.Run("parses front-matter and body", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "med-deepresearch", researchSkill, nil)

		loader := NewLoader(dir)
		skill, ok := loader.Load("med-deepresearch")
		require.True(t, ok)

		assert.Equal(t, "med-deepresearch", skill.Name)
		assert.Equal(t, "Multi-step research workflow for diagnosing medical cases", skill.Description)
		assert.Contains(t, skill.Content, "# Medical Deep Research")
		assert.NotContains(t, skill.Content, "description:")
	})

	t.Run("missing skill returns not ok", func(t *testing.T) {
		loader := NewLoader(t.TempDir())
		skill, ok := loader.Load("ghost")
		assert.False(t, ok)
		assert.Nil(t, skill)
	})

	t.Run("falls back to folder name without front-matter", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "bare", "# Just a body\n", nil)

		loader := NewLoader(dir)
		skill, ok := loader.Load("bare")
		require.True(t, ok)
		assert.Equal(t, "bare", skill.Name)
		assert.Empty(t, skill.Description)
		assert.Equal(t, "# Just a body", skill.Content)
	})

	t.Run("ignores unknown front-matter fields", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "extra", "---\nname: extra\ndescription: d\nversion: 3\nauthor: someone\n---\nbody\n", nil)

		loader := NewLoader(dir)
		skill, ok := loader.Load("extra")
		require.True(t, ok)
		assert.Equal(t, "extra", skill.Name)
		assert.Equal(t, "d", skill.Description)
	})

	t.Run("eagerly loads references", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "with-refs", researchSkill, map[string]string{
			"anatomy.md":  "anatomy notes",
			"protocol.md": "protocol notes",
		})

		loader := NewLoader(dir)
		skill, ok := loader.Load("with-refs")
		require.True(t, ok)
		assert.Equal(t, []string{"anatomy.md", "protocol.md"}, skill.ReferenceNames())
		assert.Equal(t, "anatomy notes", skill.References["anatomy.md"])
	})

	t.Run("repeated loads are served from cache", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "cached", researchSkill, nil)

		loader := NewLoader(dir)
		first, ok := loader.Load("cached")
		require.True(t, ok)

		// Change on disk is not visible until invalidation
		writeSkill(t, dir, "cached", "---\nname: cached\ndescription: changed\n---\nnew body\n", nil)

		second, ok := loader.Load("cached")
		require.True(t, ok)
		assert.Same(t, first, second)

		loader.Invalidate()
		third, ok := loader.Load("cached")
		require.True(t, ok)
		assert.Equal(t, "changed", third.Description)
	})
}

func TestSummary(t *testing.T) {
	skill := &Skill{Name: "med-deepresearch", Description: "case research"}
	assert.Equal(t, "/med-deepresearch: case research", skill.Summary())
}

func TestGetSkillContent(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "med-deepresearch", researchSkill, map[string]string{
		"protocol.md": "protocol notes",
	})
	loader := NewLoader(dir)

	t.Run("includes body and reference list", func(t *testing.T) {
		content := loader.GetSkillContent("med-deepresearch")
		assert.Contains(t, content, "# Skill: med-deepresearch")
		assert.Contains(t, content, "Plan your research")
		assert.Contains(t, content, "## Available References")
		assert.Contains(t, content, "- protocol.md")
	})

	t.Run("miss yields message, not error", func(t *testing.T) {
		assert.Equal(t, "Skill 'ghost' not found.", loader.GetSkillContent("ghost"))
	})

	t.Run("omits reference section when none exist", func(t *testing.T) {
		writeSkill(t, dir, "no-refs", researchSkill, nil)
		content := loader.GetSkillContent("no-refs")
		assert.NotContains(t, content, "## Available References")
	})
}

func TestGetReference(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "med-deepresearch", researchSkill, map[string]string{
		"anatomy.md":  "anatomy notes",
		"protocol.md": "protocol notes",
	})
	writeSkill(t, dir, "bare", researchSkill, nil)
	loader := NewLoader(dir)

	t.Run("returns reference content", func(t *testing.T) {
		assert.Equal(t, "anatomy notes", loader.GetReference("med-deepresearch", "anatomy.md"))
	})

	t.Run("unknown reference lists available", func(t *testing.T) {
		msg := loader.GetReference("med-deepresearch", "missing.md")
		assert.Equal(t, "Reference 'missing.md' not found. Available: anatomy.md, protocol.md", msg)
	})

	t.Run("skill without references reports none", func(t *testing.T) {
		msg := loader.GetReference("bare", "missing.md")
		assert.Equal(t, "Reference 'missing.md' not found. Available: none", msg)
	})

	t.Run("unknown skill yields skill miss message", func(t *testing.T) {
		assert.Equal(t, "Skill 'ghost' not found.", loader.GetReference("ghost", "x.md"))
	})
}

func TestPrompts(t *testing.T) {
	t.Run("routing prompt lists summaries and skill tools", func(t *testing.T) {
		prompt := RoutingPrompt([]*Skill{
			{Name: "a", Description: "first"},
			{Name: "b", Description: "second"},
		})

		assert.Contains(t, prompt, "## Available Skills")
		assert.Contains(t, prompt, "- /a: first")
		assert.Contains(t, prompt, "- /b: second")
		assert.Contains(t, prompt, "`get_skill(skill_name)`")
		assert.Contains(t, prompt, "`get_skill_reference(skill_name, ref_name)`")
	})

	t.Run("single skill prompt inlines full body", func(t *testing.T) {
		skill := &Skill{
			Name:    "med-deepresearch",
			Content: "full instructions here",
			References: map[string]string{
				"protocol.md": "x",
			},
		}

		prompt := SingleSkillPrompt(skill)
		assert.Contains(t, prompt, "## Skill: med-deepresearch")
		assert.Contains(t, prompt, "full instructions here")
		assert.Contains(t, prompt, "### Available References")
		assert.Contains(t, prompt, "- `protocol.md`")
	})

	t.Run("single skill prompt omits empty reference list", func(t *testing.T) {
		prompt := SingleSkillPrompt(&Skill{Name: "bare", Content: "body"})
		assert.NotContains(t, prompt, "Available References")
	})
}
