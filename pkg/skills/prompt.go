package skills

import (
	"fmt"
	"strings"
)

// RoutingPrompt renders the system prompt section for multiple skills. The
// model sees one-line summaries and pulls full instructions on demand.
func RoutingPrompt(loaded []*Skill) string {
	summaries := make([]string, 0, len(loaded))
	for _, s := range loaded {
		summaries = append(summaries, "- "+s.Summary())
	}

	return fmt.Sprintf(`## Available Skills

You have access to the following specialized skills:

%s

### How to Use Skills

1. **Review skill summaries above** to understand what each skill does
2. **Request skill details** using the `+"`get_skill`"+` tool when you need to use a skill
3. **Follow skill instructions** once you have the full skill content

The skill content will provide detailed instructions, examples, and any special tools or procedures.

### Tools for Skill Management

- `+"`get_skill(skill_name)`"+`: Load full instructions for a skill
- `+"`get_skill_reference(skill_name, ref_name)`"+`: Load additional reference material from a skill

Only request skill details when you're about to use that skill - don't load all skills upfront.
`, strings.Join(summaries, "\n"))
}

// SingleSkillPrompt renders the system prompt section when exactly one
// skill is assigned: the full body is inlined.
func SingleSkillPrompt(skill *Skill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Skill: %s\n\n%s\n", skill.Name, skill.Content)

	if len(skill.References) > 0 {
		b.WriteString("\n### Available References\n")
		b.WriteString("You can use `get_skill_reference` to load:\n")
		for _, refName := range skill.ReferenceNames() {
			fmt.Fprintf(&b, "- `%s`\n", refName)
		}
	}

	return b.String()
}
