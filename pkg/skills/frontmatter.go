package skills

import (
	"regexp"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// frontmatterPattern matches a YAML block fenced by --- lines at the top of
// the file, capturing the header and the remaining body.
var frontmatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// parseFrontmatter splits raw SKILL.md content into its structured header
// and body. Files without a front-matter block yield a zero header and the
// untouched content. Unknown header fields are ignored.
func parseFrontmatter(raw string) (frontmatter, string) {
	match := frontmatterPattern.FindStringSubmatch(raw)
	if match == nil {
		return frontmatter{}, raw
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil {
		log.Warn().Err(err).Msg("Malformed skill front-matter, ignoring header")
		return frontmatter{}, match[2]
	}

	return fm, match[2]
}
