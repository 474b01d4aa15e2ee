package tools

import (
	"context"

	"github.com/radresearch/caseagent/pkg/skills"
)

// SkillTools declares the skill routing tools. They are registered only
// when more than one skill is active, alongside the routing prompt.
func SkillTools(loader *skills.Loader) []Definition {
	return []Definition{
		{
			Name:        "get_skill",
			Description: "Load full instructions for a skill. Use this when you need to apply a specific skill to the task.",
			Parameters: []Parameter{
				{Name: "skill_name", Type: "string", Description: "Name of the skill to load (e.g., 'med-deepresearch')", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				name, _ := args["skill_name"].(string)
				return loader.GetSkillContent(name), nil
			},
		},
		{
			Name:        "get_skill_reference",
			Description: "Load additional reference material from a skill's reference folder.",
			Parameters: []Parameter{
				{Name: "skill_name", Type: "string", Description: "Name of the skill", Required: true},
				{Name: "ref_name", Type: "string", Description: "Name of the reference file (e.g., 'protocol.md')", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				skillName, _ := args["skill_name"].(string)
				refName, _ := args["ref_name"].(string)
				return loader.GetReference(skillName, refName), nil
			},
		},
	}
}
