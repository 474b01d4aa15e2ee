package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List available skills",
	Long: `List the skills discovered in the skills directory. Each line shows
the name the --skill flag accepts and the skill's one-line description.`,
	RunE: runSkillsList,
}

func init() {
	rootCmd.AddCommand(skillsCmd)
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loader := skills.NewLoader(cfg.Dirs.Skills)
	names, err := loader.Discover()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintf(out, "No skills found in %s\n", cfg.Dirs.Skills)
		return nil
	}

	fmt.Fprintln(out, "Skills:")
	for _, name := range names {
		skill, ok := loader.Load(name)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %s\n", skill.Summary())
	}
	return nil
}
