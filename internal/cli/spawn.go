package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/internal/agentenv"
	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/session"
	"github.com/radresearch/caseagent/pkg/spawner"
)

var spawnSkill string

var spawnCmd = &cobra.Command{
	Use:   "spawn <task>...",
	Short: "Fan research tasks out to parallel sub-agents",
	Long: `Fan up to five research tasks out to sub-agents running in parallel,
each on its own session derived from the calling agent's session. The
combined results are recorded in the parent session and printed as JSON.
Like the research tools, this command is meant to be shelled out to by a
running agent.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSpawn,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnSkill, "skill", "med-deepresearch", "skill whose subagent_prompt.md primes the sub-agents")
	rootCmd.AddCommand(spawnCmd)
}

// spawnError reports a failure the way the agent expects to parse it: an
// error JSON on stdout.
func spawnError(cmd *cobra.Command, msg string) error {
	data, _ := json.Marshal(map[string]string{"status": "error", "error": msg})
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return errReported
}

func runSpawn(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return spawnError(cmd, "Usage: caseagent spawn <task1> [task2] [task3] [task4] [task5]")
	}

	env, err := agentenv.MustSession()
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}

	cfg, err := loadConfig()
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := newQuietLogger(cfg)
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}
	defer log.Close()

	parent, err := session.Open(env.SessionID, env.SessionDir, "")
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error loading session: %v", err))
	}

	promptPath := filepath.Join(cfg.Dirs.Skills, spawnSkill, "subagent_prompt.md")
	promptData, err := os.ReadFile(promptPath)
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error reading subagent prompt: %v", err))
	}

	profile, err := cfg.GetModelProfile("")
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}

	m := metrics.NewMetrics()
	runner := &spawner.AgentRunner{
		Profile:      profile,
		ParentID:     parent.ID,
		SystemPrompt: string(promptData),
		SessionDir:   env.SessionDir,
		LogDir:       cfg.Dirs.Logs,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		BashTimeout:  time.Duration(cfg.Agent.BashTimeout) * time.Second,
		Metrics:      m,
		Logger:       log.GetZerolog(),
	}

	sp, err := spawner.New(spawner.Options{
		Parent:   parent,
		Runner:   runner,
		MaxTasks: cfg.Agent.MaxSubAgents,
		Metrics:  m,
		Logger:   log.GetZerolog(),
	})
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}

	summary, err := sp.Spawn(cmd.Context(), args)
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return spawnError(cmd, fmt.Sprintf("Error: %v", err))
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
