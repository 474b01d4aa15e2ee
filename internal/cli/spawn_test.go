package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSubagentPrompt drops a subagent_prompt.md into the configured skills
// dir so spawn can prime its sub-agents.
func writeSubagentPrompt(t *testing.T, dir string) {
	t.Helper()
	skillDir := filepath.Join(dir, "skills", "med-deepresearch")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	prompt := "You are a focused research sub-agent. Investigate your task and report back.\n"
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "subagent_prompt.md"), []byte(prompt), 0o644))
}

// decodeSpawnError parses the error JSON the spawn command prints on stdout
func decodeSpawnError(t *testing.T, stdout string) map[string]string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &payload))
	return payload
}

func TestSpawnCommand(t *testing.T) {
	t.Run("should print usage as error JSON when no tasks are given", func(t *testing.T) {
		stdout, _, err := execCLI(t, "spawn")
		require.Error(t, err)

		payload := decodeSpawnError(t, stdout)
		assert.Equal(t, "error", payload["status"])
		assert.Equal(t, "Usage: caseagent spawn <task1> [task2] [task3] [task4] [task5]", payload["error"])
	})

	t.Run("should require the agent session environment", func(t *testing.T) {
		setAgentEnv(t, "", "")

		stdout, _, err := execCLI(t, "spawn", "investigate chest findings")
		require.Error(t, err)

		payload := decodeSpawnError(t, stdout)
		assert.Equal(t, "error", payload["status"])
		assert.Contains(t, payload["error"], "AGENT_SESSION_ID")
	})

	t.Run("should report a missing subagent prompt", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		setAgentEnv(t, "sess_spawn", filepath.Join(dir, "sessions"))

		stdout, _, err := execCLI(t, "spawn", "--config", configPath, "investigate chest findings")
		require.Error(t, err)

		payload := decodeSpawnError(t, stdout)
		assert.Contains(t, payload["error"], "Error reading subagent prompt")
	})

	t.Run("should cap the number of tasks at five", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeSubagentPrompt(t, dir)
		setAgentEnv(t, "sess_spawn_cap", filepath.Join(dir, "sessions"))

		stdout, _, err := execCLI(t, "spawn", "--config", configPath,
			"t1", "t2", "t3", "t4", "t5", "t6")
		require.Error(t, err)

		payload := decodeSpawnError(t, stdout)
		assert.Contains(t, payload["error"], "maximum 5 tasks allowed, got 6")
	})

	t.Run("should refuse to nest sub-agents", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeSubagentPrompt(t, dir)
		setAgentEnv(t, "sess_spawn_sub1", filepath.Join(dir, "sessions"))

		stdout, _, err := execCLI(t, "spawn", "--config", configPath, "investigate further")
		require.Error(t, err)

		payload := decodeSpawnError(t, stdout)
		assert.Contains(t, payload["error"], "sub-agents cannot spawn further sub-agents")
	})
}
