package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radresearch/caseagent/internal/agentenv"
	"github.com/radresearch/caseagent/pkg/agent"
	"github.com/radresearch/caseagent/pkg/session"
)

// writeCasesCSV writes a three-case corpus to path so query tests exercise
// real keyword ranking against the index built from it.
func writeCasesCSV(t *testing.T, path string) {
	t.Helper()
	csv := "case_title,case_date,link,clinical_history,imaging_findings,discussion,differential_diagnosis,final_diagnosis,images,relate_case,Categories\n" +
		"Case number 1000 - PE,2024-01-01,https://x/case/1000,sudden chest pain and dyspnea,filling defect on CTPA,classic pulmonary embolism presentation,PE vs pneumonia,Pulmonary embolism,,ref1;ref2,Chest\n" +
		"Case number 1001 - GBM,2024-02-01,https://x/case/1001,progressive headache and seizure,ring-enhancing brain mass,aggressive glioblastoma course,GBM vs metastasis,Glioblastoma,,,Neuro\n" +
		"Case number 1002 - Appy,2024-03-01,https://x/case/1002,right lower quadrant abdominal pain and fever,dilated appendix,typical appendicitis findings,appendicitis vs mesenteric adenitis,Acute appendicitis,,,Abdomen\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
}

// setAgentEnv points the tool environment at a session under dir
func setAgentEnv(t *testing.T, id, dir string) {
	t.Helper()
	t.Setenv(agentenv.SessionIDVar, id)
	t.Setenv(agentenv.SessionDirVar, dir)
}

func reloadSession(t *testing.T, id, dir string) *session.Session {
	t.Helper()
	sess, err := session.Open(id, dir, "")
	require.NoError(t, err)
	return sess
}

func TestToolsPlan(t *testing.T) {
	t.Run("should record steps and print the numbered plan", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_plan", sessionsDir)

		stdout, stderr, err := execCLI(t, "tools", "plan", "--config", configPath,
			"-s", "search for matching cases", "-s", "compare imaging findings")
		require.NoError(t, err)
		assert.Empty(t, stderr)

		assert.Contains(t, stdout, "Research plan recorded with 2 steps:")
		assert.Contains(t, stdout, "  1. search for matching cases")
		assert.Contains(t, stdout, "  2. compare imaging findings")

		sess := reloadSession(t, "sess_plan", sessionsDir)
		require.Len(t, sess.Notes, 1)
		note := sess.Notes[0]
		assert.Equal(t, "plan", note.Data["type"])
		assert.Equal(t, "Diagnose the clinical case", note.Data["goal"])
		assert.Equal(t, []interface{}{"search for matching cases", "compare imaging findings"}, note.Data["steps"])
		assert.NotEmpty(t, note.Timestamp)
	})

	t.Run("should keep an explicit goal", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_plan_goal", sessionsDir)

		_, _, err := execCLI(t, "tools", "plan", "--config", configPath,
			"-s", "review the differential", "-g", "Identify the most likely diagnosis")
		require.NoError(t, err)

		sess := reloadSession(t, "sess_plan_goal", sessionsDir)
		require.Len(t, sess.Notes, 1)
		assert.Equal(t, "Identify the most likely diagnosis", sess.Notes[0].Data["goal"])
	})

	t.Run("should require steps", func(t *testing.T) {
		stdout, stderr, err := execCLI(t, "tools", "plan")
		require.Error(t, err)

		assert.Contains(t, stderr, "Error: --steps is required")
		assert.Empty(t, stdout)
	})

	t.Run("should require the agent session environment", func(t *testing.T) {
		configPath, _ := writeTestConfig(t)
		setAgentEnv(t, "", "")

		_, stderr, err := execCLI(t, "tools", "plan", "--config", configPath, "-s", "any step")
		require.Error(t, err)

		assert.Contains(t, stderr, "Error: AGENT_SESSION_ID not set. This command must be called by the agent.")
	})
}

func TestToolsQuery(t *testing.T) {
	t.Run("should print ranked results and record the query", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeCasesCSV(t, filepath.Join(dir, "cases.csv"))
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_query", sessionsDir)

		stdout, stderr, err := execCLI(t, "tools", "query", "--config", configPath,
			"-n", "sudden chest pain")
		require.NoError(t, err)
		assert.Empty(t, stderr)

		assert.Contains(t, stdout, "Top 2 results:")
		assert.Contains(t, stdout, "Pulmonary embolism")
		// Three token hits outrank one, so the embolism case leads.
		assert.Less(t,
			strings.Index(stdout, "Pulmonary embolism"),
			strings.Index(stdout, "Acute appendicitis"))

		sess := reloadSession(t, "sess_query", sessionsDir)
		require.Len(t, sess.Notes, 1)
		note := sess.Notes[0]
		assert.Equal(t, "query", note.Data["type"])
		assert.Equal(t, "sudden chest pain", note.Data["query"])
		assert.Equal(t, float64(5), note.Data["top_k"])
		assert.Equal(t, true, note.Data["success"])
	})

	t.Run("should resolve a direct case number query", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeCasesCSV(t, filepath.Join(dir, "cases.csv"))
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_query_exact", sessionsDir)

		stdout, _, err := execCLI(t, "tools", "query", "--config", configPath, "-n", "case 1000")
		require.NoError(t, err)

		assert.Contains(t, stdout, "Found exact match for case number:")
		assert.Contains(t, stdout, "Case number 1000 - PE")
	})

	t.Run("should report a missing case number without failing", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeCasesCSV(t, filepath.Join(dir, "cases.csv"))
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_query_miss", sessionsDir)

		stdout, _, err := execCLI(t, "tools", "query", "--config", configPath, "-n", "case 9999")
		require.NoError(t, err)

		assert.Contains(t, stdout, "Case number 9999 not found.")
		assert.Contains(t, stdout, "No results found.")

		sess := reloadSession(t, "sess_query_miss", sessionsDir)
		require.Len(t, sess.Notes, 1)
		assert.Equal(t, true, sess.Notes[0].Data["success"])
	})

	t.Run("should record the query as failed when the index cannot open", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

		configPath := filepath.Join(dir, "agent.yaml")
		content := fmt.Sprintf(`dirs:
  skills: %s
  sessions: %s
  logs: %s
search:
  db_path: %s
logging:
  console: false
`,
			filepath.Join(dir, "skills"),
			filepath.Join(dir, "sessions"),
			filepath.Join(dir, "logs"),
			filepath.Join(blocker, "cases.db"),
		)
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_query_fail", sessionsDir)

		_, stderr, err := execCLI(t, "tools", "query", "--config", configPath, "-n", "chest pain")
		require.Error(t, err)
		assert.Contains(t, stderr, "Search error:")

		sess := reloadSession(t, "sess_query_fail", sessionsDir)
		require.Len(t, sess.Notes, 1)
		assert.Equal(t, false, sess.Notes[0].Data["success"])
	})

	t.Run("should require a query", func(t *testing.T) {
		_, stderr, err := execCLI(t, "tools", "query")
		require.Error(t, err)
		assert.Contains(t, stderr, "Error: --name is required")
	})
}

func TestToolsNavigate(t *testing.T) {
	t.Run("should open a case and record the visit", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeCasesCSV(t, filepath.Join(dir, "cases.csv"))
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_nav", sessionsDir)

		stdout, _, err := execCLI(t, "tools", "navigate", "--config", configPath,
			"-c", "1001", "-r", "strongest match for the presentation")
		require.NoError(t, err)

		assert.Contains(t, stdout, "Found exact match for case number:")
		assert.Contains(t, stdout, "Case number 1001 - GBM")

		sess := reloadSession(t, "sess_nav", sessionsDir)
		require.Len(t, sess.Notes, 1)
		note := sess.Notes[0]
		assert.Equal(t, "navigate", note.Data["type"])
		assert.Equal(t, float64(1001), note.Data["case_id"])
		assert.Equal(t, "strongest match for the presentation", note.Data["reason"])
	})

	t.Run("should record the visit even when the case does not exist", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		writeCasesCSV(t, filepath.Join(dir, "cases.csv"))
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_nav_miss", sessionsDir)

		stdout, _, err := execCLI(t, "tools", "navigate", "--config", configPath, "-c", "9999")
		require.NoError(t, err)

		assert.Contains(t, stdout, "Case number 9999 not found.")
		assert.Contains(t, stdout, "No results found.")

		sess := reloadSession(t, "sess_nav_miss", sessionsDir)
		require.Len(t, sess.Notes, 1)
		note := sess.Notes[0]
		assert.Equal(t, float64(9999), note.Data["case_id"])
		assert.Equal(t, "Selected for investigation", note.Data["reason"])
	})

	t.Run("should require a case id", func(t *testing.T) {
		_, stderr, err := execCLI(t, "tools", "navigate")
		require.Error(t, err)
		assert.Contains(t, stderr, "Error: --case-id is required")
	})
}

func TestToolsSubmit(t *testing.T) {
	t.Run("should print the final result envelope", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_submit", sessionsDir)

		stdout, _, err := execCLI(t, "tools", "submit", "--config", configPath,
			"-a", "c", "-r", "imaging shows a classic filling defect")
		require.NoError(t, err)

		assert.Contains(t, stdout, agent.FinalResultStart)
		assert.Contains(t, stdout, agent.FinalResultEnd)

		result := agent.ParseFinalResult(stdout)
		require.Equal(t, agent.OutcomeParsed, result.Outcome)
		assert.Equal(t, "C", result.Data["answer"])
		assert.Equal(t, "imaging shows a classic filling defect", result.Data["reasoning"])
		assert.NotEmpty(t, result.Data["timestamp"])

		sess := reloadSession(t, "sess_submit", sessionsDir)
		require.Len(t, sess.Notes, 1)
		note := sess.Notes[0]
		assert.Equal(t, "submit", note.Data["type"])
		assert.Equal(t, "C", note.Data["answer"])
	})

	t.Run("should reject answers outside A-E", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)
		sessionsDir := filepath.Join(dir, "sessions")
		setAgentEnv(t, "sess_submit_bad", sessionsDir)

		stdout, stderr, err := execCLI(t, "tools", "submit", "--config", configPath,
			"-a", "f", "-r", "guessing")
		require.Error(t, err)

		assert.Contains(t, stderr, "Error: Invalid answer 'F'. Must be A, B, C, D, or E.")
		assert.NotContains(t, stdout, agent.FinalResultStart)

		sess := reloadSession(t, "sess_submit_bad", sessionsDir)
		assert.Empty(t, sess.Notes)
	})

	t.Run("should require reasoning", func(t *testing.T) {
		_, stderr, err := execCLI(t, "tools", "submit", "-a", "C")
		require.Error(t, err)
		assert.Contains(t, stderr, "Error: --reasoning is required")
	})
}

func TestToolsFlagErrors(t *testing.T) {
	t.Run("should report unknown flags in plain form", func(t *testing.T) {
		_, stderr, err := execCLI(t, "tools", "query", "--bogus")
		require.Error(t, err)
		assert.Contains(t, stderr, "Error: unknown flag: --bogus")
	})
}
