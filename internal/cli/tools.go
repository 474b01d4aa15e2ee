package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/internal/agentenv"
	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/pkg/agent"
	"github.com/radresearch/caseagent/pkg/casestore"
	"github.com/radresearch/caseagent/pkg/session"
)

// errReported signals a non-zero exit for a failure already written to
// stderr. The calling agent reads stderr as the tool error, so cobra must
// not add its own prefix on top.
var errReported = errors.New("already reported")

// fail writes the message to stderr and flags the command as failed
func fail(cmd *cobra.Command, format string, args ...interface{}) error {
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	return errReported
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Research tools the agent calls through bash",
	Long: `Research tools the agent shells out to during a run: record a plan,
search the case database, open a case, and submit the final answer. Every
invocation appends a note to the calling agent's session, resolved through
the AGENT_SESSION_ID and AGENT_SESSION_DIR environment variables.`,
}

var (
	planSteps []string
	planGoal  string
)

var planCmd = &cobra.Command{
	Use:           "plan",
	Short:         "Record a research plan in the session",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPlan,
}

var (
	queryName string
	queryTopK int
)

var queryCmd = &cobra.Command{
	Use:           "query",
	Short:         "Search the case database and record the query",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runQuery,
}

var (
	navigateCaseID int
	navigateReason string
)

var navigateCmd = &cobra.Command{
	Use:           "navigate",
	Short:         "Open a case for investigation and record the visit",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runNavigate,
}

var (
	submitAnswer    string
	submitReasoning string
)

var submitCmd = &cobra.Command{
	Use:           "submit",
	Short:         "Submit the final answer and end the run",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSubmit,
}

func init() {
	planCmd.Flags().StringArrayVarP(&planSteps, "steps", "s", nil, "research step (repeatable)")
	planCmd.Flags().StringVarP(&planGoal, "goal", "g", "", "goal of the research")

	queryCmd.Flags().StringVarP(&queryName, "name", "n", "", "search query")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "number of results")

	navigateCmd.Flags().IntVarP(&navigateCaseID, "case-id", "c", 0, "case number to open")
	navigateCmd.Flags().StringVarP(&navigateReason, "reason", "r", "", "why this case was selected")

	submitCmd.Flags().StringVarP(&submitAnswer, "answer", "a", "", "final answer (A-E)")
	submitCmd.Flags().StringVarP(&submitReasoning, "reasoning", "r", "", "reasoning behind the answer")

	// Flag parse errors go to stderr in plain form so the agent sees them
	// as the tool error text.
	toolsCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fail(cmd, "Error: %v", err)
	})

	toolsCmd.AddCommand(planCmd)
	toolsCmd.AddCommand(queryCmd)
	toolsCmd.AddCommand(navigateCmd)
	toolsCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(toolsCmd)
}

// openToolSession resolves the calling agent's session from the environment.
// AGENT_SESSION_DIR falls back to the configured sessions directory so the
// commands also work when invoked by hand against a known session.
func openToolSession(cmd *cobra.Command, cfg *config.Config) (*session.Session, error) {
	env, err := agentenv.Parse()
	if err != nil || env.SessionID == "" {
		return nil, fail(cmd, "Error: %s not set. This command must be called by the agent.", agentenv.SessionIDVar)
	}

	dir := env.SessionDir
	if dir == "" {
		dir = cfg.Dirs.Sessions
	}

	sess, err := session.Open(env.SessionID, dir, "")
	if err != nil {
		return nil, fail(cmd, "Error loading session: %v", err)
	}
	return sess, nil
}

// openSearchStore opens the case index, building it from the cases CSV on
// first use. The embedder is only attached when semantic search is enabled.
func openSearchStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*casestore.Store, error) {
	var embedder casestore.Embedder
	if cfg.Search.Embedding.Enabled {
		e, err := casestore.NewOpenAIEmbedder(cfg.Search.Embedding)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	if dir := filepath.Dir(cfg.Search.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	store, err := casestore.Open(casestore.Options{
		DBPath:   cfg.Search.DBPath,
		Embedder: embedder,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if store.Count() == 0 {
		if _, err := os.Stat(cfg.Search.CasesCSV); err == nil {
			if _, err := store.Ingest(ctx, cfg.Search.CasesCSV); err != nil {
				store.Close()
				return nil, err
			}
		}
	}
	return store, nil
}

// searchCases renders a search the way the agent expects to read it: direct
// case-number queries resolve to the exact-match display, everything else
// to ranked keyword hits.
func searchCases(ctx context.Context, store *casestore.Store, query string, topK int) (string, error) {
	if number, ok := casestore.ParseCaseNumberQuery(query); ok {
		c, err := store.Lookup(ctx, number)
		if err != nil {
			return "", err
		}
		if c == nil {
			return fmt.Sprintf("Case number %d not found.\nNo results found.", number), nil
		}
		return casestore.FormatExactMatch(c), nil
	}

	results, err := store.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return casestore.FormatResults(results), nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	if len(planSteps) == 0 {
		return fail(cmd, "Error: --steps is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(cmd, "Error loading config: %v", err)
	}

	sess, err := openToolSession(cmd, cfg)
	if err != nil {
		return err
	}

	goal := planGoal
	if goal == "" {
		goal = "Diagnose the clinical case"
	}

	if err := sess.AppendNote(map[string]interface{}{
		"type":  "plan",
		"steps": planSteps,
		"goal":  goal,
	}); err != nil {
		return fail(cmd, "Error recording plan: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Research plan recorded with %d steps:\n", len(planSteps))
	for i, step := range planSteps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryName == "" {
		return fail(cmd, "Error: --name is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(cmd, "Error loading config: %v", err)
	}

	sess, err := openToolSession(cmd, cfg)
	if err != nil {
		return err
	}

	log, err := newQuietLogger(cfg)
	if err != nil {
		return fail(cmd, "Error: %v", err)
	}
	defer log.Close()

	ctx := cmd.Context()

	var output string
	store, searchErr := openSearchStore(ctx, cfg, log.GetZerolog())
	if searchErr == nil {
		defer store.Close()
		output, searchErr = searchCases(ctx, store, queryName, queryTopK)
	}

	// The query note records the attempt either way.
	if err := sess.AppendNote(map[string]interface{}{
		"type":    "query",
		"query":   queryName,
		"top_k":   queryTopK,
		"success": searchErr == nil,
	}); err != nil {
		return fail(cmd, "Error recording query: %v", err)
	}

	if searchErr != nil {
		return fail(cmd, "Search error: %v", searchErr)
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

func runNavigate(cmd *cobra.Command, args []string) error {
	if navigateCaseID == 0 {
		return fail(cmd, "Error: --case-id is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(cmd, "Error loading config: %v", err)
	}

	sess, err := openToolSession(cmd, cfg)
	if err != nil {
		return err
	}

	log, err := newQuietLogger(cfg)
	if err != nil {
		return fail(cmd, "Error: %v", err)
	}
	defer log.Close()

	ctx := cmd.Context()

	var c *casestore.Case
	store, lookupErr := openSearchStore(ctx, cfg, log.GetZerolog())
	if lookupErr == nil {
		defer store.Close()
		c, lookupErr = store.Lookup(ctx, navigateCaseID)
	}

	reason := navigateReason
	if reason == "" {
		reason = "Selected for investigation"
	}

	// The visit is recorded even when the case turns out not to exist.
	if err := sess.AppendNote(map[string]interface{}{
		"type":    "navigate",
		"case_id": navigateCaseID,
		"reason":  reason,
	}); err != nil {
		return fail(cmd, "Error recording navigation: %v", err)
	}

	if lookupErr != nil {
		return fail(cmd, "Error: %v", lookupErr)
	}
	if c == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Case number %d not found.\nNo results found.\n", navigateCaseID)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), casestore.FormatExactMatch(c))
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitAnswer == "" {
		return fail(cmd, "Error: --answer is required")
	}
	if submitReasoning == "" {
		return fail(cmd, "Error: --reasoning is required")
	}

	answer := strings.ToUpper(strings.TrimSpace(submitAnswer))
	switch answer {
	case "A", "B", "C", "D", "E":
	default:
		return fail(cmd, "Error: Invalid answer '%s'. Must be A, B, C, D, or E.", answer)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(cmd, "Error loading config: %v", err)
	}

	sess, err := openToolSession(cmd, cfg)
	if err != nil {
		return err
	}

	if err := sess.AppendNote(map[string]interface{}{
		"type":      "submit",
		"answer":    answer,
		"reasoning": submitReasoning,
	}); err != nil {
		return fail(cmd, "Error recording submission: %v", err)
	}

	payload := struct {
		Answer    string `json:"answer"`
		Reasoning string `json:"reasoning"`
		Timestamp string `json:"timestamp"`
	}{answer, submitReasoning, time.Now().Format(time.RFC3339)}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fail(cmd, "Error: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, agent.FinalResultStart)
	fmt.Fprintln(out, string(data))
	fmt.Fprintln(out, agent.FinalResultEnd)
	return nil
}
