package spawner

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/agent"
	"github.com/radresearch/caseagent/pkg/session"
)

// DefaultSubAgentTurns is the per-task turn budget. Research tasks get a
// tighter budget than a full parent run.
const DefaultSubAgentTurns = 7

// AgentRunner runs each task as a fresh agent on its own derived session.
// Sub-agents load no skills; they reach the research tooling through bash,
// and their reports flow back through the Spawner rather than their own
// session history.
type AgentRunner struct {
	Profile      config.ModelProfile
	ParentID     string
	SystemPrompt string
	SessionDir   string
	LogDir       string
	ProjectRoot  string
	MaxTurns     int
	Temperature  float64
	MaxTokens    int
	BashTimeout  time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

var _ Runner = (*AgentRunner)(nil)

func (r *AgentRunner) Run(ctx context.Context, taskID int, task string) (string, error) {
	// Derived session ids repeat across spawn batches, so log lines carry
	// a per-run id to tell batches apart.
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	logger := r.Logger.With().Str("run_id", runID).Int("task_id", taskID).Logger()

	sess, err := session.Open(session.SubAgentID(r.ParentID, taskID), r.SessionDir, "")
	if err != nil {
		return "", fmt.Errorf("failed to open sub-agent session: %w", err)
	}

	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultSubAgentTurns
	}

	a, err := agent.New(agent.Options{
		Name:               fmt.Sprintf("subagent-research-%d", taskID),
		Profile:            r.Profile,
		Session:            sess,
		CustomInstructions: r.SystemPrompt,
		MaxTurns:           maxTurns,
		Temperature:        r.Temperature,
		MaxTokens:          r.MaxTokens,
		ProjectRoot:        r.ProjectRoot,
		LogDir:             r.LogDir,
		BashTimeout:        r.BashTimeout,
		Metrics:            r.Metrics,
		Logger:             logger,
	})
	if err != nil {
		return "", fmt.Errorf("failed to construct sub-agent: %w", err)
	}

	return a.Run(ctx, agent.RunInput{Input: task}), nil
}
