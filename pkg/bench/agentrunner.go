package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/agent"
	"github.com/radresearch/caseagent/pkg/session"
	"github.com/radresearch/caseagent/pkg/skills"
)

// DefaultCaseTurns is the per-case turn budget, enough for a full
// plan/query/navigate/submit research pass.
const DefaultCaseTurns = 15

// AgentRunner serves each case with a fresh agent on its own new session, so
// no case sees another's research trail. The skills loader is shared across
// cases; a watcher invalidating it mid-benchmark takes effect on the next
// case.
type AgentRunner struct {
	Profile     config.ModelProfile
	Skills      *skills.Loader
	SkillNames  []string
	Images      agent.CaseImageSource
	SessionDir  string
	LogDir      string
	ProjectRoot string
	MaxTurns    int
	Temperature float64
	MaxTokens   int
	BashTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

var _ Runner = (*AgentRunner)(nil)

func (r *AgentRunner) Run(ctx context.Context, caseNumber int, prompt string) (RunOutcome, error) {
	sess, err := session.Open(session.GenerateID(), r.SessionDir, "")
	if err != nil {
		return RunOutcome{}, fmt.Errorf("failed to open benchmark session: %w", err)
	}

	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultCaseTurns
	}

	a, err := agent.New(agent.Options{
		Name:        fmt.Sprintf("bench-case-%d", caseNumber),
		Profile:     r.Profile,
		Session:     sess,
		Skills:      r.Skills,
		SkillNames:  r.SkillNames,
		Images:      r.Images,
		MaxTurns:    maxTurns,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		ProjectRoot: r.ProjectRoot,
		LogDir:      r.LogDir,
		BashTimeout: r.BashTimeout,
		Metrics:     r.Metrics,
		Logger:      r.Logger,
	})
	if err != nil {
		return RunOutcome{}, fmt.Errorf("failed to construct benchmark agent: %w", err)
	}

	output := a.Run(ctx, agent.RunInput{
		Input: prompt,
		RunID: fmt.Sprintf("benchmark_%d", caseNumber),
	})

	outcome := RunOutcome{Output: output, SessionID: sess.ID}
	if traj := a.LastTrajectory(); traj != nil {
		outcome.Tokens = traj.Tokens
	}
	return outcome, nil
}
