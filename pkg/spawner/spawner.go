// Package spawner fans a batch of research tasks out to independent
// sub-agents running in parallel and folds their reports back into the
// parent session as one atomic record.
package spawner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/session"
)

// MaxTasks is the hard fan-out ceiling. Sub-agents never spawn further
// sub-agents, so total concurrency is bounded by this number.
const MaxTasks = 5

// Task statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome of one sub-agent task
type Result struct {
	TaskID    int    `json:"task_id"`
	Task      string `json:"task"`
	Status    string `json:"status"`
	Report    string `json:"report,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary is the caller-facing digest of a completed fan-out
type Summary struct {
	Status     string   `json:"status"`
	NumAgents  int      `json:"num_agents"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Runner executes a single sub-agent task to completion. taskID is the
// 1-based task index, which also names the derived child session.
type Runner interface {
	Run(ctx context.Context, taskID int, task string) (string, error)
}

// Spawner runs task batches against a parent session
type Spawner struct {
	parent   *session.Session
	runner   Runner
	maxTasks int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Options configures a Spawner
type Options struct {
	Parent   *session.Session
	Runner   Runner
	MaxTasks int // defaults to MaxTasks, never exceeds it
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

func New(opts Options) (*Spawner, error) {
	if opts.Parent == nil {
		return nil, fmt.Errorf("parent session is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	maxTasks := opts.MaxTasks
	if maxTasks <= 0 || maxTasks > MaxTasks {
		maxTasks = MaxTasks
	}

	return &Spawner{
		parent:   opts.Parent,
		runner:   opts.Runner,
		maxTasks: maxTasks,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "spawner").Logger(),
	}, nil
}

// Spawn runs the tasks in parallel and returns their results in task order.
// Task assignments are recorded in the parent session before any sub-agent
// starts, and the full result set is appended as a single note after all of
// them finish. A failing task surfaces as a per-task error entry; it never
// fails the batch.
func (s *Spawner) Spawn(ctx context.Context, tasks []string) (*Summary, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}
	if len(tasks) > s.maxTasks {
		return nil, fmt.Errorf("maximum %d tasks allowed, got %d", s.maxTasks, len(tasks))
	}
	if session.IsSubAgentID(s.parent.ID) {
		return nil, fmt.Errorf("sub-agents cannot spawn further sub-agents")
	}

	assignments := make([]map[string]interface{}, len(tasks))
	for i, task := range tasks {
		assignments[i] = map[string]interface{}{"task_id": i + 1, "task": task}
	}
	if err := s.parent.AppendNote(map[string]interface{}{
		"type":       "subagent_spawn",
		"num_agents": len(tasks),
		"tasks":      assignments,
	}); err != nil {
		return nil, fmt.Errorf("failed to record task assignments: %w", err)
	}

	s.logger.Info().Int("num_agents", len(tasks)).Msg("Spawning sub-agents")
	start := time.Now()

	// Each goroutine writes its own slot, so result order is task order
	// no matter how the runs interleave.
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(index int, task string) {
			defer wg.Done()
			results[index] = s.runOne(ctx, index+1, task)
		}(i, task)
	}
	wg.Wait()

	if err := s.parent.AppendNote(map[string]interface{}{
		"type":       "subagent_results",
		"num_agents": len(tasks),
		"results":    results,
	}); err != nil {
		return nil, fmt.Errorf("failed to record sub-agent results: %w", err)
	}

	summary := &Summary{Status: "completed", NumAgents: len(tasks), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	s.logger.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Dur("duration", time.Since(start)).
		Msg("Sub-agents completed")

	return summary, nil
}

func (s *Spawner) runOne(ctx context.Context, taskID int, task string) Result {
	childID := session.SubAgentID(s.parent.ID, taskID)
	logger := s.logger.With().Int("task_id", taskID).Str("session_id", childID).Logger()

	if s.metrics != nil {
		s.metrics.SubAgentsSpawned.Inc()
	}
	logger.Info().Msg("Sub-agent started")

	report, err := s.runner.Run(ctx, taskID, task)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SubAgentsFailed.Inc()
		}
		logger.Warn().Err(err).Msg("Sub-agent failed")
		return Result{TaskID: taskID, Task: task, Status: StatusError, Error: err.Error()}
	}

	logger.Info().Msg("Sub-agent finished")
	return Result{TaskID: taskID, Task: task, Status: StatusSuccess, Report: report, SessionID: childID}
}
