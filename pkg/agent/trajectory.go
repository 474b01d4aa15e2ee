package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Termination reasons, exactly one per run
const (
	TerminationLLMComplete             = "llm_complete"
	TerminationFinalResult             = "final_result"
	TerminationLLMError                = "llm_error"
	TerminationMaxTurns                = "max_turns"
	TerminationMaxTurnsSynthesized     = "max_turns_synthesized"
	TerminationMaxTurnsSynthesisFailed = "max_turns_synthesis_failed"
)

// TrajectoryToolCall records one tool invocation inside a turn. Result is
// truncated; the full output lives in the conversation itself.
type TrajectoryToolCall struct {
	Name    string                 `json:"name"`
	Args    map[string]interface{} `json:"args"`
	Result  string                 `json:"result"`
	IsFinal bool                   `json:"is_final"`
}

// TurnRecord is the per-turn entry in a trajectory
type TurnRecord struct {
	Turn      int                  `json:"turn"`
	Content   string               `json:"content"`
	ToolCalls []TrajectoryToolCall `json:"tool_calls"`
	Final     bool                 `json:"final,omitempty"`
}

// Trajectory is the durable per-run log, persisted as one JSON file keyed
// by run id.
type Trajectory struct {
	RunID             string                 `json:"run_id"`
	SessionID         string                 `json:"session_id"`
	Model             string                 `json:"model"`
	Input             string                 `json:"input"`
	Image             string                 `json:"image,omitempty"`
	CaseID            string                 `json:"case_id,omitempty"`
	SupportsVision    bool                   `json:"supports_vision"`
	Turns             []TurnRecord           `json:"turns"`
	Tokens            TokenUsage             `json:"tokens"`
	StartedAt         string                 `json:"started_at"`
	FinishedAt        string                 `json:"finished_at,omitempty"`
	TerminationReason string                 `json:"termination_reason"`
	Output            string                 `json:"output"`
	FinalResultData   map[string]interface{} `json:"final_result_data"`
	TotalTurns        int                    `json:"total_turns"`
}

// Save writes the trajectory to {logDir}/{run_id}.json
func (t *Trajectory) Save(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}

	path := filepath.Join(logDir, t.RunID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trajectory: %w", err)
	}
	return nil
}

// LoadTrajectory reads a previously saved trajectory
func LoadTrajectory(logDir, runID string) (*Trajectory, error) {
	data, err := os.ReadFile(filepath.Join(logDir, runID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory: %w", err)
	}

	var t Trajectory
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode trajectory: %w", err)
	}
	return &t, nil
}
