package bench

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/agent"
)

// RunOutcome is what a Runner produces for one case.
type RunOutcome struct {
	Output    string
	SessionID string
	Tokens    agent.TokenUsage
}

// Runner executes one benchmark case. Errors signal that the agent could not
// be started at all; an agent that ran but answered badly still returns an
// outcome.
type Runner interface {
	Run(ctx context.Context, caseNumber int, prompt string) (RunOutcome, error)
}

// CaseResult records how the agent did on one case.
type CaseResult struct {
	CaseNumber  int              `json:"case_number"`
	CaseTitle   string           `json:"case_title"`
	GroundTruth string           `json:"ground_truth"`
	AgentAnswer string           `json:"agent_answer"`
	Correct     bool             `json:"correct"`
	Reasoning   string           `json:"reasoning"`
	SessionID   string           `json:"session_id"`
	Tokens      agent.TokenUsage `json:"tokens"`
	Error       string           `json:"error,omitempty"`
}

// Report is the full benchmark result set, serialized to the results JSON.
type Report struct {
	Timestamp  string       `json:"timestamp"`
	Model      string       `json:"model"`
	CSVPath    string       `json:"csv_path"`
	TotalCases int          `json:"total_cases"`
	Correct    int          `json:"correct"`
	Accuracy   float64      `json:"accuracy"`
	Results    []CaseResult `json:"results"`
}

// Bench drives benchmark cases through a bounded pool of concurrent agents.
type Bench struct {
	runner  Runner
	workers int
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Options configures a Bench.
type Options struct {
	Runner Runner

	// Workers bounds how many cases run at once. Zero or negative runs
	// cases one at a time.
	Workers int

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// New creates a benchmark driver.
func New(opts Options) (*Bench, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	return &Bench{
		runner:  opts.Runner,
		workers: workers,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "bench").Logger(),
	}, nil
}

// RunParams selects the cases and output sinks for one benchmark run.
type RunParams struct {
	CSVPath string
	Limit   int

	// Model is recorded in the report for later comparison; the runner
	// decides what actually serves the cases.
	Model string

	// ResultsCSV, when set, receives one row per finished case, appended
	// under an exclusive lock as each case completes. A crashed run keeps
	// every row written so far.
	ResultsCSV string
}

// Run executes the benchmark and returns the scored report. Results are
// ordered by case number regardless of completion order.
func (b *Bench) Run(ctx context.Context, params RunParams) (*Report, error) {
	cases, err := LoadCases(params.CSVPath, params.Limit)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no benchmark cases in %s", params.CSVPath)
	}

	b.logger.Info().
		Int("cases", len(cases)).
		Int("workers", b.workers).
		Str("csv", params.CSVPath).
		Msg("Benchmark starting")

	results := make([]CaseResult, len(cases))
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	finished := 0
	correctSoFar := 0

	for i, c := range cases {
		wg.Add(1)
		go func(index int, c Case) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := b.runCase(ctx, index+1, c)
			results[index] = res

			mu.Lock()
			finished++
			if res.Correct {
				correctSoFar++
			}
			done, right := finished, correctSoFar
			mu.Unlock()

			b.logger.Info().
				Int("case_number", res.CaseNumber).
				Str("ground_truth", res.GroundTruth).
				Str("agent_answer", res.AgentAnswer).
				Bool("correct", res.Correct).
				Str("running_accuracy", fmt.Sprintf("%d/%d", right, done)).
				Msg("Benchmark case finished")

			if params.ResultsCSV != "" {
				if err := AppendResultRow(params.ResultsCSV, res); err != nil {
					b.logger.Error().Err(err).Int("case_number", res.CaseNumber).Msg("Failed to append result row")
				}
			}
		}(i, c)
	}
	wg.Wait()

	correct := 0
	for _, res := range results {
		if res.Correct {
			correct++
		}
	}

	report := &Report{
		Timestamp:  time.Now().Format("20060102_150405"),
		Model:      params.Model,
		CSVPath:    params.CSVPath,
		TotalCases: len(results),
		Correct:    correct,
		Accuracy:   float64(correct) / float64(len(results)),
		Results:    results,
	}

	b.logger.Info().
		Int("total_cases", report.TotalCases).
		Int("correct", report.Correct).
		Str("accuracy", fmt.Sprintf("%.1f%%", 100*report.Accuracy)).
		Msg("Benchmark finished")

	return report, nil
}

func (b *Bench) runCase(ctx context.Context, number int, c Case) CaseResult {
	result := CaseResult{
		CaseNumber:  number,
		CaseTitle:   c.Title,
		GroundTruth: c.GroundTruth,
	}

	outcome, err := b.runner.Run(ctx, number, c.Prompt())
	if err != nil {
		result.Error = err.Error()
		b.countCase("error")
		b.logger.Error().Err(err).Int("case_number", number).Str("title", c.Title).Msg("Benchmark case failed to start")
		return result
	}

	answer, reasoning := ExtractAnswer(outcome.Output)
	result.AgentAnswer = answer
	result.Reasoning = reasoning
	result.SessionID = outcome.SessionID
	result.Tokens = outcome.Tokens
	result.Correct = answer != "" && answer == c.GroundTruth

	if result.Correct {
		b.countCase("correct")
	} else {
		b.countCase("incorrect")
	}

	return result
}

func (b *Bench) countCase(outcome string) {
	if b.metrics == nil {
		return
	}
	b.metrics.BenchCasesTotal.WithLabelValues(outcome).Inc()
}

// Write saves the report as benchmark_results_{timestamp}.json under dir and
// returns the file path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("benchmark_results_%s.json", r.Timestamp))
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal benchmark report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write benchmark report: %w", err)
	}

	return path, nil
}

var resultCSVHeader = []string{"case_number", "case_title", "ground_truth", "agent_answer", "correct", "session_id", "timestamp"}

// AppendResultRow appends one case result to the CSV at path under an
// exclusive file lock, writing the header when the file is empty. Workers in
// this process and concurrent benchmark processes interleave whole rows.
func AppendResultRow(path string, result CaseResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results CSV: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock results CSV: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat results CSV: %w", err)
	}

	w := csv.NewWriter(f)
	if stat.Size() == 0 {
		if err := w.Write(resultCSVHeader); err != nil {
			return fmt.Errorf("failed to write results CSV header: %w", err)
		}
	}

	row := []string{
		strconv.Itoa(result.CaseNumber),
		result.CaseTitle,
		result.GroundTruth,
		result.AgentAnswer,
		strconv.FormatBool(result.Correct),
		result.SessionID,
		time.Now().Format(time.RFC3339),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write results CSV row: %w", err)
	}

	w.Flush()
	return w.Error()
}
