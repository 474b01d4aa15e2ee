package bench

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radresearch/caseagent/pkg/agent"
)

type stubBenchRunner struct {
	mu        sync.Mutex
	active    int
	maxActive int
	prompts   map[int]string
	outputs   map[int]string
	errs      map[int]error
	delay     time.Duration
}

func (s *stubBenchRunner) Run(_ context.Context, caseNumber int, prompt string) (RunOutcome, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	if s.prompts == nil {
		s.prompts = make(map[int]string)
	}
	s.prompts[caseNumber] = prompt
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.active--
	s.mu.Unlock()

	if err := s.errs[caseNumber]; err != nil {
		return RunOutcome{}, err
	}
	return RunOutcome{
		Output:    s.outputs[caseNumber],
		SessionID: fmt.Sprintf("sess_case_%d", caseNumber),
		Tokens:    agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func writeScoringCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.csv")
	csvText := "case_title,clinical_history,options,gt_letter\n" +
		`Case One,history one,"{""A"": ""right"", ""B"": ""wrong""}",A` + "\n" +
		`Case Two,history two,"{""A"": ""wrong"", ""B"": ""right""}",B` + "\n" +
		`Case Three,history three,"{""C"": ""right"", ""D"": ""wrong""}",C` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(csvText), 0o644))
	return path
}

func writeGeneratedCSV(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.csv")
	csvText := "case_title,clinical_history,options,gt_letter\n"
	for i := 1; i <= n; i++ {
		csvText += fmt.Sprintf(`Case %d,history %d,"{""A"": ""one"", ""B"": ""two""}",A`+"\n", i, i)
	}
	require.NoError(t, os.WriteFile(path, []byte(csvText), 0o644))
	return path
}

func newTestBench(t *testing.T, runner Runner, workers int) *Bench {
	t.Helper()
	b, err := New(Options{Runner: runner, Workers: workers, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	t.Run("should require a runner", func(t *testing.T) {
		_, err := New(Options{})
		assert.ErrorContains(t, err, "runner is required")
	})

	t.Run("should default to sequential execution", func(t *testing.T) {
		b, err := New(Options{Runner: &stubBenchRunner{}, Workers: -3, Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.Equal(t, 1, b.workers)
	})
}

func TestBenchRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should score answers against ground truth", func(t *testing.T) {
		runner := &stubBenchRunner{
			outputs: map[int]string{
				1: `{"answer": "a", "reasoning": "filling defect"}`,
				2: "I would go with Answer: D on reflection.",
			},
			errs: map[int]error{3: errors.New("provider unavailable")},
		}
		b := newTestBench(t, runner, 1)

		report, err := b.Run(ctx, RunParams{CSVPath: writeScoringCSV(t), Model: "deepseek-chat"})
		require.NoError(t, err)

		assert.Equal(t, 3, report.TotalCases)
		assert.Equal(t, 1, report.Correct)
		assert.InDelta(t, 1.0/3.0, report.Accuracy, 0.001)
		assert.Equal(t, "deepseek-chat", report.Model)

		require.Len(t, report.Results, 3)
		first := report.Results[0]
		assert.Equal(t, 1, first.CaseNumber)
		assert.Equal(t, "Case One", first.CaseTitle)
		assert.Equal(t, "A", first.AgentAnswer)
		assert.True(t, first.Correct)
		assert.Equal(t, "filling defect", first.Reasoning)
		assert.Equal(t, "sess_case_1", first.SessionID)
		assert.Equal(t, 10, first.Tokens.InputTokens)

		second := report.Results[1]
		assert.Equal(t, "D", second.AgentAnswer)
		assert.False(t, second.Correct)

		third := report.Results[2]
		assert.Contains(t, third.Error, "provider unavailable")
		assert.Empty(t, third.AgentAnswer)
		assert.False(t, third.Correct)
		assert.Empty(t, third.SessionID)
	})

	t.Run("should hand each runner the formatted prompt", func(t *testing.T) {
		runner := &stubBenchRunner{}
		b := newTestBench(t, runner, 1)

		_, err := b.Run(ctx, RunParams{CSVPath: writeScoringCSV(t)})
		require.NoError(t, err)

		assert.Contains(t, runner.prompts[1], "## Clinical Case: Case One")
		assert.Contains(t, runner.prompts[1], "A. right")
		assert.Contains(t, runner.prompts[1], "select the correct answer (A, B, C, D, or E)")
	})

	t.Run("should bound concurrent cases to the worker count", func(t *testing.T) {
		runner := &stubBenchRunner{delay: 30 * time.Millisecond}
		b := newTestBench(t, runner, 2)

		_, err := b.Run(ctx, RunParams{CSVPath: writeGeneratedCSV(t, 6)})
		require.NoError(t, err)

		assert.Equal(t, 2, runner.maxActive)
	})

	t.Run("should append one CSV row per finished case", func(t *testing.T) {
		runner := &stubBenchRunner{
			outputs: map[int]string{1: `{"answer": "A"}`, 2: `{"answer": "A"}`, 3: `{"answer": "B"}`},
		}
		b := newTestBench(t, runner, 2)
		resultsCSV := filepath.Join(t.TempDir(), "results", "rows.csv")

		_, err := b.Run(ctx, RunParams{CSVPath: writeScoringCSV(t), ResultsCSV: resultsCSV})
		require.NoError(t, err)

		f, err := os.Open(resultsCSV)
		require.NoError(t, err)
		defer f.Close()

		records, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4, "header plus one row per case")
		assert.Equal(t, resultCSVHeader, records[0])

		var caseNumbers []string
		for _, row := range records[1:] {
			caseNumbers = append(caseNumbers, row[0])
		}
		sort.Strings(caseNumbers)
		assert.Equal(t, []string{"1", "2", "3"}, caseNumbers)
	})

	t.Run("should reject an empty corpus", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.csv")
		require.NoError(t, os.WriteFile(path, []byte("case_title,clinical_history,options,gt_letter\n"), 0o644))

		b := newTestBench(t, &stubBenchRunner{}, 1)
		_, err := b.Run(ctx, RunParams{CSVPath: path})
		assert.ErrorContains(t, err, "no benchmark cases")
	})
}

func TestAppendResultRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")

	require.NoError(t, AppendResultRow(path, CaseResult{CaseNumber: 1, CaseTitle: "Case One", GroundTruth: "A", AgentAnswer: "A", Correct: true, SessionID: "sess_1"}))
	require.NoError(t, AppendResultRow(path, CaseResult{CaseNumber: 2, CaseTitle: "Case Two", GroundTruth: "B", AgentAnswer: "C"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header should be written exactly once")

	assert.Equal(t, resultCSVHeader, records[0])
	assert.Equal(t, []string{"1", "Case One", "A", "A", "true", "sess_1"}, records[1][:6])
	assert.Equal(t, []string{"2", "Case Two", "B", "C", "false", ""}, records[2][:6])
	assert.NotEmpty(t, records[1][6], "timestamp column should be populated")
}

func TestReportWrite(t *testing.T) {
	report := &Report{
		Timestamp:  "20260101_120000",
		Model:      "deepseek-chat",
		CSVPath:    "cases.csv",
		TotalCases: 2,
		Correct:    1,
		Accuracy:   0.5,
		Results: []CaseResult{
			{CaseNumber: 1, GroundTruth: "A", AgentAnswer: "A", Correct: true},
			{CaseNumber: 2, GroundTruth: "B", AgentAnswer: "E"},
		},
	}

	dir := t.TempDir()
	path, err := report.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "benchmark_results_20260101_120000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Report
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, *report, loaded)
}
