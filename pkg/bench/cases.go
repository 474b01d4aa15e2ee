// Package bench runs the multiple-choice diagnosis benchmark: one agent per
// case, answers extracted from final results and scored against the ground
// truth letter.
package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Case is one row of the benchmark CSV: a clinical vignette with lettered
// diagnosis options and the ground-truth letter.
type Case struct {
	Title       string
	History     string
	Options     map[string]string
	GroundTruth string
}

// LoadCases reads benchmark cases from a CSV file. A limit of 0 loads every
// row. Rows whose options column cannot be parsed are returned with empty
// Options rather than dropped, so case numbering stays aligned with the file.
func LoadCases(csvPath string, limit int) ([]Case, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open benchmark CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read benchmark CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var cases []Case
	for {
		if limit > 0 && len(cases) >= limit {
			break
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read benchmark CSV row: %w", err)
		}

		cases = append(cases, Case{
			Title:       field(record, "case_title"),
			History:     field(record, "clinical_history"),
			Options:     parseOptions(field(record, "options")),
			GroundTruth: strings.ToUpper(strings.TrimSpace(field(record, "gt_letter"))),
		})
	}

	return cases, nil
}

// parseOptions decodes the options column, a JSON object of letter to option
// text. Source files written from Python dict reprs use single quotes, so a
// quote-swapped reparse is attempted before giving up.
func parseOptions(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var options map[string]string
	if err := json.Unmarshal([]byte(raw), &options); err == nil {
		return options
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &options); err == nil {
		return options
	}
	return nil
}

// Prompt renders the case as the diagnosis question put to the agent.
func (c Case) Prompt() string {
	letters := make([]string, 0, len(c.Options))
	for letter := range c.Options {
		letters = append(letters, letter)
	}
	sort.Strings(letters)

	lines := make([]string, 0, len(letters))
	for _, letter := range letters {
		lines = append(lines, fmt.Sprintf("%s. %s", letter, c.Options[letter]))
	}

	return fmt.Sprintf(`## Clinical Case: %s

### Clinical History
%s


### Question
Based on the clinical history and imaging findings above, what is the most likely diagnosis?

### Options
%s

Please analyze this case and select the correct answer (A, B, C, D, or E).
Use the caseagent tools commands to plan your research, query the database, and submit your answer.
`, c.Title, c.History, strings.Join(lines, "\n"))
}

// ExtractAnswer pulls the answer letter and reasoning out of an agent's final
// output. A submitted final result is a JSON object with answer and reasoning
// fields; failing that, the raw text is scanned for an answer mention.
func ExtractAnswer(output string) (answer, reasoning string) {
	var payload struct {
		Answer    string `json:"answer"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err == nil {
		return strings.ToUpper(strings.TrimSpace(payload.Answer)), payload.Reasoning
	}

	for _, letter := range []string{"A", "B", "C", "D", "E"} {
		if strings.Contains(output, fmt.Sprintf(`"answer": "%s"`, letter)) ||
			strings.Contains(output, fmt.Sprintf("Answer: %s", letter)) {
			return letter, ""
		}
	}

	return "", ""
}
