// Package casestore indexes the medical case corpus for the research
// tooling: BM25 keyword search over an FTS5 table, direct case-number
// lookup, and optional embedding similarity search through sqlite-vec.
package casestore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Case is one medical case from the corpus
type Case struct {
	Title                 string
	Date                  string
	Link                  string
	ClinicalHistory       string
	ImagingFindings       string
	Discussion            string
	DifferentialDiagnosis string
	FinalDiagnosis        string
	Images                string
	RelatedCases          string
	Categories            string
}

var caseNumberPattern = regexp.MustCompile(`Case number (\d+)`)

// Number extracts the case number from the title
func (c *Case) Number() (int, bool) {
	m := caseNumberPattern.FindStringSubmatch(c.Title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SearchText is the text the keyword index ranks against
func (c *Case) SearchText() string {
	return fmt.Sprintf("%s %s %s", c.ClinicalHistory, c.ImagingFindings, c.Discussion)
}

// EmbedText is the richer text used for embedding similarity. It includes
// the differential and final diagnoses, which the keyword index leaves out
// so that search cannot trivially match on the answer wording.
func (c *Case) EmbedText() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s %s %s %s",
		c.ClinicalHistory, c.ImagingFindings, c.Discussion,
		c.DifferentialDiagnosis, c.FinalDiagnosis))
}

// RelatedTop5 returns the first five related case references
func (c *Case) RelatedTop5() string {
	if c.RelatedCases == "" {
		return "N/A"
	}
	refs := strings.Split(c.RelatedCases, ";")
	if len(refs) > 5 {
		refs = refs[:5]
	}
	return strings.Join(refs, ";")
}

// Display renders the full case the way the research tooling presents it
func (c *Case) Display() string {
	sep := strings.Repeat("=", 80)
	return fmt.Sprintf(`
%s
CASE: %s
%s
Date: %s
Link: %s
Categories: %s

--- CLINICAL HISTORY ---
%s

--- IMAGING FINDINGS ---
%s

--- DISCUSSION ---
%s

--- DIFFERENTIAL DIAGNOSIS ---
%s

--- FINAL DIAGNOSIS ---
%s

--- IMAGES ---
%s

--- RELATED CASES (Top 5) ---
%s
%s
`,
		sep, c.Title, sep, c.Date, c.Link, c.Categories,
		orNA(c.ClinicalHistory), orNA(c.ImagingFindings), orNA(c.Discussion),
		orNA(c.DifferentialDiagnosis), orNA(c.FinalDiagnosis), orNA(c.Images),
		c.RelatedTop5(), sep)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// LoadCases reads the case corpus CSV. Column order is free; the header row
// names the fields. The categories column is capitalized in the source data.
func LoadCases(csvPath string) ([]Case, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cases CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read cases CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var cases []Case
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cases CSV row: %w", err)
		}
		cases = append(cases, Case{
			Title:                 field(row, "case_title"),
			Date:                  field(row, "case_date"),
			Link:                  field(row, "link"),
			ClinicalHistory:       field(row, "clinical_history"),
			ImagingFindings:       field(row, "imaging_findings"),
			Discussion:            field(row, "discussion"),
			DifferentialDiagnosis: field(row, "differential_diagnosis"),
			FinalDiagnosis:        field(row, "final_diagnosis"),
			Images:                field(row, "images"),
			RelatedCases:          field(row, "relate_case"),
			Categories:            field(row, "Categories"),
		})
	}
	return cases, nil
}

var caseQueryPattern = regexp.MustCompile(`(?i)^case\s*(?:number\s*)?(\d+)$`)

// ParseCaseNumberQuery recognizes direct case lookups: a bare number,
// "case 1000", or "case number 1000".
func ParseCaseNumberQuery(query string) (int, bool) {
	query = strings.TrimSpace(query)
	if n, err := strconv.Atoi(query); err == nil && !strings.ContainsAny(query, "+-") {
		return n, true
	}
	if m := caseQueryPattern.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Result is one ranked search hit
type Result struct {
	Case  Case
	Score float64
}

// FormatResults renders ranked hits the way the search script prints them
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d results:\n", len(results))
	for rank, r := range results {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("=", 80))
		b.WriteString("\n")
		fmt.Fprintf(&b, "RANK %d | SCORE: %.4f", rank+1, r.Score)
		b.WriteString(r.Case.Display())
	}
	return b.String()
}

// FormatExactMatch renders a direct case-number hit
func FormatExactMatch(c *Case) string {
	return "Found exact match for case number:" + c.Display()
}
