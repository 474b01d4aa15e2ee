package casestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseNumber(t *testing.T) {
	t.Run("should extract the number from the title", func(t *testing.T) {
		c := Case{Title: "Eurorad - Case number 18754 - Pulmonary embolism"}
		n, ok := c.Number()
		require.True(t, ok)
		assert.Equal(t, 18754, n)
	})

	t.Run("should report titles without a number", func(t *testing.T) {
		c := Case{Title: "An interesting presentation"}
		_, ok := c.Number()
		assert.False(t, ok)
	})
}

func TestParseCaseNumberQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		number   int
		expected bool
	}{
		{"bare number", "1000", 1000, true},
		{"padded number", "  68  ", 68, true},
		{"case prefix", "case 1000", 1000, true},
		{"case number prefix", "case number 1000", 1000, true},
		{"mixed case", "Case Number 42", 42, true},
		{"no space after case", "case1000", 1000, true},
		{"free text", "chest pain dyspnea", 0, false},
		{"number inside text", "10 cases of fever", 0, false},
		{"signed number", "+5", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := ParseCaseNumberQuery(tt.query)
			assert.Equal(t, tt.expected, ok)
			if tt.expected {
				assert.Equal(t, tt.number, n)
			}
		})
	}
}

func TestRelatedTop5(t *testing.T) {
	t.Run("should cap at five references", func(t *testing.T) {
		c := Case{RelatedCases: "a;b;c;d;e;f;g"}
		assert.Equal(t, "a;b;c;d;e", c.RelatedTop5())
	})

	t.Run("should keep shorter lists intact", func(t *testing.T) {
		c := Case{RelatedCases: "a;b"}
		assert.Equal(t, "a;b", c.RelatedTop5())
	})

	t.Run("should fall back for empty lists", func(t *testing.T) {
		c := Case{}
		assert.Equal(t, "N/A", c.RelatedTop5())
	})
}

func TestDisplay(t *testing.T) {
	c := Case{
		Title:           "Eurorad - Case number 68 - Test case",
		Date:            "2024-01-01",
		Link:            "https://www.eurorad.org/case/68",
		ClinicalHistory: "45-year-old with chest pain",
		ImagingFindings: "Filling defect on CTPA",
		FinalDiagnosis:  "Pulmonary embolism",
		Categories:      "Chest",
	}

	out := c.Display()
	assert.Contains(t, out, "CASE: Eurorad - Case number 68 - Test case")
	assert.Contains(t, out, "Date: 2024-01-01")
	assert.Contains(t, out, "--- CLINICAL HISTORY ---\n45-year-old with chest pain")
	assert.Contains(t, out, "--- FINAL DIAGNOSIS ---\nPulmonary embolism")
	assert.Contains(t, out, strings.Repeat("=", 80))

	t.Run("should show N/A for empty sections", func(t *testing.T) {
		assert.Contains(t, out, "--- DISCUSSION ---\nN/A")
		assert.Contains(t, out, "--- IMAGES ---\nN/A")
		assert.Contains(t, out, "--- RELATED CASES (Top 5) ---\nN/A")
	})
}

func TestSearchAndEmbedText(t *testing.T) {
	c := Case{
		ClinicalHistory:       "history",
		ImagingFindings:       "findings",
		Discussion:            "discussion",
		DifferentialDiagnosis: "differential",
		FinalDiagnosis:        "final",
	}

	assert.Equal(t, "history findings discussion", c.SearchText())
	assert.Equal(t, "history findings discussion differential final", c.EmbedText())
}

func TestLoadCases(t *testing.T) {
	t.Run("should map columns by header name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cases.csv")
		csv := "case_title,case_date,link,clinical_history,imaging_findings,discussion,differential_diagnosis,final_diagnosis,images,relate_case,Categories\n" +
			"Case number 1000 - PE,2024-01-01,https://x/case/1000,chest pain,filling defect,classic PE,PE vs pneumonia,Pulmonary embolism,img1,ref1;ref2,Chest\n"
		require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

		cases, err := LoadCases(path)
		require.NoError(t, err)
		require.Len(t, cases, 1)

		c := cases[0]
		assert.Equal(t, "Case number 1000 - PE", c.Title)
		assert.Equal(t, "chest pain", c.ClinicalHistory)
		assert.Equal(t, "Pulmonary embolism", c.FinalDiagnosis)
		assert.Equal(t, "Chest", c.Categories)

		n, ok := c.Number()
		require.True(t, ok)
		assert.Equal(t, 1000, n)
	})

	t.Run("should fail when the CSV is missing", func(t *testing.T) {
		_, err := LoadCases(filepath.Join(t.TempDir(), "missing.csv"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open cases CSV")
	})
}

func TestFormatResults(t *testing.T) {
	t.Run("should render ranked hits", func(t *testing.T) {
		results := []Result{
			{Case: Case{Title: "Case number 1 - A"}, Score: 12.3456},
			{Case: Case{Title: "Case number 2 - B"}, Score: 3.21},
		}

		out := FormatResults(results)
		assert.Contains(t, out, "Top 2 results:")
		assert.Contains(t, out, "RANK 1 | SCORE: 12.3456")
		assert.Contains(t, out, "RANK 2 | SCORE: 3.2100")
		assert.Contains(t, out, "CASE: Case number 1 - A")
	})

	t.Run("should report empty result sets", func(t *testing.T) {
		assert.Equal(t, "No results found.", FormatResults(nil))
	})
}

func TestFormatExactMatch(t *testing.T) {
	c := Case{Title: "Case number 68 - Test"}
	out := FormatExactMatch(&c)
	assert.True(t, strings.HasPrefix(out, "Found exact match for case number:"))
	assert.Contains(t, out, "CASE: Case number 68 - Test")
}

func TestFtsQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{"plain words", "chest pain", `"chest" OR "pain"`},
		{"punctuation stripped", "pain, dyspnea!", `"pain" OR "dyspnea"`},
		{"lowercased operators", "fever AND rash", `"fever" OR "and" OR "rash"`},
		{"empty", "  ...  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ftsQuery(tt.query))
		})
	}
}
