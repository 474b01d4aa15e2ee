// Package caseimage loads the catalogue of per-case medical images and
// resolves them to embeddable content: local cache first, then an on-demand
// browser download for sites that sit behind a challenge page.
package caseimage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Image is one catalogued case image
type Image struct {
	URL     string
	Caption string
	ImgID   string
	Plink   string
}

// Index maps case ids to their catalogued images, in CSV order
type Index struct {
	byCase map[string][]Image
}

var caseIDPattern = regexp.MustCompile(`/case/(\d+)`)

func extractCaseID(plink string) string {
	m := caseIDPattern.FindStringSubmatch(plink)
	if m == nil {
		return ""
	}
	return m[1]
}

// LoadIndex reads the image metadata CSV. Expected columns are plink (the
// case page URL the id is extracted from), img_url, img_alt, and img_id;
// rows without a recognizable case id or without an image URL are skipped.
func LoadIndex(csvPath string) (*Index, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read image CSV header: %w", err)
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

	ix := &Index{byCase: make(map[string][]Image)}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read image CSV row: %w", err)
		}

		plink := field(row, "plink")
		caseID := extractCaseID(plink)
		if caseID == "" {
			continue
		}
		img := Image{
			URL:     field(row, "img_url"),
			Caption: field(row, "img_alt"),
			ImgID:   field(row, "img_id"),
			Plink:   plink,
		}
		if img.URL == "" {
			continue
		}
		ix.byCase[caseID] = append(ix.byCase[caseID], img)
	}

	return ix, nil
}

// Images returns the catalogued images for a case, nil when unknown
func (ix *Index) Images(caseID string) []Image {
	return ix.byCase[caseID]
}

// HasImages reports whether the case has at least one catalogued image
func (ix *Index) HasImages(caseID string) bool {
	return len(ix.byCase[caseID]) > 0
}

// CaseIDs returns all catalogued case ids in numeric order
func (ix *Index) CaseIDs() []string {
	ids := make([]string, 0, len(ix.byCase))
	for id := range ix.byCase {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

// TotalImages counts catalogued images across all cases
func (ix *Index) TotalImages() int {
	total := 0
	for _, imgs := range ix.byCase {
		total += len(imgs)
	}
	return total
}
