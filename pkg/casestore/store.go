package casestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// embedBatchSize bounds how many case texts go into one embedding request
const embedBatchSize = 32

// Store is the on-disk case index
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   zerolog.Logger
}

// Options configures a Store. Embedder may be nil, which disables
// semantic search but leaves keyword search and lookup fully working.
type Options struct {
	DBPath   string
	Embedder Embedder
	Logger   zerolog.Logger
}

// Open opens or creates the case index database
func Open(opts Options) (*Store, error) {
	if opts.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", opts.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open case database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, embedder: opts.Embedder, logger: opts.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			case_number INTEGER,
			case_title TEXT NOT NULL,
			case_date TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			clinical_history TEXT NOT NULL DEFAULT '',
			imaging_findings TEXT NOT NULL DEFAULT '',
			discussion TEXT NOT NULL DEFAULT '',
			differential_diagnosis TEXT NOT NULL DEFAULT '',
			final_diagnosis TEXT NOT NULL DEFAULT '',
			images TEXT NOT NULL DEFAULT '',
			relate_case TEXT NOT NULL DEFAULT '',
			categories TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_cases_number ON cases(case_number);

		CREATE VIRTUAL TABLE IF NOT EXISTS cases_fts USING fts5(
			case_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS case_embeddings USING vec0(
				case_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())
		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns how many cases are indexed
func (s *Store) Count() int {
	var n int
	s.db.QueryRow("SELECT COUNT(*) FROM cases").Scan(&n)
	return n
}

// Ingest rebuilds the index from the cases CSV and returns how many cases
// were loaded. When an embedder is configured the embedding table is
// rebuilt too, in batches.
func (s *Store) Ingest(ctx context.Context, csvPath string) (int, error) {
	cases, err := LoadCases(csvPath)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM cases", "DELETE FROM cases_fts"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, err
		}
	}

	ids := make([]int64, len(cases))
	for i, c := range cases {
		var number sql.NullInt64
		if n, ok := c.Number(); ok {
			number = sql.NullInt64{Int64: int64(n), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO cases (
				case_number, case_title, case_date, link,
				clinical_history, imaging_findings, discussion,
				differential_diagnosis, final_diagnosis, images,
				relate_case, categories
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			number, c.Title, c.Date, c.Link,
			c.ClinicalHistory, c.ImagingFindings, c.Discussion,
			c.DifferentialDiagnosis, c.FinalDiagnosis, c.Images,
			c.RelatedCases, c.Categories,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert case %q: %w", c.Title, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		ids[i] = id

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cases_fts (case_id, content) VALUES (?, ?)",
			id, c.SearchText(),
		); err != nil {
			return 0, fmt.Errorf("failed to index case %q: %w", c.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ingest: %w", err)
	}

	if s.embedder != nil {
		if err := s.embedCases(ctx, ids, cases); err != nil {
			return len(cases), fmt.Errorf("cases indexed but embedding failed: %w", err)
		}
	}

	s.logger.Info().Int("cases", len(cases)).Str("csv", csvPath).Msg("Case index rebuilt")
	return len(cases), nil
}

// embedCases rebuilds the vector table for the given cases
func (s *Store) embedCases(ctx context.Context, ids []int64, cases []Case) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM case_embeddings"); err != nil {
		return err
	}

	for start := 0; start < len(cases); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(cases) {
			end = len(cases)
		}

		texts := make([]string, 0, end-start)
		for _, c := range cases[start:end] {
			texts = append(texts, c.EmbedText())
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for i, vec := range vectors {
			data, err := json.Marshal(vec)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO case_embeddings (case_id, embedding) VALUES (?, ?)",
				strconv.FormatInt(ids[start+i], 10), string(data),
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to store embedding: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	s.logger.Info().Int("embeddings", len(cases)).Msg("Embedding table rebuilt")
	return nil
}

// Search runs a query against the index. A case-number query ("1000",
// "case 1000") returns at most one exact hit with score 1.0; anything else
// is ranked by BM25 and capped at topK.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	if number, ok := ParseCaseNumberQuery(query); ok {
		c, err := s.Lookup(ctx, number)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		return []Result{{Case: *c, Score: 1.0}}, nil
	}

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+`, bm25(cases_fts) AS score
		FROM cases_fts
		JOIN cases c ON c.id = cases_fts.case_id
		WHERE cases_fts MATCH ?
		ORDER BY score
		LIMIT ?`,
		match, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var c Case
		var score float64
		if err := scanCase(rows, &c, &score); err != nil {
			return nil, err
		}
		// bm25() scores are negative, better matches more so
		results = append(results, Result{Case: c, Score: -score})
	}
	return results, rows.Err()
}

// SemanticSearch ranks cases by embedding similarity to the query
func (s *Store) SemanticSearch(ctx context.Context, query string, topK int) ([]Result, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("semantic search is not enabled: no embedder configured")
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, vec_distance_cosine(embedding, ?) AS distance
		FROM case_embeddings
		ORDER BY distance ASC
		LIMIT ?`,
		string(data), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id         int64
		similarity float64
	}
	var hits []hit
	for rows.Next() {
		var caseID string
		var distance float64
		if err := rows.Scan(&caseID, &distance); err != nil {
			return nil, err
		}
		id, err := strconv.ParseInt(caseID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, hit{id: id, similarity: 1.0 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		c, err := s.caseByID(ctx, h.id)
		if err != nil {
			s.logger.Warn().Err(err).Int64("case_id", h.id).Msg("Failed to fetch case for vector hit")
			continue
		}
		results = append(results, Result{Case: *c, Score: h.similarity})
	}
	return results, nil
}

// Lookup fetches a case by its case number, nil when unknown. When the
// corpus carries duplicate numbers the most recently ingested row wins.
func (s *Store) Lookup(ctx context.Context, number int) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases c
		WHERE case_number = ?
		ORDER BY id DESC
		LIMIT 1`,
		number,
	)

	var c Case
	if err := scanCase(row, &c, nil); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("case lookup failed: %w", err)
	}
	return &c, nil
}

func (s *Store) caseByID(ctx context.Context, id int64) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases c
		WHERE id = ?`,
		id,
	)
	var c Case
	if err := scanCase(row, &c, nil); err != nil {
		return nil, err
	}
	return &c, nil
}

const caseColumns = `
	c.case_title, c.case_date, c.link,
	c.clinical_history, c.imaging_findings, c.discussion,
	c.differential_diagnosis, c.final_diagnosis, c.images,
	c.relate_case, c.categories`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row scanner, c *Case, score *float64) error {
	dest := []interface{}{
		&c.Title, &c.Date, &c.Link,
		&c.ClinicalHistory, &c.ImagingFindings, &c.Discussion,
		&c.DifferentialDiagnosis, &c.FinalDiagnosis, &c.Images,
		&c.RelatedCases, &c.Categories,
	}
	if score != nil {
		dest = append(dest, score)
	}
	return row.Scan(dest...)
}

var tokenPattern = regexp.MustCompile(`\w+`)

// ftsQuery turns free text into an FTS5 OR-query over its tokens. BM25
// ranks a document against every query token, so any-token matching is the
// behavior callers expect; quoted lowercase tokens also keep FTS5 operator
// words and punctuation out of the MATCH expression.
func ftsQuery(query string) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(query), -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " OR ")
}
