package searchindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/simnova/sharethrift-sub014/internal/storage"
)

const (
	defaultTop       = 50
	maxTop           = 1000
	defaultCacheSize = 1000
)

// ErrInvalidQuery is returned for filters on unknown or non-filterable fields
var ErrInvalidQuery = errors.New("invalid search query")

// SQLiteIndex stores each index as a JSON document table plus an FTS5 table
// over its searchable fields. Search results are cached per index and
// invalidated by any write to that index.
type SQLiteIndex struct {
	db *sql.DB

	mu          sync.RWMutex
	specs       map[string]IndexSpec
	generations map[string]uint64

	cache *lru.Cache[[32]byte, *SearchResult]
}

// Open opens (or creates) the search database at path
func Open(path string, cacheSize int) (*SQLiteIndex, error) {
	db, err := storage.OpenDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search database: %w", err)
	}
	idx, err := NewSQLiteIndex(context.Background(), db, cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// NewSQLiteIndex uses db for index storage and loads existing definitions
func NewSQLiteIndex(ctx context.Context, db *sql.DB, cacheSize int) (*SQLiteIndex, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[[32]byte, *SearchResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS search_indexes (
			name TEXT PRIMARY KEY,
			spec TEXT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("failed to create index catalog: %w", err)
	}

	s := &SQLiteIndex{
		db:          db,
		specs:       make(map[string]IndexSpec),
		generations: make(map[string]uint64),
		cache:       cache,
	}
	if err := s.loadSpecs(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIndex) loadSpecs(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, spec FROM search_indexes`)
	if err != nil {
		return fmt.Errorf("failed to load index catalog: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return err
		}
		var spec IndexSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
		s.specs[name] = spec
	}
	return rows.Err()
}

// Close closes the database connection
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func docsTable(index string) string { return `"search_` + index + `_docs"` }
func ftsTable(index string) string  { return `"search_` + index + `_fts"` }

func (s *SQLiteIndex) spec(index string) (IndexSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[index]
	return spec, ok
}

// CreateIndexIfNotExists creates the tables of spec. An existing index keeps
// its stored definition.
func (s *SQLiteIndex) CreateIndexIfNotExists(ctx context.Context, spec IndexSpec) error {
	if _, ok := s.spec(spec.Name); ok {
		return nil
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	cols := []string{"doc_key UNINDEXED"}
	for _, f := range spec.SearchableFields() {
		cols = append(cols, `"`+f+`"`)
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + docsTable(spec.Name) + ` (doc_key TEXT PRIMARY KEY, body TEXT NOT NULL)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS ` + ftsTable(spec.Name) + ` USING fts5(` + strings.Join(cols, ", ") + `)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index %s: %w", spec.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO search_indexes (name, spec) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		spec.Name, string(raw)); err != nil {
		return fmt.Errorf("failed to register index %s: %w", spec.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.specs[spec.Name]; !ok {
		s.specs[spec.Name] = spec
	}
	s.mu.Unlock()
	return nil
}

// IndexDocument inserts or replaces doc, keyed by the index key field
func (s *SQLiteIndex) IndexDocument(ctx context.Context, index string, doc Document) error {
	spec, ok := s.spec(index)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	key, _ := doc[spec.KeyField()].(string)
	if key == "" {
		return fmt.Errorf("%w: missing key field %q", ErrInvalidDocument, spec.KeyField())
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	searchable := spec.SearchableFields()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(searchable)+1), ", ")
	quoted := make([]string, len(searchable))
	args := []interface{}{key}
	for i, f := range searchable {
		quoted[i] = `"` + f + `"`
		args = append(args, ftsText(doc[f]))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+docsTable(index)+` (doc_key, body) VALUES (?, ?)
		ON CONFLICT(doc_key) DO UPDATE SET body = excluded.body`, key, string(body)); err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", index, key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+ftsTable(index)+` WHERE doc_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear text index %s/%s: %w", index, key, err)
	}
	insertFTS := `INSERT INTO ` + ftsTable(index) + ` (doc_key`
	if len(quoted) > 0 {
		insertFTS += `, ` + strings.Join(quoted, ", ")
	}
	insertFTS += `) VALUES (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, insertFTS, args...); err != nil {
		return fmt.Errorf("failed to write text index %s/%s: %w", index, key, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.invalidate(index)
	return nil
}

// DeleteDocument removes key from index. ErrDocumentNotFound is returned when
// the key is not indexed.
func (s *SQLiteIndex) DeleteDocument(ctx context.Context, index, key string) error {
	if _, ok := s.spec(index); !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM `+docsTable(index)+` WHERE doc_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", index, key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, index, key)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+ftsTable(index)+` WHERE doc_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete text index %s/%s: %w", index, key, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.invalidate(index)
	return nil
}

// Search runs a full-text query ranked by bm25. An empty text or "*" lists
// documents by key. The returned result is shared with the cache and must not
// be modified.
func (s *SQLiteIndex) Search(ctx context.Context, index, text string, opts SearchOptions) (*SearchResult, error) {
	spec, ok := s.spec(index)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	if opts.Top <= 0 {
		opts.Top = defaultTop
	}
	if opts.Top > maxTop {
		opts.Top = maxTop
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}

	key := s.cacheKey(index, text, opts)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	docs, fts := docsTable(index), ftsTable(index)
	var (
		from  string
		score string
		where []string
		args  []interface{}
	)
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		from = docs + ` d`
		score = `0`
	} else {
		from = fts + ` JOIN ` + docs + ` d ON d.doc_key = ` + fts + `.doc_key`
		score = `bm25(` + fts + `)`
		where = append(where, fts+` MATCH ?`)
		args = append(args, ftsQuery(text))
	}

	names := make([]string, 0, len(opts.Filter))
	for name := range opts.Filter {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := spec.field(name)
		if !ok || !f.Filterable {
			return nil, fmt.Errorf("%w: field %q is not filterable", ErrInvalidQuery, name)
		}
		where = append(where, `json_extract(d.body, '$.`+name+`') = ?`)
		args = append(args, opts.Filter[name])
	}

	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, ` AND `)
	}

	result := &SearchResult{Hits: []Hit{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+from+clause, args...).Scan(&result.Count); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	query := `SELECT d.doc_key, d.body, ` + score + ` AS score FROM ` + from + clause +
		` ORDER BY score, d.doc_key LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Top, opts.Skip)...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer rows.Close()

	for rows.Next() {
		var hit Hit
		var body string
		var rank float64
		if err := rows.Scan(&hit.Key, &body, &rank); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &hit.Document); err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", index, hit.Key, err)
		}
		// bm25 is lower for better matches
		hit.Score = -rank
		result.Hits = append(result.Hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.Add(key, result)
	return result, nil
}

// invalidate moves index to a new generation; older cache entries become unreachable
func (s *SQLiteIndex) invalidate(index string) {
	s.mu.Lock()
	s.generations[index]++
	s.mu.Unlock()
}

func (s *SQLiteIndex) cacheKey(index, text string, opts SearchOptions) [32]byte {
	s.mu.RLock()
	gen := s.generations[index]
	s.mu.RUnlock()
	// fmt prints maps with sorted keys
	return sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s\x00%v\x00%d\x00%d",
		index, gen, text, opts.Filter, opts.Top, opts.Skip)))
}

// ftsQuery quotes every term so user input cannot use FTS5 query syntax.
// Terms are combined with AND.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func ftsText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, " ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(x)
	}
}
