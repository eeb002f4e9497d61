package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default store backend: pure Go SQLite with an FTS5
// index for keyword search and embeddings stored as little-endian float32
// blobs. Vector searches and distance scans decode the blobs and compute
// distances in Go. That is exact brute force, which is the point: corpus
// scales stay small enough that O(n) per query is cheap, and the analyzer
// needs full scans regardless.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	metric DistanceMetric
	dim    int

	nextSeq int64

	// Decoded embeddings, loaded lazily for scans and invalidated on
	// insert.
	vecs      []vecEntry
	vecsStale bool
}

type vecEntry struct {
	id      int64
	cluster int
	seq     int64
	text    string
	vec     []float32
}

// OpenSQLite opens (creating if needed) a SQLite store at path. Pass
// ":memory:" for an in-memory store.
func OpenSQLite(path string, metric DistanceMetric, dim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// Single-writer workload; one connection keeps :memory: stores
	// coherent and avoids table-lock churn on disk.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		path:      path,
		metric:    metric,
		dim:       dim,
		vecsStale: true,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM entries`).Scan(&s.nextSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading max seq: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			cluster INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(text)`,
		`CREATE TABLE IF NOT EXISTS relations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_cluster ON entries(cluster)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing sqlite schema: %w", err)
		}
	}
	return nil
}

// InsertEntries inserts a batch in one transaction. The FTS row shares the
// entry's rowid so keyword hits join back to entries directly.
func (s *SQLiteStore) InsertEntries(ctx context.Context, entries []EntryInput) ([]int64, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	insEntry, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (text, cluster, seq, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing entry insert: %w", err)
	}
	defer insEntry.Close()

	insFTS, err := tx.PrepareContext(ctx,
		`INSERT INTO entries_fts (rowid, text) VALUES (?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing fts insert: %w", err)
	}
	defer insFTS.Close()

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if s.dim > 0 && len(e.Embedding) != s.dim {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(e.Embedding), s.dim)
		}
		s.nextSeq++
		res, err := insEntry.ExecContext(ctx, e.Text, e.Cluster, s.nextSeq, encodeVector(e.Embedding))
		if err != nil {
			return nil, fmt.Errorf("inserting entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading entry id: %w", err)
		}
		if _, err := insFTS.ExecContext(ctx, id, e.Text); err != nil {
			return nil, fmt.Errorf("indexing entry text: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}
	s.vecsStale = true
	return ids, nil
}

// KeywordSearch issues an OR-joined FTS5 match. bm25 scores are smaller for
// better matches, so results order by bm25 ascending with insertion
// sequence descending as the recency tie-break; the returned Score negates
// bm25 so callers see higher-is-better.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, terms []string, limit int) ([]SearchResult, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	match := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.text, e.cluster, e.seq, bm25(entries_fts)
		FROM entries_fts
		JOIN entries e ON e.id = entries_fts.rowid
		WHERE entries_fts MATCH ?
		ORDER BY bm25(entries_fts), e.seq DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var bm float64
		if err := rows.Scan(&r.ID, &r.Text, &r.Cluster, &r.Seq, &bm); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		r.Score = -bm
		results = append(results, r)
	}
	return results, rows.Err()
}

// VectorSearch returns the nearest entries by the configured metric,
// ascending by distance with entry ID as the deterministic tie-break.
func (s *SQLiteStore) VectorSearch(ctx context.Context, query []float32, limit int, maxDistance float64) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := s.loadVectors(ctx); err != nil {
		return nil, err
	}

	type pair struct {
		idx  int
		dist float64
	}
	pairs := make([]pair, 0, len(s.vecs))
	for i := range s.vecs {
		d := s.metric.Distance(query, s.vecs[i].vec)
		if maxDistance >= 0 && d > maxDistance {
			continue
		}
		pairs = append(pairs, pair{i, d})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return s.vecs[pairs[i].idx].id < s.vecs[pairs[j].idx].id
	})
	if limit < len(pairs) {
		pairs = pairs[:limit]
	}

	results := make([]SearchResult, len(pairs))
	for i, p := range pairs {
		v := s.vecs[p.idx]
		results[i] = SearchResult{
			ID:       v.id,
			Text:     v.text,
			Cluster:  v.cluster,
			Seq:      v.seq,
			Distance: p.dist,
		}
	}
	return results, nil
}

// Distances computes the distance from query to every stored entry.
func (s *SQLiteStore) Distances(ctx context.Context, query []float32) ([]EntryDistance, error) {
	if err := s.loadVectors(ctx); err != nil {
		return nil, err
	}
	out := make([]EntryDistance, len(s.vecs))
	for i := range s.vecs {
		out[i] = EntryDistance{
			ID:       s.vecs[i].id,
			Cluster:  s.vecs[i].cluster,
			Distance: s.metric.Distance(query, s.vecs[i].vec),
		}
	}
	return out, nil
}

// InsertRelations inserts SPO rows in one transaction.
func (s *SQLiteStore) InsertRelations(ctx context.Context, rels []Relation) error {
	if len(rels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relations (subject, predicate, object) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing relation insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rels {
		if _, err := stmt.ExecContext(ctx, r.Subject, r.Predicate, r.Object); err != nil {
			return fmt.Errorf("inserting relation: %w", err)
		}
	}
	return tx.Commit()
}

// SearchRelations matches term as a case-insensitive substring of subject
// or object names.
func (s *SQLiteStore) SearchRelations(ctx context.Context, term string, limit int) ([]Relation, error) {
	if term == "" || limit <= 0 {
		return nil, nil
	}
	pattern := "%" + strings.ToLower(term) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, predicate, object
		FROM relations
		WHERE LOWER(subject) LIKE ? OR LOWER(object) LIKE ?
		ORDER BY id
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("relation search: %w", err)
	}
	defer rows.Close()

	var rels []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.Subject, &r.Predicate, &r.Object); err != nil {
			return nil, fmt.Errorf("scanning relation row: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// ClusterMap returns the entry to cluster ground-truth table.
func (s *SQLiteStore) ClusterMap(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, cluster FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("reading cluster map: %w", err)
	}
	defer rows.Close()

	m := make(map[int64]int)
	for rows.Next() {
		var id int64
		var cluster int
		if err := rows.Scan(&id, &cluster); err != nil {
			return nil, fmt.Errorf("scanning cluster row: %w", err)
		}
		m[id] = cluster
	}
	return m, rows.Err()
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// Close closes the database without removing its file.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Destroy closes the database and deletes its file.
func (s *SQLiteStore) Destroy() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	if s.path != "" && s.path != ":memory:" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing store file: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadVectors(ctx context.Context) error {
	if !s.vecsStale {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, cluster, seq, embedding FROM entries ORDER BY id`)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	s.vecs = s.vecs[:0]
	for rows.Next() {
		var v vecEntry
		var blob []byte
		if err := rows.Scan(&v.id, &v.text, &v.cluster, &v.seq, &blob); err != nil {
			return fmt.Errorf("scanning embedding row: %w", err)
		}
		v.vec = decodeVector(blob)
		if v.vec == nil {
			return fmt.Errorf("entry %d has a malformed embedding blob", v.id)
		}
		s.vecs = append(s.vecs, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.vecsStale = false
	return nil
}

// encodeVector converts a []float32 to a little-endian binary blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a blob back to []float32, nil if malformed.
func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Verify interface compliance at compile time.
var _ Store = (*SQLiteStore)(nil)
