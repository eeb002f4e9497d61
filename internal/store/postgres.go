package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the pgvector-backed store. Each run gets its own schema
// (bench_<uuid>) so concurrent result directories never share state and
// teardown is a single DROP SCHEMA. Keyword search uses a stored tsvector
// with a GIN index; vector search and distance scans use pgvector
// operators, served by an HNSW index when one could be built.
type PostgresStore struct {
	db      *sql.DB
	schema  string
	metric  DistanceMetric
	dim     int
	nextSeq int64
}

// OpenPostgres connects to dsn and provisions an ephemeral schema for this
// run. The server must have the pgvector extension available.
func OpenPostgres(ctx context.Context, dsn string, metric DistanceMetric, dim int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring pgvector extension: %w", err)
	}
	var hasExtension bool
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&hasExtension)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking pgvector extension: %w", err)
	}
	if !hasExtension {
		db.Close()
		return nil, fmt.Errorf("pgvector extension not installed - run: CREATE EXTENSION vector")
	}

	s := &PostgresStore{
		db:     db,
		schema: "bench_" + uuid.New().String()[:8],
		metric: metric,
		dim:    dim,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA %s`, s.schema),
		fmt.Sprintf(`CREATE TABLE %s.entries (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			cluster INT NOT NULL,
			seq BIGINT NOT NULL,
			embedding vector(%d) NOT NULL,
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED
		)`, s.schema, s.dim),
		fmt.Sprintf(`CREATE INDEX ON %s.entries USING GIN (tsv)`, s.schema),
		fmt.Sprintf(`CREATE TABLE %s.relations (
			id BIGSERIAL PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL
		)`, s.schema),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initializing postgres schema: %w", err)
		}
	}

	// HNSW needs pgvector 0.5+; fall back to ivfflat, and to a plain
	// sequential scan if neither index builds.
	hnsw := fmt.Sprintf(`CREATE INDEX ON %s.entries USING hnsw (embedding %s)`,
		s.schema, s.opClass())
	if _, err := s.db.ExecContext(ctx, hnsw); err != nil {
		ivf := fmt.Sprintf(`CREATE INDEX ON %s.entries USING ivfflat (embedding %s) WITH (lists = 100)`,
			s.schema, s.opClass())
		if _, err := s.db.ExecContext(ctx, ivf); err != nil {
			return nil
		}
	}
	return nil
}

func (s *PostgresStore) opClass() string {
	switch s.metric {
	case DistanceEuclidean:
		return "vector_l2_ops"
	case DistanceDotProduct:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func (s *PostgresStore) operator() string {
	switch s.metric {
	case DistanceEuclidean:
		return "<->"
	case DistanceDotProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// InsertEntries inserts a batch in one transaction, returning assigned IDs
// in input order.
func (s *PostgresStore) InsertEntries(ctx context.Context, entries []EntryInput) ([]int64, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s.entries (text, cluster, seq, embedding) VALUES ($1, $2, $3, $4) RETURNING id`,
		s.schema))
	if err != nil {
		return nil, fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if s.dim > 0 && len(e.Embedding) != s.dim {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(e.Embedding), s.dim)
		}
		s.nextSeq++
		var id int64
		err := stmt.QueryRowContext(ctx, e.Text, e.Cluster, s.nextSeq, pgvector.NewVector(e.Embedding)).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("inserting entry: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}
	return ids, nil
}

// KeywordSearch runs an OR-joined tsquery ordered by ts_rank descending
// with insertion sequence as the recency tie-break.
func (s *PostgresStore) KeywordSearch(ctx context.Context, terms []string, limit int) ([]SearchResult, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	query := strings.Join(terms, " | ")

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, text, cluster, seq, ts_rank(tsv, query) AS rank
		FROM %s.entries, to_tsquery('english', $1) query
		WHERE tsv @@ query
		ORDER BY rank DESC, seq DESC
		LIMIT $2`, s.schema), query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Cluster, &r.Seq, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// VectorSearch returns the nearest entries by the configured pgvector
// operator, ascending by distance.
func (s *PostgresStore) VectorSearch(ctx context.Context, query []float32, limit int, maxDistance float64) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	op := s.operator()
	var rows *sql.Rows
	var err error
	if maxDistance >= 0 {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, text, cluster, seq, embedding %s $1 AS distance
			FROM %s.entries
			WHERE (embedding %s $1) <= $2
			ORDER BY distance, id
			LIMIT $3`, op, s.schema, op),
			pgvector.NewVector(query), maxDistance, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, text, cluster, seq, embedding %s $1 AS distance
			FROM %s.entries
			ORDER BY distance, id
			LIMIT $2`, op, s.schema),
			pgvector.NewVector(query), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Cluster, &r.Seq, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Distances computes the distance from query to every entry server-side.
func (s *PostgresStore) Distances(ctx context.Context, query []float32) ([]EntryDistance, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, cluster, embedding %s $1
		FROM %s.entries`, s.operator(), s.schema),
		pgvector.NewVector(query))
	if err != nil {
		return nil, fmt.Errorf("distance scan: %w", err)
	}
	defer rows.Close()

	var out []EntryDistance
	for rows.Next() {
		var d EntryDistance
		if err := rows.Scan(&d.ID, &d.Cluster, &d.Distance); err != nil {
			return nil, fmt.Errorf("scanning distance row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertRelations inserts SPO rows in one transaction.
func (s *PostgresStore) InsertRelations(ctx context.Context, rels []Relation) error {
	if len(rels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s.relations (subject, predicate, object) VALUES ($1, $2, $3)`, s.schema))
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
func (s *PostgresStore) SearchRelations(ctx context.Context, term string, limit int) ([]Relation, error) {
	if term == "" || limit <= 0 {
		return nil, nil
	}
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, subject, predicate, object
		FROM %s.relations
		WHERE subject ILIKE $1 OR object ILIKE $1
		ORDER BY id
		LIMIT $2`, s.schema), pattern, limit)
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
func (s *PostgresStore) ClusterMap(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, cluster FROM %s.entries`, s.schema))
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
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s.entries`, s.schema)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// Schema returns the run's ephemeral schema name.
func (s *PostgresStore) Schema() string {
	return s.schema
}

// Close closes the connection, leaving the schema in place.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Destroy drops the run's schema and closes.
func (s *PostgresStore) Destroy() error {
	_, err := s.db.Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, s.schema))
	closeErr := s.db.Close()
	if err != nil {
		return fmt.Errorf("dropping schema %s: %w", s.schema, err)
	}
	return closeErr
}

// Verify interface compliance at compile time.
var _ Store = (*PostgresStore)(nil)
