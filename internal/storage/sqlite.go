package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"progsynth/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveGenome(ctx context.Context, genome model.StoredGenome) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGenome(genome)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genomes (id, task_key, accuracy, test_accuracy, fitness, program_length, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_key = excluded.task_key,
			accuracy = excluded.accuracy,
			test_accuracy = excluded.test_accuracy,
			fitness = excluded.fitness,
			program_length = excluded.program_length,
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, genome.ID, genome.TaskKey, genome.Accuracy, genome.TestAccuracy, genome.Fitness, len(genome.Program),
		genome.CreatedAt.UnixNano(), genome.SchemaVersion, genome.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetGenome(ctx context.Context, id string) (model.StoredGenome, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.StoredGenome{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM genomes WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StoredGenome{}, false, nil
		}
		return model.StoredGenome{}, false, err
	}

	genome, err := DecodeGenome(payload)
	if err != nil {
		return model.StoredGenome{}, false, err
	}
	return genome, true, nil
}

const rankOrder = `ORDER BY accuracy DESC, test_accuracy DESC, fitness DESC, program_length ASC, created_at DESC, id ASC`

func (s *SQLiteStore) ListBestForTask(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return queryGenomes(ctx, db,
		`SELECT payload FROM genomes WHERE task_key = ? `+rankOrder+` LIMIT ?`,
		TaskKey(train, test), sqlLimit(limit))
}

// ListSimilarTasks scores in Go; similarity depends on the decoded case
// lists and has no column form.
func (s *SQLiteStore) ListSimilarTasks(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	others, err := queryGenomes(ctx, db,
		`SELECT payload FROM genomes WHERE task_key <> ?`, TaskKey(train, test))
	if err != nil {
		return nil, err
	}
	return similarTo(others, train, test, limit), nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, limit int) ([]model.StoredGenome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return queryGenomes(ctx, db, `SELECT payload FROM genomes `+rankOrder+` LIMIT ?`, sqlLimit(limit))
}

func (s *SQLiteStore) DeleteGenome(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM genomes WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) TaskStatistics(ctx context.Context) ([]model.TaskStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT task_key, COUNT(*), MAX(accuracy)
		FROM genomes
		GROUP BY task_key
		ORDER BY task_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TaskStats, 0)
	for rows.Next() {
		var stats model.TaskStats
		if err := rows.Scan(&stats.TaskKey, &stats.Count, &stats.BestAccuracy); err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func queryGenomes(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.StoredGenome, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.StoredGenome, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		genome, err := DecodeGenome(payload)
		if err != nil {
			return nil, fmt.Errorf("list genomes: %w", err)
		}
		out = append(out, genome)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS genomes (
			id TEXT PRIMARY KEY,
			task_key TEXT NOT NULL,
			accuracy REAL NOT NULL,
			test_accuracy REAL NOT NULL,
			fitness REAL NOT NULL,
			program_length INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS genomes_task_key ON genomes (task_key);
	`)
	return err
}
