package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"progsynth/internal/model"
)

const genomeKeyPrefix = "genome/"

// BadgerConfig configures the embedded key-value backend. Path is required
// unless InMemory is set.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

type BadgerStore struct {
	cfg BadgerConfig

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(cfg BadgerConfig) *BadgerStore {
	return &BadgerStore{cfg: cfg}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if !s.cfg.InMemory && s.cfg.Path == "" {
		return errors.New("badger path is required")
	}

	var opts badger.Options
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.cfg.Path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.cfg.Path, err)
		}
		opts = badger.DefaultOptions(s.cfg.Path)
	}
	opts = opts.WithSyncWrites(s.cfg.SyncWrites).WithNumVersionsToKeep(1)
	if s.cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: s.cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SaveGenome(_ context.Context, genome model.StoredGenome) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeGenome(genome)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(genomeKey(genome.ID), payload)
	})
}

func (s *BadgerStore) GetGenome(_ context.Context, id string) (model.StoredGenome, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.StoredGenome{}, false, err
	}

	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(genomeKey(id))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.StoredGenome{}, false, nil
	}
	if err != nil {
		return model.StoredGenome{}, false, err
	}

	genome, err := DecodeGenome(payload)
	if err != nil {
		return model.StoredGenome{}, false, err
	}
	return genome, true, nil
}

func (s *BadgerStore) ListBestForTask(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return bestForTask(all, TaskKey(train, test), limit), nil
}

func (s *BadgerStore) ListSimilarTasks(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return similarTo(all, train, test, limit), nil
}

func (s *BadgerStore) ListAll(ctx context.Context, limit int) ([]model.StoredGenome, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	rankGenomes(all)
	return limitGenomes(all, limit), nil
}

func (s *BadgerStore) DeleteGenome(_ context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(genomeKey(id))
	})
}

func (s *BadgerStore) TaskStatistics(ctx context.Context) ([]model.TaskStats, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return taskStatistics(all), nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

// scan decodes every genome under the key prefix.
func (s *BadgerStore) scan(ctx context.Context) ([]model.StoredGenome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	out := make([]model.StoredGenome, 0)
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(genomeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			genome, err := DecodeGenome(payload)
			if err != nil {
				return fmt.Errorf("list genomes: %w", err)
			}
			out = append(out, genome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func genomeKey(id string) []byte {
	return []byte(genomeKeyPrefix + id)
}
