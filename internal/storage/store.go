package storage

import (
	"context"
	"errors"

	"progsynth/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// Store persists solutions and serves them back as seed genomes for later
// runs on the same or a similar task.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, genome model.StoredGenome) error
	GetGenome(ctx context.Context, id string) (model.StoredGenome, bool, error)
	// ListBestForTask ranks genomes stored for exactly this task.
	ListBestForTask(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error)
	// ListSimilarTasks ranks genomes from other tasks that share case pairs
	// with this one.
	ListSimilarTasks(ctx context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error)
	ListAll(ctx context.Context, limit int) ([]model.StoredGenome, error)
	DeleteGenome(ctx context.Context, id string) error
	TaskStatistics(ctx context.Context) ([]model.TaskStats, error)
}
