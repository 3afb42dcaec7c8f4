package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progsynth/internal/model"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		KindMemory: func(t *testing.T) Store {
			return NewMemoryStore()
		},
		KindSQLite: func(t *testing.T) Store {
			return NewSQLiteStore(filepath.Join(t.TempDir(), "progsynth.db"))
		},
		KindBadger: func(t *testing.T) Store {
			return NewBadgerStore(BadgerConfig{InMemory: true})
		},
	}
}

func openStore(t *testing.T, factory storeFactory) Store {
	t.Helper()
	store := factory(t)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = CloseIfSupported(store)
	})
	return store
}

func genomeIDs(genomes []model.StoredGenome) []string {
	ids := make([]string, len(genomes))
	for i, g := range genomes {
		ids[i] = g.ID
	}
	return ids
}

func TestStoreRequiresInit(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, _, err := store.GetGenome(context.Background(), "missing")
			require.ErrorIs(t, err, errNotInitialized)
		})
	}
}

func TestStoreGenomeRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, factory)

			genome := sampleGenome("g1", ",[->++<]>.", 100, doubleTrain, doubleTest)
			require.NoError(t, store.SaveGenome(ctx, genome))

			loaded, ok, err := store.GetGenome(ctx, "g1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, genome, loaded)

			genome.Program = ",[->++<]>.+-"
			require.NoError(t, store.SaveGenome(ctx, genome))
			loaded, ok, err = store.GetGenome(ctx, "g1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ",[->++<]>.+-", loaded.Program)

			_, ok, err = store.GetGenome(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRejectsInvalidGenome(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			genome := sampleGenome("bad", "+x", 10, doubleTrain, nil)
			var decodeErr *DecodeError
			require.ErrorAs(t, store.SaveGenome(context.Background(), genome), &decodeErr)
		})
	}
}

func TestStoreListBestForTask(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, factory)

			reordered := []model.TestCase{doubleTrain[1], doubleTrain[0]}
			otherTask := []model.TestCase{{Input: 5, Expected: 5}}
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("half", ",.", 50, doubleTrain, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("full", ",[->++<]>.", 100, reordered, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("short-full", ",[-]+.", 100, doubleTrain, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("other", ",.", 100, otherTask, nil)))

			best, err := store.ListBestForTask(ctx, doubleTrain, doubleTest, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"short-full", "full", "half"}, genomeIDs(best))

			top, err := store.ListBestForTask(ctx, doubleTrain, doubleTest, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"short-full"}, genomeIDs(top))

			none, err := store.ListBestForTask(ctx, []model.TestCase{{Input: 7, Expected: 1}}, nil, 5)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreListSimilarTasks(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, factory)

			nearby := append([]model.TestCase{}, doubleTrain...)
			nearby = append(nearby, doubleTest...)
			distant := []model.TestCase{{Input: 1, Expected: 2}, {Input: 9, Expected: 9}, {Input: 8, Expected: 8}}
			unrelated := []model.TestCase{{Input: 100, Expected: 1}}

			require.NoError(t, store.SaveGenome(ctx, sampleGenome("exact", ",.", 100, doubleTrain, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("close", ",.", 40, nearby, nil)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("distant", ",.", 100, distant, nil)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("unrelated", ",.", 100, unrelated, nil)))

			similar, err := store.ListSimilarTasks(ctx, doubleTrain, doubleTest, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"close", "distant"}, genomeIDs(similar))

			limited, err := store.ListSimilarTasks(ctx, doubleTrain, doubleTest, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"close"}, genomeIDs(limited))
		})
	}
}

func TestStoreListAllDeleteAndStatistics(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, factory)

			otherTask := []model.TestCase{{Input: 5, Expected: 5}}
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("a", ",.", 50, doubleTrain, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("b", ",[->++<]>.", 100, doubleTrain, doubleTest)))
			require.NoError(t, store.SaveGenome(ctx, sampleGenome("c", ",.", 80, otherTask, nil)))

			all, err := store.ListAll(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c", "a"}, genomeIDs(all))

			stats, err := store.TaskStatistics(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []model.TaskStats{
				{TaskKey: TaskKey(doubleTrain, doubleTest), Count: 2, BestAccuracy: 100},
				{TaskKey: TaskKey(otherTask, nil), Count: 1, BestAccuracy: 80},
			}, stats)

			require.NoError(t, store.DeleteGenome(ctx, "b"))
			require.NoError(t, store.DeleteGenome(ctx, "missing"))
			_, ok, err := store.GetGenome(ctx, "b")
			require.NoError(t, err)
			assert.False(t, ok)

			remaining, err := store.ListAll(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, genomeIDs(remaining))
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progsynth.db")

	first := NewSQLiteStore(path)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.SaveGenome(ctx, sampleGenome("g1", ",.", 50, doubleTrain, nil)))
	require.NoError(t, first.Close())

	second := NewSQLiteStore(path)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() { _ = second.Close() })
	_, ok, err := second.GetGenome(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "genomes")

	first := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.SaveGenome(ctx, sampleGenome("g1", ",.", 50, doubleTrain, nil)))
	require.NoError(t, first.Close())

	second := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() { _ = second.Close() })
	_, ok, err := second.GetGenome(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	require.Error(t, NewSQLiteStore("").Init(context.Background()))
	require.Error(t, NewBadgerStore(BadgerConfig{}).Init(context.Background()))
}
