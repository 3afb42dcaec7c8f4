package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"progsynth/internal/model"
)

// NewStoredGenome builds the persisted form of an individual solving the
// given task.
func NewStoredGenome(ind model.Individual, train, test []model.TestCase, generation int) model.StoredGenome {
	return model.StoredGenome{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              uuid.NewString(),
		TaskKey:         TaskKey(train, test),
		Program:         ind.Program,
		Fitness:         ind.Fitness,
		Accuracy:        ind.Accuracy,
		TrainAccuracy:   ind.TrainAccuracy,
		TestAccuracy:    ind.TestAccuracy,
		TrainCases:      append([]model.TestCase(nil), train...),
		TestCases:       append([]model.TestCase(nil), test...),
		GenerationFound: generation,
		CreatedAt:       time.Now().UTC(),
	}
}

// TaskKey identifies a task by its case pairs. Order within a split does not
// matter; which split a pair belongs to does.
func TaskKey(train, test []model.TestCase) string {
	return "train:" + splitKey(train) + "|test:" + splitKey(test)
}

func splitKey(cases []model.TestCase) string {
	pairs := make([]string, len(cases))
	for i, tc := range cases {
		pairs[i] = fmt.Sprintf("%d>%d", tc.Input, tc.Expected)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Similarity is the Jaccard index of the distinct case pairs of two tasks,
// splits pooled.
func Similarity(trainA, testA, trainB, testB []model.TestCase) float64 {
	a := casePairSet(trainA, testA)
	b := casePairSet(trainB, testB)
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for pair := range a {
		if _, ok := b[pair]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

func casePairSet(splits ...[]model.TestCase) map[model.TestCase]struct{} {
	set := map[model.TestCase]struct{}{}
	for _, cases := range splits {
		for _, tc := range cases {
			set[tc] = struct{}{}
		}
	}
	return set
}

// rankLess orders genomes best first: accuracy, test accuracy, fitness,
// shorter program, newer record, then id for a stable total order.
func rankLess(a, b model.StoredGenome) bool {
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	if a.TestAccuracy != b.TestAccuracy {
		return a.TestAccuracy > b.TestAccuracy
	}
	if a.Fitness != b.Fitness {
		return a.Fitness > b.Fitness
	}
	if len(a.Program) != len(b.Program) {
		return len(a.Program) < len(b.Program)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func rankGenomes(genomes []model.StoredGenome) {
	sort.SliceStable(genomes, func(i, j int) bool { return rankLess(genomes[i], genomes[j]) })
}

func limitGenomes(genomes []model.StoredGenome, limit int) []model.StoredGenome {
	if limit > 0 && len(genomes) > limit {
		return genomes[:limit]
	}
	return genomes
}

func bestForTask(all []model.StoredGenome, key string, limit int) []model.StoredGenome {
	out := make([]model.StoredGenome, 0)
	for _, g := range all {
		if g.TaskKey == key {
			out = append(out, g)
		}
	}
	rankGenomes(out)
	return limitGenomes(out, limit)
}

// similarTo keeps genomes from other tasks with a non-zero similarity,
// most similar first and ranked within equal similarity.
func similarTo(all []model.StoredGenome, train, test []model.TestCase, limit int) []model.StoredGenome {
	key := TaskKey(train, test)
	type scored struct {
		genome model.StoredGenome
		score  float64
	}
	candidates := make([]scored, 0)
	for _, g := range all {
		if g.TaskKey == key {
			continue
		}
		score := Similarity(train, test, g.TrainCases, g.TestCases)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{genome: g, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return rankLess(candidates[i].genome, candidates[j].genome)
	})
	out := make([]model.StoredGenome, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.genome)
	}
	return limitGenomes(out, limit)
}

func taskStatistics(all []model.StoredGenome) []model.TaskStats {
	byKey := map[string]*model.TaskStats{}
	for _, g := range all {
		stats := byKey[g.TaskKey]
		if stats == nil {
			stats = &model.TaskStats{TaskKey: g.TaskKey, BestAccuracy: g.Accuracy}
			byKey[g.TaskKey] = stats
		}
		stats.Count++
		if g.Accuracy > stats.BestAccuracy {
			stats.BestAccuracy = g.Accuracy
		}
	}
	out := make([]model.TaskStats, 0, len(byKey))
	for _, stats := range byKey {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskKey < out[j].TaskKey })
	return out
}

func cloneGenome(g model.StoredGenome) model.StoredGenome {
	g.TrainCases = append([]model.TestCase(nil), g.TrainCases...)
	g.TestCases = append([]model.TestCase(nil), g.TestCases...)
	return g
}
