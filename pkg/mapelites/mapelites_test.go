package mapelites

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChicagoDave/parcelgen/pkg/density"
)

// ringProblem is five unit-area parcels in a ring; parcel 2 is fixed with
// three existing buildings.
func ringProblem() (density.Problem, []int) {
	p := density.Problem{
		Areas:    []float64{1, 1, 1, 1, 1},
		Editable: []int{0, 1, 3, 4},
		Neighbors: map[int][]int{
			0: {1, 4},
			1: {0, 2},
			3: {2, 4},
			4: {3, 0},
		},
	}
	return p, []int{0, 0, 3, 0, 0}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PopRange = 5
	cfg.MaxBuildings = 20
	cfg.InitialPopulation = 25
	cfg.Workers = 4
	cfg.SnapshotEvery = 0
	return cfg
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func initialized(t *testing.T, cfg Config, seed uint64) *Archive {
	t.Helper()
	p, s := ringProblem()
	a, err := Initialize(context.Background(), p, s, cfg, newRNG(seed), nil)
	require.NoError(t, err)
	return a
}

func emptyArchive(t *testing.T, cfg Config) *Archive {
	t.Helper()
	p, s := ringProblem()
	a, err := NewArchive(p, s, cfg, nil)
	require.NoError(t, err)
	return a
}

func TestBinIndex(t *testing.T) {
	assert.Equal(t, 0, BinIndex(0, 0, 10, 10))
	assert.Equal(t, 5, BinIndex(5, 0, 10, 10))
	assert.Equal(t, 9, BinIndex(9.99, 0, 10, 10))
	assert.Equal(t, 10, BinIndex(10, 0, 10, 10))
	assert.Equal(t, 10, BinIndex(42, 0, 10, 10))
	assert.Equal(t, -1, BinIndex(-0.1, 0, 10, 10))
	assert.Equal(t, -1, BinIndex(math.NaN(), 0, 1, 10))
	assert.Equal(t, 3, BinIndex(0.35, 0, 1, 10))
	assert.Equal(t, -1, BinIndex(1, 1, 1, 10))
}

func TestNewArchivePreconditions(t *testing.T) {
	p, s := ringProblem()

	_, err := NewArchive(p, s[:3], testConfig(), nil)
	assert.ErrorIs(t, err, density.ErrChromosomeLength)

	noEdit := p
	noEdit.Editable = nil
	_, err = NewArchive(noEdit, s, testConfig(), nil)
	assert.ErrorIs(t, err, density.ErrNoEditable)

	cfg := testConfig()
	cfg.PopRange = 0
	_, err = NewArchive(p, s, cfg, nil)
	assert.Error(t, err)
}

func TestInsertPlacesAndDrops(t *testing.T) {
	a := emptyArchive(t, testConfig())
	a.Normalizer = 1e9

	ok, err := a.Insert([]int{1, 1, 3, 1, 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, a.Len())

	cell := a.Cell(1, 0)
	require.Len(t, cell, 1)
	assert.Equal(t, 4, cell[0].Buildings)

	// A total equal to MaxBuildings falls past the last bin.
	ok, err = a.Insert([]int{5, 5, 3, 5, 5})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len())

	_, err = a.Insert([]int{1, 2})
	assert.ErrorIs(t, err, density.ErrChromosomeLength)
}

func TestDownsizeKeepsBestPerCell(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerCell = 3
	cfg.SimilarityThreshold = 1
	a := emptyArchive(t, cfg)
	a.Normalizer = 1e9

	chroms := [][]int{
		{1, 0, 3, 0, 0}, {0, 1, 3, 0, 0}, {0, 0, 3, 1, 0}, {0, 0, 3, 0, 1},
		{1, 1, 3, 0, 0}, {2, 0, 3, 0, 0}, {0, 2, 3, 1, 0}, {1, 1, 3, 1, 0},
	}
	var errs []float64
	for _, c := range chroms {
		ok, err := a.Insert(c)
		require.NoError(t, err)
		require.True(t, ok)
		e, err := a.Problem().Error(c)
		require.NoError(t, err)
		errs = append(errs, e)
	}
	require.Len(t, a.Cell(0, 0), len(chroms))

	removed := a.Downsize()
	assert.Equal(t, len(chroms)-3, removed)

	sort.Float64s(errs)
	kept := a.Cell(0, 0)
	require.Len(t, kept, 3)
	for k, ind := range kept {
		assert.InDelta(t, errs[k], ind.Error, 1e-12)
	}
}

func TestPruneKeepsFitterOfSimilarPair(t *testing.T) {
	a := emptyArchive(t, testConfig())
	a.Normalizer = 1e9

	_, err := a.Insert([]int{0, 0, 3, 0, 1})
	require.NoError(t, err)
	_, err = a.Insert([]int{0, 0, 3, 0, 0})
	require.NoError(t, err)
	require.Len(t, a.Cell(0, 0), 2)

	assert.Equal(t, 1, a.Prune())
	kept := a.Cell(0, 0)
	require.Len(t, kept, 1)
	assert.Equal(t, []int{0, 0, 3, 0, 0}, kept[0].Chromosome)
}

func TestPruneSimilarityMeasure(t *testing.T) {
	// Close counts but different density orderings.
	x := []int{1, 2, 3, 0, 0}
	y := []int{0, 1, 3, 2, 0}

	for _, tc := range []struct {
		measure string
		removed int
	}{
		{SimilarityByRange, 1},
		{SimilarityByOrder, 0},
	} {
		t.Run(tc.measure, func(t *testing.T) {
			cfg := testConfig()
			cfg.Similarity = tc.measure
			a := emptyArchive(t, cfg)
			a.Normalizer = 1e9

			_, err := a.Insert(x)
			require.NoError(t, err)
			_, err = a.Insert(y)
			require.NoError(t, err)
			require.Len(t, a.Cell(0, 0), 2)

			assert.Equal(t, tc.removed, a.Prune())
		})
	}
}

func TestConfigRejectsUnknownSimilarity(t *testing.T) {
	cfg := testConfig()
	cfg.Similarity = "jaccard"
	p, s := ringProblem()
	_, err := NewArchive(p, s, cfg, nil)
	assert.ErrorContains(t, err, "similarity")
}

func assertDiverse(t *testing.T, a *Archive) {
	t.Helper()
	cfg := a.Config()
	editable := a.Problem().Editable
	for row := 0; row < cfg.PopRange; row++ {
		for col := 0; col < cfg.PopRange; col++ {
			pop := a.Cell(row, col)
			assert.LessOrEqual(t, len(pop), cfg.MaxPerCell)
			for i := range pop {
				for j := i + 1; j < len(pop); j++ {
					sim := density.SimilarityRange(pop[i].Chromosome, pop[j].Chromosome, editable, cfg.SimilarityRange)
					assert.LessOrEqual(t, sim, cfg.SimilarityThreshold, "cell (%d,%d)", row, col)
				}
			}
		}
	}
}

func TestPruneGuaranteesDiversity(t *testing.T) {
	cfg := testConfig()
	cfg.SimilarityThreshold = 0.6
	a := emptyArchive(t, cfg)
	a.Normalizer = 1e9

	rng := newRNG(7)
	for range 300 {
		c := []int{rng.IntN(4), rng.IntN(4), 3, rng.IntN(4), rng.IntN(4)}
		_, err := a.Insert(c)
		require.NoError(t, err)
	}
	a.Downsize()
	assertDiverse(t, a)
}

func TestInitialize(t *testing.T) {
	cfg := testConfig()
	a := initialized(t, cfg, 1)

	assert.Positive(t, a.Normalizer)
	assert.Positive(t, a.Len())
	assert.LessOrEqual(t, a.Len(), cfg.InitialPopulation)
	for _, e := range a.Top(cfg.MaxPerCell) {
		assert.Equal(t, 3, e.Chromosome[2], "fixed gene changed")
		assert.LessOrEqual(t, e.Fitness, 1.0)
		assert.Less(t, float64(e.Buildings), cfg.MaxBuildings)
	}
}

func TestInitializeHonorsCancellation(t *testing.T) {
	p, s := ringProblem()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Initialize(ctx, p, s, testConfig(), newRNG(1), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMutate(t *testing.T) {
	rng := newRNG(3)
	editable := []int{0, 1, 3}

	chrom := []int{5, 5, 9, 5}
	mutate(chrom, editable, 4, 0, rng)
	assert.Equal(t, []int{5, 5, 9, 5}, chrom)

	for range 100 {
		chrom := []int{2, 2, 9, 2}
		mutate(chrom, editable, 4, 1, rng)
		assert.Equal(t, 9, chrom[2])
		for _, i := range editable {
			assert.GreaterOrEqual(t, chrom[i], 0)
			assert.LessOrEqual(t, chrom[i], 6)
		}
	}
}

func TestMaxDeltaGrowsWithRow(t *testing.T) {
	a := emptyArchive(t, testConfig())
	// ceil(20/4) = 5
	assert.Equal(t, 10, a.maxDelta(0))
	assert.Equal(t, 30, a.maxDelta(4))
}

func TestStepKeepsInvariants(t *testing.T) {
	cfg := testConfig()
	a := initialized(t, cfg, 11)
	rng := newRNG(12)
	for range 10 {
		a.Step(rng)
		assertDiverse(t, a)
		for _, e := range a.Top(cfg.MaxPerCell) {
			assert.Equal(t, 3, e.Chromosome[2])
			for _, g := range e.Chromosome {
				assert.GreaterOrEqual(t, g, 0)
			}
		}
	}
	assert.Equal(t, 10, a.Generation())
}

func TestStepIsDeterministic(t *testing.T) {
	cfg := testConfig()
	run := func() []Elite {
		a := initialized(t, cfg, 21)
		rng := newRNG(22)
		for range 8 {
			a.Step(rng)
		}
		return a.Top(cfg.MaxPerCell)
	}
	assert.Equal(t, run(), run())
}

type countingObserver struct {
	calls int
	last  int
}

func (o *countingObserver) ObserveGeneration(population int, _ float64) {
	o.calls++
	o.last = population
}

func TestRunStopsAtGenerationCap(t *testing.T) {
	cfg := testConfig()
	cfg.Generations = 4
	a := initialized(t, cfg, 5)
	obs := &countingObserver{}
	a.Observer = obs

	res, err := a.Run(context.Background(), newRNG(6))
	require.NoError(t, err)
	assert.Equal(t, StopGenerations, res.Reason)
	assert.Equal(t, 4, res.Generations)
	assert.Equal(t, 4, obs.calls)
	assert.Equal(t, a.Len(), obs.last)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := initialized(t, testConfig(), 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := a.Run(ctx, newRNG(6))
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, res.Reason)
	assert.Zero(t, res.Generations)
}

func TestRunStopsAtDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Generations = math.MaxInt32
	cfg.Deadline = 50 * time.Millisecond
	a := initialized(t, cfg, 5)

	res, err := a.Run(context.Background(), newRNG(6))
	require.NoError(t, err)
	assert.Equal(t, StopDeadline, res.Reason)
	assert.Less(t, res.Generations, cfg.Generations)
}

func TestTopAndBest(t *testing.T) {
	a := emptyArchive(t, testConfig())
	a.Normalizer = 1e9
	for _, c := range [][]int{{0, 0, 3, 0, 1}, {0, 0, 3, 0, 0}, {4, 4, 3, 4, 4}} {
		_, err := a.Insert(c)
		require.NoError(t, err)
	}

	top := a.Top(1)
	require.Len(t, top, 2)
	assert.Equal(t, 0, top[0].Row)
	assert.Equal(t, []int{0, 0, 3, 0, 0}, top[0].Chromosome)
	assert.Equal(t, 4, top[1].Row)

	// Four buildings everywhere matches the densest neighbor exactly.
	best, ok := a.Best()
	require.True(t, ok)
	assert.Equal(t, []int{4, 4, 3, 4, 4}, best.Chromosome)
	assert.Zero(t, best.Error)

	_, ok = emptyArchive(t, testConfig()).Best()
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	cfg := testConfig()
	a := emptyArchive(t, cfg)
	a.Normalizer = 1e9
	for _, c := range [][]int{{0, 0, 3, 0, 1}, {1, 0, 3, 0, 0}} {
		_, err := a.Insert(c)
		require.NoError(t, err)
	}

	stats := a.Snapshot()
	require.Len(t, stats, cfg.PopRange*cfg.PopRange)
	first := stats[0]
	assert.Equal(t, 2, first.Population)
	assert.Equal(t, 1, first.Buildings)
	assert.LessOrEqual(t, first.Best, first.Mean)
	assert.LessOrEqual(t, first.Mean, first.Worst)
	assert.GreaterOrEqual(t, first.Std, 0.0)
	assert.Zero(t, stats[1].Population)
}

func TestCSVSink(t *testing.T) {
	cfg := testConfig()
	cfg.Generations = 2
	cfg.SnapshotEvery = 1
	a := initialized(t, cfg, 9)

	var buf bytes.Buffer
	a.Sink = NewCSVSink(&buf)
	_, err := a.Run(context.Background(), newRNG(10))
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+2*cfg.PopRange*cfg.PopRange)
	assert.Equal(t, []string{"gen", "x", "y", "pop", "min", "max", "avg", "std"}, rows[0])
	assert.Equal(t, "1", rows[len(rows)-1][0])
}
