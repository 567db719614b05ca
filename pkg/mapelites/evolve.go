package mapelites

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/density"
)

// ErrNoInitialPopulation is returned when no generated chromosome landed in
// its intended count band.
var ErrNoInitialPopulation = errors.New("initialization produced no in-band individuals")

// Initialize builds an archive over problem and fills it with a random
// initial population.
func Initialize(ctx context.Context, problem density.Problem, seed []int, cfg Config, rng *rand.Rand, logger *zap.Logger) (*Archive, error) {
	a, err := NewArchive(problem, seed, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(ctx, rng); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize generates chromosomes band by band across [0, MaxBuildings]
// until InitialPopulation of them realize a total inside their band. The
// highest raw error among them becomes the normalizer, and every candidate
// is then placed in its cell.
func (a *Archive) Initialize(ctx context.Context, rng *rand.Rand) error {
	bands := a.cfg.PopRange
	step := a.cfg.MaxBuildings / float64(bands)

	var batch []Individual
	misses := 0
rounds:
	for round := 0; round < a.cfg.InitialRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for b := 0; b < bands; b++ {
			lo, hi := float64(b)*step, float64(b+1)*step
			if b == bands-1 {
				hi = a.cfg.MaxBuildings
			}
			ind, ok := a.candidate(lo, hi, rng)
			if !ok {
				misses++
				continue
			}
			batch = append(batch, ind)
			if len(batch) >= a.cfg.InitialPopulation {
				break rounds
			}
		}
	}
	if len(batch) == 0 {
		return ErrNoInitialPopulation
	}

	highest := 0.0
	for _, ind := range batch {
		highest = math.Max(highest, ind.Error)
	}
	if highest == 0 {
		highest = 1
	}
	a.Normalizer = highest

	placed := 0
	for _, ind := range batch {
		ind.Fitness = ind.Error / a.Normalizer
		if a.place(ind) {
			placed++
		}
	}
	a.logger.Info("initialized archive",
		zap.Int("candidates", len(batch)),
		zap.Int("placed", placed),
		zap.Int("misses", misses),
		zap.Float64("normalizer", a.Normalizer))
	return nil
}

// candidate spreads a random total from band [lo, hi] over a random subset
// of the editable genes. It reports false when rounding pushed the realized
// total out of the band.
func (a *Archive) candidate(lo, hi float64, rng *rand.Rand) (Individual, bool) {
	editable := a.problem.Editable
	chrom := slices.Clone(a.seed)

	limit := min(len(editable), int(hi/2))
	limit = max(limit, 1)
	size := 1 + rng.IntN(limit)

	minTotal, maxTotal := int(math.Ceil(lo)), int(math.Floor(hi))
	desired := minTotal
	if maxTotal > minTotal {
		desired += rng.IntN(maxTotal - minTotal + 1)
	}

	weights := make([]float64, size)
	sum := 0.0
	for i := range weights {
		weights[i] = rng.Float64()
		sum += weights[i]
	}
	order := rng.Perm(len(editable))
	for i, w := range weights {
		share := 0.0
		if sum > 0 {
			share = w / sum * float64(desired)
		}
		if rng.IntN(2) == 0 {
			share = math.Ceil(share)
		} else {
			share = math.Floor(share)
		}
		chrom[editable[order[i]]] = int(share)
	}

	ind := Individual{Chromosome: chrom}
	if err := a.score(&ind); err != nil {
		return Individual{}, false
	}
	total := float64(ind.Buildings)
	if total < lo || total > hi {
		return Individual{}, false
	}
	return ind, true
}

// mutate perturbs each editable gene with probability rate by a uniform
// delta in [-maxDelta, maxDelta], clamping at zero.
func mutate(chrom []int, editable []int, maxDelta int, rate float64, rng *rand.Rand) {
	for _, i := range editable {
		if rng.Float64() >= rate {
			continue
		}
		chrom[i] += rng.IntN(2*maxDelta+1) - maxDelta
		if chrom[i] < 0 {
			chrom[i] = 0
		}
	}
}

// maxDelta grows with the building-count row so denser cells explore more.
func (a *Archive) maxDelta(row int) int {
	per := int(math.Ceil(a.cfg.MaxBuildings / float64(len(a.problem.Editable))))
	return per * (row + 2)
}

type parent struct {
	row, col int
	index    int
	seed     [2]uint64
}

// Step runs one steady-state generation: every individual produces one
// mutated child, children migrate to their own cell or replace a worse
// parent, and the archive is downsized. Children are bred concurrently but
// applied in archive order, so a given rng yields the same archive.
func (a *Archive) Step(rng *rand.Rand) {
	var parents []parent
	for row := 0; row < a.cfg.PopRange; row++ {
		for col := 0; col < a.cfg.PopRange; col++ {
			for _, i := range a.cells[a.cell(row, col)] {
				parents = append(parents, parent{
					row: row, col: col, index: i,
					seed: [2]uint64{rng.Uint64(), rng.Uint64()},
				})
			}
		}
	}

	children := make([]Individual, len(parents))
	scored := make([]bool, len(parents))
	workers := a.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for k, par := range parents {
		p.Go(func() {
			r := rand.New(rand.NewPCG(par.seed[0], par.seed[1]))
			child := Individual{Chromosome: slices.Clone(a.arena[par.index].Chromosome)}
			mutate(child.Chromosome, a.problem.Editable, a.maxDelta(par.row), a.cfg.MutationRate, r)
			if err := a.score(&child); err != nil {
				return
			}
			children[k] = child
			scored[k] = true
		})
	}
	p.Wait()

	migrated, replaced, dropped := 0, 0, 0
	for k, par := range parents {
		if !scored[k] {
			dropped++
			continue
		}
		child := children[k]
		row, col, ok := a.bins(child)
		switch {
		case !ok:
			dropped++
		case row != par.row || col != par.col:
			a.place(child)
			migrated++
		case child.Fitness < a.arena[par.index].Fitness:
			c := a.cell(row, col)
			if pos := slices.Index(a.cells[c], par.index); pos >= 0 {
				a.cells[c] = slices.Delete(a.cells[c], pos, pos+1)
			}
			a.place(child)
			replaced++
		}
	}

	removed := a.Downsize()
	a.generation++
	a.logger.Debug("generation complete",
		zap.Int("generation", a.generation),
		zap.Int("migrated", migrated),
		zap.Int("replaced", replaced),
		zap.Int("dropped", dropped),
		zap.Int("pruned", removed),
		zap.Int("population", a.Len()))

	if a.Observer != nil {
		best := math.NaN()
		if e, ok := a.Best(); ok {
			best = e.Fitness
		}
		a.Observer.ObserveGeneration(a.Len(), best)
	}
}

// StopReason says why Run returned.
type StopReason string

const (
	StopGenerations StopReason = "generations"
	StopDeadline    StopReason = "deadline"
	StopCanceled    StopReason = "canceled"
	StopEmpty       StopReason = "empty"
)

// RunResult summarizes a search run.
type RunResult struct {
	Generations int           `json:"generations"`
	Reason      StopReason    `json:"reason"`
	Elapsed     time.Duration `json:"elapsed"`
	Population  int           `json:"population"`
}

// Run steps the archive until the generation cap, the configured deadline
// or cancellation of ctx. Hitting the deadline is a normal stop, not an
// error; only a failing snapshot sink is reported.
func (a *Archive) Run(ctx context.Context, rng *rand.Rand) (RunResult, error) {
	start := time.Now()
	if a.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Deadline)
		defer cancel()
	}

	res := RunResult{Reason: StopGenerations}
	for gen := 0; gen < a.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			res.Reason = StopCanceled
			if errors.Is(err, context.DeadlineExceeded) {
				res.Reason = StopDeadline
			}
			break
		}
		if a.Len() == 0 {
			res.Reason = StopEmpty
			break
		}
		if a.cfg.SnapshotEvery > 0 && gen%a.cfg.SnapshotEvery == 0 {
			if err := a.emit(); err != nil {
				return res, fmt.Errorf("writing snapshot: %w", err)
			}
		}
		a.Step(rng)
		res.Generations++
	}
	res.Elapsed = time.Since(start)
	res.Population = a.Len()
	a.logger.Info("search finished",
		zap.Int("generations", res.Generations),
		zap.String("reason", string(res.Reason)),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("population", res.Population))
	return res, nil
}
