// Package mapelites searches building-count chromosomes with a MAP-Elites
// archive: a grid of small elite pools keyed by total building count and
// normalized density error.
package mapelites

import (
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/density"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
)

// Individual is one chromosome and the error derived from it.
type Individual struct {
	Chromosome []int `json:"chromosome"`
	// Error is the raw density error.
	Error float64 `json:"error"`
	// Fitness is Error divided by the archive normalizer.
	Fitness float64 `json:"fitness"`
	// Buildings is the total over the editable genes.
	Buildings int `json:"buildings"`
}

// Elite is an individual together with the cell holding it.
type Elite struct {
	Row int `json:"row"`
	Col int `json:"col"`
	Individual
}

// Observer is notified after every generation.
type Observer interface {
	ObserveGeneration(population int, best float64)
}

// Archive is a PopRange x PopRange grid of bounded elite pools. Individuals
// live in an arena; cells hold arena indices.
type Archive struct {
	cfg     Config
	problem density.Problem
	seed    []int
	logger  *zap.Logger

	// Normalizer divides raw errors into fitness values. It is fixed by
	// Initialize.
	Normalizer float64

	arena []Individual
	cells [][]int

	// Sink receives periodic snapshots from Run.
	Sink SnapshotSink
	// Observer, when set, is told about every completed generation.
	Observer Observer

	generation int
}

// NewArchive returns an empty archive over problem. seed supplies the fixed
// genes of every chromosome.
func NewArchive(problem density.Problem, seed []int, cfg Config, logger *zap.Logger) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	problem = problem.WithDefaults()
	if err := problem.Validate(); err != nil {
		return nil, fmt.Errorf("invalid problem: %w", err)
	}
	if len(seed) != len(problem.Areas) {
		return nil, fmt.Errorf("%w: seed has %d genes for %d parcels",
			density.ErrChromosomeLength, len(seed), len(problem.Areas))
	}
	logger = logging.OrNop(logger)
	return &Archive{
		cfg:        cfg,
		problem:    problem,
		seed:       slices.Clone(seed),
		logger:     logger,
		Normalizer: 1,
		cells:      make([][]int, cfg.PopRange*cfg.PopRange),
	}, nil
}

// Config returns the archive settings.
func (a *Archive) Config() Config { return a.cfg }

// Problem returns the fitness problem the archive scores against.
func (a *Archive) Problem() density.Problem { return a.problem }

// Generation returns the number of completed generations.
func (a *Archive) Generation() int { return a.generation }

// BinIndex returns the bin of value among parts equal bins spanning
// [lo, hi]. Values below lo give -1 and values at or above hi give parts;
// both are out of range.
func BinIndex(value, lo, hi float64, parts int) int {
	if parts <= 0 || !(hi > lo) {
		return -1
	}
	step := (hi - lo) / float64(parts)
	idx := -1
	for k := 0; k <= parts; k++ {
		edge := lo + float64(k)*step
		if k == parts {
			edge = hi
		}
		if !(value >= edge) {
			break
		}
		idx = k
	}
	return idx
}

// bins returns the cell an individual belongs to.
func (a *Archive) bins(ind Individual) (row, col int, ok bool) {
	row = BinIndex(float64(ind.Buildings), 0, a.cfg.MaxBuildings, a.cfg.PopRange)
	col = BinIndex(ind.Fitness, 0, 1, a.cfg.PopRange)
	ok = row >= 0 && row < a.cfg.PopRange && col >= 0 && col < a.cfg.PopRange
	return row, col, ok
}

func (a *Archive) cell(row, col int) int {
	return row*a.cfg.PopRange + col
}

// score fills the derived fields of ind from its chromosome.
func (a *Archive) score(ind *Individual) error {
	e, err := a.problem.Error(ind.Chromosome)
	if err != nil {
		return err
	}
	ind.Error = e
	ind.Fitness = e / a.Normalizer
	ind.Buildings = 0
	for _, i := range a.problem.Editable {
		ind.Buildings += ind.Chromosome[i]
	}
	return nil
}

// Insert scores chrom and appends it to the cell it falls in. It reports
// false when the individual lands outside the grid and is dropped.
func (a *Archive) Insert(chrom []int) (bool, error) {
	ind := Individual{Chromosome: slices.Clone(chrom)}
	if err := a.score(&ind); err != nil {
		return false, err
	}
	return a.place(ind), nil
}

func (a *Archive) place(ind Individual) bool {
	row, col, ok := a.bins(ind)
	if !ok {
		return false
	}
	c := a.cell(row, col)
	a.arena = append(a.arena, ind)
	a.cells[c] = append(a.cells[c], len(a.arena)-1)
	return true
}

// Cell returns copies of the individuals in cell (row, col).
func (a *Archive) Cell(row, col int) []Individual {
	if row < 0 || row >= a.cfg.PopRange || col < 0 || col >= a.cfg.PopRange {
		return nil
	}
	idx := a.cells[a.cell(row, col)]
	out := make([]Individual, len(idx))
	for k, i := range idx {
		out[k] = a.arena[i]
	}
	return out
}

// Len returns the number of individuals held across all cells.
func (a *Archive) Len() int {
	n := 0
	for _, c := range a.cells {
		n += len(c)
	}
	return n
}

func (a *Archive) similar(i, j int) bool {
	x, y := a.arena[i].Chromosome, a.arena[j].Chromosome
	var sim float64
	if a.cfg.Similarity == SimilarityByOrder {
		sim = density.SimilarityOrder(x, y, a.problem.Editable)
	} else {
		sim = density.SimilarityRange(x, y, a.problem.Editable, a.cfg.SimilarityRange)
	}
	return sim > a.cfg.SimilarityThreshold
}

// pruneCell makes one pass over a cell from the back, dropping the later of
// each too-similar pair and moving the fitter of the two into the earlier
// slot. It reports whether anything was dropped.
func (a *Archive) pruneCell(c int) bool {
	pop := a.cells[c]
	removed := false
	for k := len(pop) - 1; k >= 1; k-- {
		for l := k - 1; l >= 0; l-- {
			if !a.similar(pop[k], pop[l]) {
				continue
			}
			if a.arena[pop[k]].Fitness < a.arena[pop[l]].Fitness {
				pop[k], pop[l] = pop[l], pop[k]
			}
			pop = slices.Delete(pop, k, k+1)
			removed = true
			break
		}
	}
	a.cells[c] = pop
	return removed
}

// Prune removes near-duplicates from every cell until no two individuals
// sharing a cell are more similar than the configured threshold.
func (a *Archive) Prune() int {
	before := a.Len()
	for c := range a.cells {
		for a.pruneCell(c) {
		}
	}
	return before - a.Len()
}

// Downsize prunes near-duplicates, truncates every cell to its best
// MaxPerCell individuals and compacts the arena. It returns the number of
// individuals removed.
func (a *Archive) Downsize() int {
	before := a.Len()
	a.Prune()
	for c, pop := range a.cells {
		sort.SliceStable(pop, func(x, y int) bool {
			return a.arena[pop[x]].Fitness < a.arena[pop[y]].Fitness
		})
		if len(pop) > a.cfg.MaxPerCell {
			a.cells[c] = pop[:a.cfg.MaxPerCell]
		}
	}
	a.compact()
	return before - a.Len()
}

// compact rebuilds the arena so it holds only live individuals, in cell order.
func (a *Archive) compact() {
	arena := make([]Individual, 0, a.Len())
	for c, pop := range a.cells {
		next := make([]int, len(pop))
		for k, i := range pop {
			arena = append(arena, a.arena[i])
			next[k] = len(arena) - 1
		}
		a.cells[c] = next
	}
	a.arena = arena
}

// Top returns up to k lowest-error individuals of every non-empty cell,
// row-major.
func (a *Archive) Top(k int) []Elite {
	var out []Elite
	for row := 0; row < a.cfg.PopRange; row++ {
		for col := 0; col < a.cfg.PopRange; col++ {
			pop := a.Cell(row, col)
			sort.SliceStable(pop, func(x, y int) bool { return pop[x].Fitness < pop[y].Fitness })
			for _, ind := range pop[:min(k, len(pop))] {
				out = append(out, Elite{Row: row, Col: col, Individual: ind})
			}
		}
	}
	return out
}

// Best returns the lowest-error individual in the archive. Ties keep the
// first in row-major cell order.
func (a *Archive) Best() (Elite, bool) {
	var best Elite
	found := false
	for _, e := range a.Top(1) {
		if !found || e.Error < best.Error {
			best, found = e, true
		}
	}
	return best, found
}
