// Package pipeline ties the stages together: scenario to parcel records,
// records to a density search, and the best chromosome back to a map with
// generated roads and footprints.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/cache"
	"github.com/ChicagoDave/parcelgen/pkg/config"
	"github.com/ChicagoDave/parcelgen/pkg/density"
	"github.com/ChicagoDave/parcelgen/pkg/footprint"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
	"github.com/ChicagoDave/parcelgen/pkg/mapelites"
	"github.com/ChicagoDave/parcelgen/pkg/metrics"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
	"github.com/ChicagoDave/parcelgen/pkg/parcel"
	"github.com/ChicagoDave/parcelgen/pkg/partition"
	"github.com/ChicagoDave/parcelgen/pkg/scenario"
)

// Cache key suffixes, appended to the key returned by CacheKey.
const (
	KeyRoads     = "_roads_data"
	KeyNeighbors = "_neighbor_data"
	KeyDensity   = "_building_density_data"
)

// Pipeline runs scenarios under one configuration. Cache, Metrics and Sink
// are optional.
type Pipeline struct {
	Config  config.Config
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Sink    mapelites.SnapshotSink
	Logger  *zap.Logger
}

// New returns a pipeline for cfg.
func New(cfg config.Config, c cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	logger = logging.OrNop(logger)
	return &Pipeline{Config: cfg, Cache: c, Metrics: m, Logger: logger}
}

// Prepared is a scenario reduced to usable parcels.
type Prepared struct {
	Scenario *scenario.Scenario
	Map      *osm.Map
	// Cycles are the road cycles that survived filtering, in record order.
	Cycles  [][]int64
	Records []parcel.Record
}

// Prepare filters the scenario's cycles, measures the survivors and links
// them into a neighbor graph. Each of the three passes goes through the
// cache keyed by scenario name.
func (p *Pipeline) Prepare(ctx context.Context, s *scenario.Scenario) (*Prepared, error) {
	m := s.ToMap()
	opts := p.Config.Parcels
	base, err := p.CacheKey(s)
	if err != nil {
		return nil, err
	}
	log := p.Logger.With(zap.String("scenario", s.Name), zap.String("cache_key", base))

	cycles, err := load(ctx, p, base+KeyRoads, func() ([][]int64, error) {
		roads := m.FilterByTag("highway")
		empty, err := parcel.FilterEmpty(roads, s.Cycles)
		if err != nil {
			return nil, fmt.Errorf("filtering enclosing cycles: %w", err)
		}
		return parcel.FilterSmall(m, empty, opts)
	})
	if err != nil {
		return nil, err
	}

	records, err := load(ctx, p, base+KeyDensity, func() ([]parcel.Record, error) {
		return parcel.Build(m, cycles, opts)
	})
	if err != nil {
		return nil, err
	}

	graph, err := load(ctx, p, base+KeyNeighbors, func() (map[int][]int, error) {
		return parcel.Neighbors(parcel.Centroids(records), opts), nil
	})
	if err != nil {
		return nil, err
	}
	parcel.Link(records, graph)

	log.Info("prepared parcels",
		zap.Int("cycles", len(s.Cycles)),
		zap.Int("usable", len(cycles)),
		zap.String("neighbors", opts.Neighbors))
	return &Prepared{Scenario: s, Map: m, Cycles: cycles, Records: records}, nil
}

// CacheKey returns the scenario name followed by a digest of everything
// Prepare reads: nodes, ways, cycles and the parcel options. Two scenarios
// that share a name but differ in content never share cache entries.
func (p *Pipeline) CacheKey(s *scenario.Scenario) (string, error) {
	data, err := json.Marshal(struct {
		Nodes   []scenario.Node `json:"nodes"`
		Ways    []scenario.Way  `json:"ways"`
		Cycles  [][]int64       `json:"cycles"`
		Parcels parcel.Options  `json:"parcels"`
	}{s.Nodes, s.Ways, s.Cycles, p.Config.Parcels})
	if err != nil {
		return "", fmt.Errorf("hashing scenario: %w", err)
	}
	sum := sha256.Sum256(data)
	return s.Name + "-" + hex.EncodeToString(sum[:8]), nil
}

func load[T any](ctx context.Context, p *Pipeline, key string, compute func() (T, error)) (T, error) {
	v, hit, err := cache.LoadOrCompute(ctx, p.Cache, key, compute)
	if err != nil {
		return v, err
	}
	if p.Cache != nil {
		p.Metrics.ObserveCache(hit)
		p.Logger.Debug("cache lookup", zap.String("key", key), zap.Bool("hit", hit))
	}
	return v, nil
}

// Result is the outcome of one search. Top and Layouts are parallel: the
// i-th layout is the i-th elite materialized. Map and Stats repeat the
// layout of Best.
type Result struct {
	RunID    string                `json:"run_id"`
	Run      mapelites.RunResult   `json:"run"`
	Top      []mapelites.Elite     `json:"top"`
	Layouts  []Layout              `json:"layouts"`
	Best     *mapelites.Elite      `json:"best,omitempty"`
	Editable []int                 `json:"editable"`
	Stats    partition.Stats       `json:"partition_stats"`
	Archive  *mapelites.Archive    `json:"-"`
	Map      *osm.Map              `json:"-"`
	Snapshot []mapelites.CellStats `json:"-"`
}

// Layout is one elite's chromosome partitioned onto the map.
type Layout struct {
	Row int `json:"row"`
	Col int `json:"col"`
	// Rank orders the elites of one cell, best first.
	Rank  int             `json:"rank"`
	Map   *osm.Map        `json:"-"`
	Stats partition.Stats `json:"partition_stats"`
}

// LayoutName names the scenario written for l, as name_top_<row>_<col>_<rank>.
func LayoutName(name string, l Layout) string {
	return fmt.Sprintf("%s_top_%d_%d_%d", name, l.Row, l.Col, l.Rank)
}

// NewRNG returns the generator a run with seed uses.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Evolve searches building counts for the prepared parcels and materializes
// the best chromosome found.
func (p *Pipeline) Evolve(ctx context.Context, prep *Prepared) (*Result, error) {
	cfg := p.Config
	res := &Result{RunID: uuid.NewString()}
	log := p.Logger.With(zap.String("run_id", res.RunID), zap.String("scenario", prep.Scenario.Name))

	problem, seed := parcel.Problem(prep.Records)
	problem = cfg.Fitness.Problem(problem)
	res.Editable = problem.Editable

	rng := NewRNG(cfg.Seed)
	archive, err := mapelites.Initialize(ctx, problem, seed, cfg.MapElites, rng, log)
	if err != nil {
		return nil, fmt.Errorf("initializing archive: %w", err)
	}
	archive.Sink = p.Sink
	if p.Metrics != nil {
		archive.Observer = p.Metrics
	}

	res.Run, err = archive.Run(ctx, rng)
	if err != nil {
		return nil, err
	}
	res.Archive = archive
	res.Top = archive.Top(cfg.MapElites.TopK)
	res.Snapshot = archive.Snapshot()
	if p.Sink != nil {
		if err := p.Sink.WriteSnapshot(res.Snapshot); err != nil {
			return nil, fmt.Errorf("writing final snapshot: %w", err)
		}
	}

	best, ok := archive.Best()
	if !ok {
		log.Warn("archive emptied during search")
		return res, nil
	}
	res.Best = &best

	tmpl := p.PartitionContext(nil, nil)
	res.Layouts = make([]Layout, len(res.Top))
	for i, e := range res.Top {
		rank := 0
		if i > 0 && res.Top[i-1].Row == e.Row && res.Top[i-1].Col == e.Col {
			rank = res.Layouts[i-1].Rank + 1
		}
		m, stats, err := Materialize(prep.Map, prep.Records, e.Chromosome, problem.Editable, tmpl)
		if err != nil {
			return nil, fmt.Errorf("materializing cell (%d,%d) rank %d: %w", e.Row, e.Col, rank, err)
		}
		res.Layouts[i] = Layout{Row: e.Row, Col: e.Col, Rank: rank, Map: m, Stats: stats}
		if rank == 0 && e.Row == best.Row && e.Col == best.Col {
			res.Map, res.Stats = m, stats
		}
	}
	log.Info("materialized elites",
		zap.Int("layouts", len(res.Layouts)),
		zap.Int("best_buildings", best.Buildings),
		zap.Float64("best_error", best.Error),
		zap.Int("best_splits", res.Stats.Splits),
		zap.Int("best_footprints", res.Stats.Footprints))
	return res, nil
}

// PartitionContext returns a partition context over m configured from the
// pipeline, with outcomes reported to the metrics.
func (p *Pipeline) PartitionContext(m *osm.Map, ids *osm.IDAllocator) *partition.Context {
	pc := partition.NewContext(m, ids, footprint.New(p.Config.Footprint), p.Config.Partition, p.Logger)
	if p.Metrics != nil {
		pc.Observe = p.Metrics.ObservePartition
	}
	return pc
}

// Materialize clones m and partitions every editable parcel with its gene
// as the budget. Only the footprint generator, config, logger and observer
// of tmpl are used. Zero genes leave their parcel untouched.
func Materialize(m *osm.Map, records []parcel.Record, chromosome, editable []int, tmpl *partition.Context) (*osm.Map, partition.Stats, error) {
	if len(chromosome) != len(records) {
		return nil, partition.Stats{}, fmt.Errorf("%w: %d genes for %d parcels",
			density.ErrChromosomeLength, len(chromosome), len(records))
	}
	out := m.Clone()
	ids := osm.NewIDAllocator(1)
	ids.SeedFrom(out)

	pc := partition.NewContext(out, ids, tmpl.Footprints, tmpl.Config, tmpl.Logger)
	pc.Observe = tmpl.Observe
	for _, i := range editable {
		if i < 0 || i >= len(records) {
			return nil, pc.Stats, fmt.Errorf("editable index %d out of range", i)
		}
		if chromosome[i] <= 0 {
			continue
		}
		if err := pc.Partition(records[i].NodeIDs, float64(chromosome[i])); err != nil {
			return nil, pc.Stats, fmt.Errorf("parcel %d: %w", i, err)
		}
	}
	return out, pc.Stats, nil
}
