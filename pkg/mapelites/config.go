package mapelites

import (
	"fmt"
	"time"
)

// Config holds the archive and search-loop parameters.
type Config struct {
	// PopRange is the number of bins along each grid axis.
	PopRange int `yaml:"pop_range" json:"pop_range" validate:"min=1"`
	// MaxPerCell caps every cell after downsizing.
	MaxPerCell int `yaml:"max_per_cell" json:"max_per_cell" validate:"min=1"`
	// MaxBuildings is the upper end of the building-count axis.
	MaxBuildings float64 `yaml:"max_buildings" json:"max_buildings" validate:"gt=0"`
	// InitialPopulation is how many in-band chromosomes initialization collects.
	InitialPopulation int `yaml:"initial_population" json:"initial_population" validate:"min=1"`
	// InitialRounds caps how many passes over the count bands initialization
	// makes before giving up.
	InitialRounds int `yaml:"initial_rounds" json:"initial_rounds" validate:"min=1"`
	// MutationRate is the per-gene mutation probability.
	MutationRate float64 `yaml:"mutation_rate" json:"mutation_rate" validate:"gte=0,lte=1"`
	// SimilarityThreshold is the similarity above which two individuals in the
	// same cell are considered duplicates.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" validate:"gte=0,lte=1"`
	// SimilarityRange is the smaller/larger ratio at which two genes agree.
	SimilarityRange float64 `yaml:"similarity_range" json:"similarity_range" validate:"gte=0,lte=1"`
	// Similarity selects the pruning measure: "range" compares gene counts,
	// "order" compares density ranks. Empty means "range".
	Similarity string `yaml:"similarity" json:"similarity" validate:"omitempty,oneof=range order"`
	// Generations caps the search loop.
	Generations int `yaml:"generations" json:"generations" validate:"min=0"`
	// SnapshotEvery emits archive statistics every N generations; 0 disables.
	SnapshotEvery int `yaml:"snapshot_every" json:"snapshot_every" validate:"min=0"`
	// Workers bounds the goroutines used per generation; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers" validate:"min=0"`
	// Deadline bounds the wall-clock time of Run; 0 means no deadline.
	Deadline time.Duration `yaml:"deadline" json:"deadline" validate:"min=0"`
	// TopK is how many individuals per cell Top returns by default.
	TopK int `yaml:"top_k" json:"top_k" validate:"min=1"`
}

// Similarity measures.
const (
	SimilarityByRange = "range"
	SimilarityByOrder = "order"
)

// DefaultConfig returns the standard 10x10 search settings.
func DefaultConfig() Config {
	return Config{
		PopRange:            10,
		MaxPerCell:          10,
		MaxBuildings:        50,
		InitialPopulation:   10,
		InitialRounds:       1000,
		MutationRate:        0.1,
		SimilarityThreshold: 0.35,
		SimilarityRange:     0.8,
		Similarity:          SimilarityByRange,
		Generations:         200,
		SnapshotEvery:       100,
		TopK:                1,
	}
}

// Validate checks the parameters a search cannot run without.
func (c Config) Validate() error {
	switch {
	case c.PopRange < 1:
		return fmt.Errorf("pop_range must be at least 1, got %d", c.PopRange)
	case c.MaxPerCell < 1:
		return fmt.Errorf("max_per_cell must be at least 1, got %d", c.MaxPerCell)
	case !(c.MaxBuildings > 0):
		return fmt.Errorf("max_buildings must be positive, got %v", c.MaxBuildings)
	case c.InitialPopulation < 1:
		return fmt.Errorf("initial_population must be at least 1, got %d", c.InitialPopulation)
	case c.InitialRounds < 1:
		return fmt.Errorf("initial_rounds must be at least 1, got %d", c.InitialRounds)
	case c.MutationRate < 0 || c.MutationRate > 1:
		return fmt.Errorf("mutation_rate must be within [0,1], got %v", c.MutationRate)
	case c.Similarity != "" && c.Similarity != SimilarityByRange && c.Similarity != SimilarityByOrder:
		return fmt.Errorf("similarity must be %q or %q, got %q", SimilarityByRange, SimilarityByOrder, c.Similarity)
	}
	return nil
}
