package mapelites

import (
	"encoding/csv"
	"io"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CellStats summarizes one cell at a point in the run.
type CellStats struct {
	Generation int     `json:"generation"`
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	Population int     `json:"population"`
	Buildings  int     `json:"buildings"`
	Best       float64 `json:"best"`
	Worst      float64 `json:"worst"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
}

// SnapshotSink receives one row per cell.
type SnapshotSink interface {
	WriteSnapshot(stats []CellStats) error
}

// Snapshot returns statistics for every cell in row-major order. Empty cells
// report zeros. Buildings is the editable total of the cell's best individual.
func (a *Archive) Snapshot() []CellStats {
	out := make([]CellStats, 0, len(a.cells))
	for row := 0; row < a.cfg.PopRange; row++ {
		for col := 0; col < a.cfg.PopRange; col++ {
			s := CellStats{Generation: a.generation, Row: row, Col: col}
			pop := a.Cell(row, col)
			s.Population = len(pop)
			if len(pop) > 0 {
				fit := make([]float64, len(pop))
				for k, ind := range pop {
					fit[k] = ind.Fitness
				}
				best := floats.MinIdx(fit)
				s.Buildings = pop[best].Buildings
				s.Best = fit[best]
				s.Worst = floats.Max(fit)
				s.Mean, s.Std = stat.PopMeanStdDev(fit, nil)
			}
			out = append(out, s)
		}
	}
	return out
}

func (a *Archive) emit() error {
	if a.Sink == nil {
		return nil
	}
	return a.Sink.WriteSnapshot(a.Snapshot())
}

// CSVSink writes snapshots as gen,x,y,pop,min,max,avg,std rows.
type CSVSink struct {
	w      *csv.Writer
	header bool
}

// NewCSVSink returns a sink writing to w.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

func (s *CSVSink) WriteSnapshot(stats []CellStats) error {
	if !s.header {
		if err := s.w.Write([]string{"gen", "x", "y", "pop", "min", "max", "avg", "std"}); err != nil {
			return err
		}
		s.header = true
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	for _, c := range stats {
		row := []string{
			strconv.Itoa(c.Generation), strconv.Itoa(c.Row), strconv.Itoa(c.Col),
			strconv.Itoa(c.Population), f(c.Best), f(c.Worst), f(c.Mean), f(c.Std),
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

// LogSink logs non-empty cells at info level.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteSnapshot(stats []CellStats) error {
	for _, c := range stats {
		if c.Population == 0 {
			continue
		}
		s.Logger.Info("cell",
			zap.Int("generation", c.Generation),
			zap.Int("row", c.Row),
			zap.Int("col", c.Col),
			zap.Int("population", c.Population),
			zap.Int("buildings", c.Buildings),
			zap.Float64("best", c.Best),
			zap.Float64("worst", c.Worst),
			zap.Float64("mean", c.Mean),
			zap.Float64("std", c.Std))
	}
	return nil
}

// MultiSink fans snapshots out to several sinks, stopping at the first error.
type MultiSink []SnapshotSink

func (m MultiSink) WriteSnapshot(stats []CellStats) error {
	for _, s := range m {
		if err := s.WriteSnapshot(stats); err != nil {
			return err
		}
	}
	return nil
}
