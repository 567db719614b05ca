package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/internal/server"
	"github.com/ChicagoDave/parcelgen/pkg/mapelites"
	"github.com/ChicagoDave/parcelgen/pkg/metrics"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
	"github.com/ChicagoDave/parcelgen/pkg/pipeline"
	"github.com/ChicagoDave/parcelgen/pkg/scenario"
	"github.com/ChicagoDave/parcelgen/pkg/validation"
)

// loadAndValidate loads the scenario and runs the structural checks.
func loadAndValidate(projectPath string) (*scenario.Scenario, *validation.Report, error) {
	sc, err := scenario.LoadProject(projectPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading scenario: %w", err)
	}
	return sc, validation.ValidateScenario(sc), nil
}

// loadValid loads the scenario and refuses to continue past errors.
func loadValid(projectPath string) (*scenario.Scenario, error) {
	sc, report, err := loadAndValidate(projectPath)
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		printValidationReport(os.Stdout, report)
		return nil, fmt.Errorf("scenario has validation errors")
	}
	return sc, nil
}

// newPipeline opens the configured cache and returns a pipeline using it.
// The closer must be called when the pipeline is done.
func (a *app) newPipeline(m *metrics.Metrics) (*pipeline.Pipeline, func() error, error) {
	c, closeCache, err := a.cfg.Cache.Open()
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(*a.cfg, c, m, a.logger), closeCache, nil
}

func (a *app) runValidate(projectPath string) error {
	_, report, err := loadAndValidate(projectPath)
	if err != nil {
		return err
	}

	printValidationReport(os.Stdout, report)

	if !report.Valid {
		os.Exit(1)
	}
	return nil
}

func (a *app) runPartition(ctx context.Context, projectPath string, budget float64, out string) error {
	sc, err := loadValid(projectPath)
	if err != nil {
		return err
	}
	p, closeCache, err := a.newPipeline(nil)
	if err != nil {
		return err
	}
	defer closeCache()

	prep, err := p.Prepare(ctx, sc)
	if err != nil {
		return err
	}

	m := prep.Map.Clone()
	ids := osm.NewIDAllocator(1)
	ids.SeedFrom(m)
	pc := p.PartitionContext(m, ids)
	for i, cycle := range prep.Cycles {
		if err := pc.Partition(cycle, budget); err != nil {
			return fmt.Errorf("cycle %d: %w", i, err)
		}
	}

	result := scenario.FromMap(sc.Name, m, prep.Cycles)
	if out != "" {
		if err := result.Write(out); err != nil {
			return err
		}
		printPartitionStats(os.Stdout, pc.Stats)
		return nil
	}
	return writeJSON(os.Stdout, map[string]any{
		"scenario": result,
		"stats":    pc.Stats,
	})
}

type evolveOptions struct {
	out       string
	outDir    string
	snapshots string
	json      bool
}

func (a *app) runEvolve(ctx context.Context, projectPath string, opts evolveOptions) error {
	sc, err := loadValid(projectPath)
	if err != nil {
		return err
	}
	p, closeCache, err := a.newPipeline(nil)
	if err != nil {
		return err
	}
	defer closeCache()

	sinks := mapelites.MultiSink{mapelites.LogSink{Logger: a.logger}}
	if opts.snapshots != "" {
		f, err := os.OpenFile(opts.snapshots, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("opening snapshot file: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, mapelites.NewCSVSink(f))
	}
	p.Sink = sinks

	prep, err := p.Prepare(ctx, sc)
	if err != nil {
		return err
	}
	res, err := p.Evolve(ctx, prep)
	if err != nil {
		return err
	}

	if opts.out != "" && res.Map != nil {
		if err := scenario.FromMap(sc.Name, res.Map, prep.Cycles).Write(opts.out); err != nil {
			return err
		}
		a.logger.Info("wrote materialized scenario", zap.String("path", opts.out))
	}
	if opts.outDir != "" {
		if err := writeLayouts(opts.outDir, sc.Name, prep.Cycles, res.Layouts); err != nil {
			return err
		}
		a.logger.Info("wrote elite layouts",
			zap.String("dir", opts.outDir),
			zap.Int("count", len(res.Layouts)))
	}
	if opts.json {
		return writeJSON(os.Stdout, res)
	}
	printEvolveReport(os.Stdout, res)
	return nil
}

// writeLayouts writes one scenario file per materialized elite into dir.
func writeLayouts(dir, name string, cycles [][]int64, layouts []pipeline.Layout) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating layout directory: %w", err)
	}
	for _, l := range layouts {
		layoutName := pipeline.LayoutName(name, l)
		path := filepath.Join(dir, layoutName+".yaml")
		if err := scenario.FromMap(layoutName, l.Map, cycles).Write(path); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func (a *app) runNeighbors(ctx context.Context, projectPath string) error {
	sc, err := loadValid(projectPath)
	if err != nil {
		return err
	}
	p, closeCache, err := a.newPipeline(nil)
	if err != nil {
		return err
	}
	defer closeCache()

	prep, err := p.Prepare(ctx, sc)
	if err != nil {
		return err
	}
	printNeighbors(os.Stdout, prep.Records)
	return nil
}

func (a *app) runServe(ctx context.Context, projectPath string) error {
	if projectPath != "" {
		if _, report, err := loadAndValidate(projectPath); err != nil {
			return err
		} else if !report.Valid {
			a.logger.Warn("project scenario has validation errors", zap.String("summary", report.Summary))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	c, closeCache, err := a.cfg.Cache.Open()
	if err != nil {
		return err
	}
	defer closeCache()

	srv := server.New(*a.cfg, projectPath, c, m, reg, a.logger)
	return srv.Start(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
