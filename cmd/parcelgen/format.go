package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ChicagoDave/parcelgen/pkg/parcel"
	"github.com/ChicagoDave/parcelgen/pkg/partition"
	"github.com/ChicagoDave/parcelgen/pkg/pipeline"
	"github.com/ChicagoDave/parcelgen/pkg/validation"
)

func printValidationReport(w io.Writer, r *validation.Report) {
	section := func(title string, fs []validation.Finding, detail bool) {
		if len(fs) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(fs))
		for _, f := range fs {
			fmt.Fprintf(w, "  [%s/%s] %s\n", f.Stage, f.Code, f.Message)
			if !detail {
				continue
			}
			if f.Got != nil {
				fmt.Fprintf(w, "    at %s = %v\n", f.At, f.Got)
			} else {
				fmt.Fprintf(w, "    at %s\n", f.At)
			}
			if f.Want != "" {
				fmt.Fprintf(w, "    want: %s\n", f.Want)
			}
			if f.Hint != "" {
				fmt.Fprintf(w, "    hint: %s\n", f.Hint)
			}
		}
		fmt.Fprintln(w)
	}
	section("ERRORS", r.Errors, true)
	section("WARNINGS", r.Warnings, true)
	section("INFO", r.Info, false)

	if r.Valid {
		fmt.Fprintf(w, "Result: VALID (%s)\n", r.Summary)
	} else {
		fmt.Fprintf(w, "Result: INVALID (%s)\n", r.Summary)
	}
}

func printPartitionStats(w io.Writer, s partition.Stats) {
	fmt.Fprintf(w, "splits %d, footprints %d, empty terminals %d\n", s.Splits, s.Footprints, s.Empty)
	if s.TooFew+s.TooMany+s.Degenerate > 0 {
		fmt.Fprintf(w, "skipped: %d too few crossings, %d too many crossings, %d degenerate\n",
			s.TooFew, s.TooMany, s.Degenerate)
	}
}

func printEvolveReport(w io.Writer, r *pipeline.Result) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  generations: %d (%s, %s)\n", r.Run.Generations, r.Run.Reason, r.Run.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  population:  %d\n", r.Run.Population)
	fmt.Fprintf(w, "  layouts:     %d\n", len(r.Layouts))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-6s %-6s %10s %12s %12s\n", "Row", "Col", "Buildings", "Error", "Fitness")
	fmt.Fprintf(w, "%-6s %-6s %10s %12s %12s\n", "------", "------", "----------", "------------", "------------")
	for _, e := range r.Top {
		fmt.Fprintf(w, "%-6d %-6d %10d %12.6f %12.4f\n", e.Row, e.Col, e.Buildings, e.Error, e.Fitness)
	}
	fmt.Fprintln(w)

	if r.Best == nil {
		fmt.Fprintln(w, "No individual survived the search.")
		return
	}
	genes := make([]string, len(r.Editable))
	for i, idx := range r.Editable {
		genes[i] = fmt.Sprintf("%d:%d", idx, r.Best.Chromosome[idx])
	}
	fmt.Fprintln(w, "Best")
	fmt.Fprintln(w, "----")
	fmt.Fprintf(w, "  buildings: %d\n", r.Best.Buildings)
	fmt.Fprintf(w, "  error:     %.6f\n", r.Best.Error)
	fmt.Fprintf(w, "  genes:     %s\n", strings.Join(genes, " "))
	printPartitionStats(w, r.Stats)
}

func printNeighbors(w io.Writer, records []parcel.Record) {
	fmt.Fprintf(w, "%-6s %24s %12s %10s  %s\n", "Parcel", "Centroid", "Area", "Buildings", "Neighbors")
	for _, r := range records {
		centroid := fmt.Sprintf("(%.5f, %.5f)", r.Centroid.X, r.Centroid.Y)
		fmt.Fprintf(w, "%-6d %24s %12.4f %10d  %v\n", r.Index, centroid, r.Area, len(r.Buildings), r.Neighbors)
	}
}
