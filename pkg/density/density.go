// Package density scores building-count chromosomes by how far each editable
// parcel's building density strays from the densest of its neighbors.
package density

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrChromosomeLength is returned when a chromosome does not carry one
	// gene per parcel.
	ErrChromosomeLength = errors.New("chromosome length does not match parcel count")
	// ErrNoEditable is returned when a problem has nothing to optimize.
	ErrNoEditable = errors.New("problem has no editable parcels")
)

// Default band and penalty.
const (
	DefaultLow     = 0.8
	DefaultHigh    = 1.2
	DefaultPenalty = 1.0
)

// Problem is the fixed input to the fitness function.
type Problem struct {
	// Areas holds one area per parcel, in consistent units.
	Areas []float64 `json:"areas"`
	// Editable lists the parcel indices the optimizer may change.
	Editable []int `json:"editable"`
	// Neighbors maps a parcel index to its neighbor indices.
	Neighbors map[int][]int `json:"neighbors"`
	// Penalty is charged when a parcel has buildings but no neighbor does.
	Penalty float64 `json:"penalty"`
	// Low and High scale the densest neighbor's density into the accepted band.
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// WithDefaults fills unset band and penalty values. A zero penalty counts
// as unset.
func (p Problem) WithDefaults() Problem {
	if p.Penalty == 0 {
		p.Penalty = DefaultPenalty
	}
	if p.Low == 0 && p.High == 0 {
		p.Low, p.High = DefaultLow, DefaultHigh
	}
	return p
}

// Validate checks the problem's preconditions.
func (p Problem) Validate() error {
	if len(p.Editable) == 0 {
		return ErrNoEditable
	}
	n := len(p.Areas)
	for i, a := range p.Areas {
		if !(a > 0) || math.IsInf(a, 0) {
			return fmt.Errorf("parcel %d: area must be positive, got %v", i, a)
		}
	}
	for _, i := range p.Editable {
		if i < 0 || i >= n {
			return fmt.Errorf("editable index %d out of range [0,%d)", i, n)
		}
	}
	for i, ns := range p.Neighbors {
		for _, j := range ns {
			if j < 0 || j >= n {
				return fmt.Errorf("parcel %d: neighbor %d out of range [0,%d)", i, j, n)
			}
		}
	}
	if p.Low > p.High {
		return fmt.Errorf("band low %v exceeds high %v", p.Low, p.High)
	}
	if p.Penalty < 0 {
		return fmt.Errorf("penalty must be non-negative, got %v", p.Penalty)
	}
	return nil
}

// Density returns buildings per unit area for parcel i.
func (p Problem) Density(chrom []int, i int) float64 {
	return float64(chrom[i]) / p.Areas[i]
}

// parcelError is the deviation of parcel i from its neighbors' band.
func (p Problem) parcelError(chrom []int, i int) float64 {
	d := p.Density(chrom, i)
	maxN := 0.0
	for _, j := range p.Neighbors[i] {
		maxN = math.Max(maxN, p.Density(chrom, j))
	}
	if maxN == 0 {
		if d == 0 {
			return 0
		}
		return p.Penalty
	}
	lo, hi := p.Low*maxN, p.High*maxN
	switch {
	case d < lo:
		return lo - d
	case d > hi:
		return d - hi
	}
	return 0
}

// ParcelErrors returns the error of each editable parcel, in Editable order.
func (p Problem) ParcelErrors(chrom []int) ([]float64, error) {
	if len(chrom) != len(p.Areas) {
		return nil, fmt.Errorf("%w: got %d genes for %d parcels", ErrChromosomeLength, len(chrom), len(p.Areas))
	}
	out := make([]float64, len(p.Editable))
	for k, i := range p.Editable {
		out[k] = p.parcelError(chrom, i)
	}
	return out, nil
}

// Error returns the total density error of chrom. Lower is better.
func (p Problem) Error(chrom []int) (float64, error) {
	errs, err := p.ParcelErrors(chrom)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, e := range errs {
		total += e
	}
	return total, nil
}

// Total returns the sum of all genes.
func Total(chrom []int) int {
	n := 0
	for _, g := range chrom {
		n += g
	}
	return n
}

// SimilarityRange returns the fraction of editable genes on which a and b
// agree, where two counts agree when the smaller is at least r times the
// larger, truncated to an integer.
func SimilarityRange(a, b []int, editable []int, r float64) float64 {
	if len(editable) == 0 {
		return 0
	}
	same := 0
	for _, i := range editable {
		lo, hi := a[i], b[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo >= int(float64(hi)*r) {
			same++
		}
	}
	return float64(same) / float64(len(editable))
}

// SimilarityOrder returns the fraction of editable positions holding the
// same density rank in a and b. Equal counts share a rank.
func SimilarityOrder(a, b []int, editable []int) float64 {
	if len(editable) == 0 {
		return 0
	}
	ra, rb := denseRanks(a, editable), denseRanks(b, editable)
	same := 0
	for k := range editable {
		if ra[k] == rb[k] {
			same++
		}
	}
	return float64(same) / float64(len(editable))
}

func denseRanks(chrom []int, editable []int) []int {
	order := make([]int, len(editable))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(x, y int) bool {
		return chrom[editable[order[x]]] < chrom[editable[order[y]]]
	})
	r := make([]int, len(editable))
	rank := 0
	for n, k := range order {
		if n > 0 && chrom[editable[k]] != chrom[editable[order[n-1]]] {
			rank++
		}
		r[k] = rank
	}
	return r
}
