package trace

import (
	"math"
	"sort"

	"github.com/vyperlang/boa/computation"
	"github.com/vyperlang/boa/types"
)

// Datum is one program-counter's aggregated gas figures: what it charged
// directly, what it refunded directly, and (after AdjustChild folds in
// sub-call costs) what its children charged/refunded on its behalf.
type Datum struct {
	GasUsed          uint64
	GasRefunded      uint64
	ChildGasUsed     uint64
	ChildGasRefunded uint64
}

// ByPC maps a program counter to its aggregated gas Datum.
type ByPC map[uint64]*Datum

// BuildByPC reads comp's profiling meter (nil if profiling wasn't
// enabled for this call, in which case the result is empty) and folds in
// each child's total gas at the PC that dispatched it, per spec's
// adjust_child step.
func BuildByPC(comp *computation.Computation) ByPC {
	out := make(ByPC)
	if comp == nil || comp.Gasmeter == nil {
		return out
	}
	for pc, used := range comp.Gasmeter.GasUsedByPC() {
		out.entry(pc).GasUsed = used
	}
	for pc, refunded := range comp.Gasmeter.GasRefundedByPC() {
		out.entry(pc).GasRefunded = refunded
	}
	for i, child := range comp.Children {
		if i >= len(comp.ChildPCs) {
			break
		}
		callPC := comp.ChildPCs[i]
		d := out.entry(callPC)
		d.ChildGasUsed += child.GasUsed
		d.ChildGasRefunded += child.GasRefunded
	}
	return out
}

func (b ByPC) entry(pc uint64) *Datum {
	d, ok := b[pc]
	if !ok {
		d = &Datum{}
		b[pc] = d
	}
	return d
}

// LineProfile folds a ByPC into per-line totals. Without a compiled
// artifact's PC->source-line map this project doesn't have a Vyper
// compiler for, "line" degenerates to the PC itself — each PC is its own
// line, which keeps Merge associative and the aggregation logic honest
// while leaving the real PC->line fold as a hook a compiled-artifact-aware
// caller (contract.Contract) can build on top of by supplying a different
// lineOf function to Fold.
type LineProfile struct {
	ByLine map[uint64]*Datum
}

// NewLineProfile returns an empty LineProfile.
func NewLineProfile() *LineProfile {
	return &LineProfile{ByLine: make(map[uint64]*Datum)}
}

// Fold merges pcs into the profile, attributing pc to lineOf(pc).
func (lp *LineProfile) Fold(pcs ByPC, lineOf func(pc uint64) uint64) {
	if lineOf == nil {
		lineOf = func(pc uint64) uint64 { return pc }
	}
	for pc, d := range pcs {
		line := lineOf(pc)
		target, ok := lp.ByLine[line]
		if !ok {
			target = &Datum{}
			lp.ByLine[line] = target
		}
		target.GasUsed += d.GasUsed
		target.GasRefunded += d.GasRefunded
		target.ChildGasUsed += d.ChildGasUsed
		target.ChildGasRefunded += d.ChildGasRefunded
	}
}

// Merge folds other's line totals into lp in place, for combining
// profiles gathered across multiple calls.
func (lp *LineProfile) Merge(other *LineProfile) {
	if other == nil {
		return
	}
	for line, d := range other.ByLine {
		target, ok := lp.ByLine[line]
		if !ok {
			target = &Datum{}
			lp.ByLine[line] = target
		}
		target.GasUsed += d.GasUsed
		target.GasRefunded += d.GasRefunded
		target.ChildGasUsed += d.ChildGasUsed
		target.ChildGasRefunded += d.ChildGasRefunded
	}
}

// CallKey identifies one aggregated call-profile bucket.
type CallKey struct {
	Address      types.Address
	ContractName string
	FunctionName string
}

// CallStats is the on-demand statistics summary of a CallKey's recorded samples.
type CallStats struct {
	Count  int
	Mean   float64
	Median float64
	Stdev  float64
	Min    int64
	Max    int64
}

// CallProfiler accumulates (net_gas, net_tot_gas) samples per CallKey
// across many calls and computes summary statistics on demand, sorted by
// mean gas descending for reporting — spec's call-profile table.
type CallProfiler struct {
	samples map[CallKey][]int64 // net_gas per call; net_tot_gas tracked in tot
	tot     map[CallKey][]int64
}

// NewCallProfiler returns an empty profiler.
func NewCallProfiler() *CallProfiler {
	return &CallProfiler{samples: make(map[CallKey][]int64), tot: make(map[CallKey][]int64)}
}

// Record appends one (net_gas, net_tot_gas) sample for key.
func (c *CallProfiler) Record(key CallKey, netGas, netTotGas int64) {
	c.samples[key] = append(c.samples[key], netGas)
	c.tot[key] = append(c.tot[key], netTotGas)
}

// Stats computes {count, mean, median, stdev, min, max} over key's net_gas
// samples. No third-party statistics library appears anywhere in the
// example pack (a zero-dependency aggregate over a handful of int64s
// doesn't warrant pulling one in), so this uses math.Sqrt directly.
func (c *CallProfiler) Stats(key CallKey) CallStats {
	return computeStats(c.samples[key])
}

// TotStats computes the same summary over net_tot_gas samples instead.
func (c *CallProfiler) TotStats(key CallKey) CallStats {
	return computeStats(c.tot[key])
}

func computeStats(samples []int64) CallStats {
	if len(samples) == 0 {
		return CallStats{}
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}
	mean := float64(sum) / float64(len(sorted))

	var sqDiff float64
	for _, s := range sorted {
		d := float64(s) - mean
		sqDiff += d * d
	}
	stdev := math.Sqrt(sqDiff / float64(len(sorted)))

	median := medianOf(sorted)

	return CallStats{
		Count:  len(sorted),
		Mean:   mean,
		Median: median,
		Stdev:  stdev,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

func medianOf(sorted []int64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// Keys returns every recorded CallKey, sorted by mean gas descending —
// spec's "output tables sort by mean gas descending".
func (c *CallProfiler) Keys() []CallKey {
	keys := make([]CallKey, 0, len(c.samples))
	for k := range c.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.Stats(keys[i]).Mean > c.Stats(keys[j]).Mean
	})
	return keys
}
