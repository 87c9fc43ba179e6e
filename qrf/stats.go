package qrf

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
	"log"
	"math"
	"sort"
)

//outlierSigmas is the z-score past which a value is clipped to the boundary
//of the mean plus minus three sigma band before bin edges are taken.
const outlierSigmas = 3.0

//BuilderParams collect arguments of the offline rule builder.
type BuilderParams struct {
	Bits       uint8
	ThreadsNum int
}

//BuildRuleSet derives a quantization rule for every feature column of the
//dataset. Columns are processed independently, one pool task per column when
//ThreadsNum is above one.
func BuildRuleSet(ds Dataset, params BuilderParams) *RuleSet {
	bits := params.Bits
	if bits == 0 {
		bits = DefaultBits
	}
	if bits > MaxBits {
		log.Panicf("unsupported code width %d", bits)
	}

	h, w := ds.Features.Dims()
	if w < 1 || w > MaxFeatures {
		log.Panicf("dataset with %d feature columns", w)
	}
	groups := 1 << bits

	rs := &RuleSet{
		Bits:   bits,
		Labels: ds.LabelDictionary(),
		Rules:  make([]Rule, w),
	}
	rs.mustValidate()

	buildColumn := func(q int) Rule {
		column := make([]float64, h)
		mat.Col(column, q, ds.Features)
		sanitizeColumn(column)
		return buildRule(column, groups)
	}

	if params.ThreadsNum <= 1 {
		for q := 0; q < w; q++ {
			rs.Rules[q] = buildColumn(q)
		}
	} else {
		taskPool := NewPool(params.ThreadsNum)
		for q := 0; q < w; q++ {
			taskPool.AddTask(&TaskBuildRule{rs.Rules, q, buildColumn})
		}
		taskPool.Close()
		taskPool.WaitAll()
	}

	log.Printf("built %d rules over %d samples\n", w, h)
	return rs
}

//buildRule derives the rule of one column. The column is clipped to the three
//sigma band first; a column with no more distinct values than bins becomes a
//discrete table, anything wider gets quantile bin edges.
func buildRule(column []float64, groups int) Rule {
	clipped := clipOutliers(column)
	sort.Float64s(clipped)

	distinct := distinctValues(clipped)
	if len(distinct) <= groups {
		return Rule{Kind: RuleDiscrete, Values: distinct}
	}
	return Rule{Kind: RuleContinuous, Edges: quantileEdges(clipped, groups)}
}

//clipOutliers returns a copy of the column with every value pulled into the
//band mean plus minus outlierSigmas population standard deviations.
func clipOutliers(column []float64) []float64 {
	mean := stat.Mean(column, nil)
	sigma := stat.PopStdDev(column, nil)
	lo := mean - outlierSigmas*sigma
	hi := mean + outlierSigmas*sigma

	clipped := make([]float64, len(column))
	for ind, v := range column {
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		clipped[ind] = v
	}
	return clipped
}

//distinctValues collects the distinct values of a sorted column up to the
//discrete comparison tolerance.
func distinctValues(sorted []float64) (distinct []float64) {
	for _, v := range sorted {
		if len(distinct) == 0 || v-distinct[len(distinct)-1] >= discreteTolerance {
			distinct = append(distinct, v)
		}
	}
	return
}

//quantileEdges places groups-1 bin edges at the empirical quantiles of the
//sorted column. Columns with fewer than two values get no edges and quantize
//to bin 0.
func quantileEdges(sorted []float64, groups int) []float64 {
	if len(sorted) < 2 {
		return nil
	}
	edges := make([]float64, groups-1)
	for b := 1; b < groups; b++ {
		edges[b-1] = stat.Quantile(float64(b)/float64(groups), stat.Empirical, sorted, nil)
	}
	return edges
}

//QuantizeDataset runs the rule set over the full feature matrix and returns
//the quantized copy as a uint8 tensor of the same shape.
func (rs *RuleSet) QuantizeDataset(features *mat.Dense) *tensor.Dense {
	h, w := features.Dims()
	if w != rs.NumFeatures() {
		log.Panicf("dataset with %d features against a rule set with %d", w, rs.NumFeatures())
	}
	groups := rs.Groups()

	quantized := tensor.New(tensor.WithShape(h, w), tensor.Of(tensor.Uint8))
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			code := rs.Rules[q].Code(features.At(p, q), groups)
			HandleError(quantized.SetAt(code, p, q))
		}
	}
	return quantized
}

//BinOccupancy counts per feature how many samples fall into each bin of the
//quantized dataset. Strongly skewed counts are the usual sign of a column
//whose edges were taken over too few distinct values.
func (rs *RuleSet) BinOccupancy(quantized *tensor.Dense) [][]int {
	shape := quantized.Shape()
	h, w := shape[0], shape[1]

	occupancy := make([][]int, w)
	for q := range occupancy {
		occupancy[q] = make([]int, rs.Groups())
	}
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			raw, err := quantized.At(p, q)
			HandleError(err)
			occupancy[q][raw.(uint8)]++
		}
	}
	return occupancy
}

//QuantizedMatrix converts a quantized uint8 tensor into a float matrix for
//npy interchange with the workstation tooling.
func QuantizedMatrix(quantized *tensor.Dense) *mat.Dense {
	shape := quantized.Shape()
	h, w := shape[0], shape[1]

	out := mat.NewDense(h, w, nil)
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			raw, err := quantized.At(p, q)
			HandleError(err)
			out.Set(p, q, float64(raw.(uint8)))
		}
	}
	return out
}

//sanitizeColumn replaces NaN cells before statistics are taken. stat.Mean
//propagates NaN, which would collapse the clip band to NaN and every
//comparison to false.
func sanitizeColumn(column []float64) {
	for ind, v := range column {
		if math.IsNaN(v) {
			column[ind] = 0
		}
	}
}
