package qrf

import "math"

//Quantize converts one raw sample into packed codes, writing into a buffer
//the caller allocated once with NewBuffer. The mapping is total: every float,
//NaN and infinities included, lands on some code, so the hot path has no
//error return. The method allocates nothing.
func (crs *CompactRuleSet) Quantize(raw []float64, out *PackedBuffer) {
	for ind, ref := range crs.refs {
		out.Set(ind, crs.codeFor(ref, raw[ind]))
	}
}

//NewBuffer allocates a packed buffer shaped for samples of this rule set.
func (crs *CompactRuleSet) NewBuffer() *PackedBuffer {
	return NewPackedBuffer(crs.NumFeatures(), crs.Bits)
}

//codeFor quantizes one value with one feature reference. A direct feature
//truncates the value to a code. A discrete feature shifts the scaled value by
//the rule baseline, scans its fixed-point table for an exact match and falls
//back to code 0. A continuous feature takes the first bin whose upper edge
//exceeds the shifted value, the last bin past the final edge; anything at or
//below the baseline lands in bin 0. The scan stays in integer arithmetic
//after the single fixed-point conversion.
func (crs *CompactRuleSet) codeFor(ref featureRef, v float64) uint8 {
	groups := crs.Groups()
	switch ref.kind {
	case featureDirect:
		return clampCode(truncateToCode(v), groups)
	case featureDiscrete:
		if math.IsNaN(v) {
			return 0
		}
		adjusted := scaleSignedValue(v, crs.Scale) - ref.baseline
		if adjusted >= 0 {
			for q := 0; q < ref.count; q++ {
				if adjusted == int64(crs.values[ref.offset+q]) {
					return clampCode(q, groups)
				}
			}
		}
		return 0
	default:
		if math.IsNaN(v) {
			return 0
		}
		adjusted := scaleSignedValue(v, crs.Scale) - ref.baseline
		if adjusted <= 0 {
			return 0
		}
		for q := 0; q < ref.count; q++ {
			if adjusted < int64(crs.edges[ref.offset+q]) {
				return clampCode(q, groups)
			}
		}
		return clampCode(ref.count, groups)
	}
}

//truncateToCode truncates a raw value that is already a code. Negative and
//NaN values land on 0; int(v) alone would leave NaN implementation defined.
func truncateToCode(v float64) int {
	if !(v > 0) {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}
