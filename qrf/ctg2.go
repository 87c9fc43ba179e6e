package qrf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

//The CTG2 format is a comma separated text encoding of a rule set in which
//edge positions are fixed-point uint16 values relative to a per-rule
//baseline, and edge lists shared between features are stored once. The
//baseline is the smallest stored value when that value is negative and zero
//otherwise, so features over negative ranges keep their full fixed-point
//resolution. One file looks like
//
//	CTG2,numFeatures,groupsPerFeature,numLabels,numSharedPatterns,scaleFactor
//	L,<index>,<original name>                    one row per label
//	P,<baseline>,<edgeCount>,<edges...>          one row per shared pattern
//	DF                                           direct feature, values are codes already
//	DC,<baseline>,<count>,<values...>            discrete feature, fixed-point table
//	CS,<patternIndex>                            continuous feature, shared edge pattern
//	CU,<baseline>,<edgeCount>,<edges...>         continuous feature, unique edge pattern
//
//with one feature row per column, in column order. Baselines are signed
//scaled integers; edges and table values are unsigned offsets from them.

//maxScaleFactor bounds the fixed-point scale so every baseline-relative value
//fits uint16. The scale is lowered when the widest rule range would overflow.
const maxScaleFactor = 65535

//patternTolerance is the relative difference below which two scaled values
//count as equal during pattern deduplication.
const patternTolerance = 1e-3

//scaledClamp bounds signed scaled values far enough inside int64 that
//subtracting any baseline cannot overflow.
const scaledClamp = int64(1) << 62

//ruleBaseline returns the baseline of a sorted value list: its minimum when
//negative, zero otherwise. Keeping non-negative rules at baseline zero keeps
//their encoding identical to the offset-free one.
func ruleBaseline(sorted []float64) float64 {
	if len(sorted) == 0 || sorted[0] >= 0 {
		return 0
	}
	return sorted[0]
}

//scaleFactorFor picks the largest integer scale that keeps every
//baseline-relative value of the rule set inside uint16.
func scaleFactorFor(rs *RuleSet) uint32 {
	maxRange := 0.0
	for _, rule := range rs.Rules {
		var entries []float64
		if rule.Kind == RuleContinuous {
			entries = rule.Edges
		} else if !isDirect(rule.Values) {
			entries = rule.Values
		}
		if len(entries) == 0 {
			continue
		}
		if r := entries[len(entries)-1] - ruleBaseline(entries); r > maxRange {
			maxRange = r
		}
	}
	if maxRange <= 1 {
		return maxScaleFactor
	}
	scale := uint32(maxScaleFactor / maxRange)
	if scale < 1 {
		scale = 1
	}
	return scale
}

//scaleSignedValue converts a raw value to signed fixed point, rounding half
//away from zero. The mapping is total: NaN lands on 0, overflows saturate
//inside the clamp band.
func scaleSignedValue(v float64, scale uint32) int64 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := v * float64(scale)
	if scaled >= float64(scaledClamp) {
		return scaledClamp
	}
	if scaled <= -float64(scaledClamp) {
		return -scaledClamp
	}
	if scaled < 0 {
		return int64(scaled - 0.5)
	}
	return int64(scaled + 0.5)
}

//scaleRelative stores one value as an unsigned offset from a scaled baseline,
//using the exact arithmetic the runtime quantizer applies to raw input, so a
//stored table value and a quantized equal input always land on the same
//integer.
func scaleRelative(v float64, baseline int64, scale uint32) uint16 {
	d := scaleSignedValue(v, scale) - baseline
	if d < 0 {
		return 0
	}
	if d > maxScaleFactor {
		return maxScaleFactor
	}
	return uint16(d)
}

//isDirect reports whether a discrete table holds exactly the codes 0..k-1, in
//which case raw values need no table at all.
func isDirect(values []float64) bool {
	for ind, v := range values {
		if math.Abs(v-float64(ind)) >= discreteTolerance {
			return false
		}
	}
	return len(values) > 0
}

//scaledPattern is one deduplicated edge list: a signed baseline and the edges
//as offsets from it.
type scaledPattern struct {
	baseline int64
	edges    []uint16
}

//samePattern compares two scaled patterns up to the pattern tolerance.
func samePattern(a, b scaledPattern) bool {
	if len(a.edges) != len(b.edges) {
		return false
	}
	if !closeScaled(float64(a.baseline), float64(b.baseline)) {
		return false
	}
	for ind := range a.edges {
		if !closeScaled(float64(a.edges[ind]), float64(b.edges[ind])) {
			return false
		}
	}
	return true
}

func closeScaled(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) < patternTolerance*(math.Abs(a)+math.Abs(b))/2
}

//WriteCTG2 serializes the rule set with shared edge patterns. Scaled edge
//lists are deduplicated greedily in column order; a pattern referenced by
//more than one feature is written once as a P row and referenced by index,
//a single-use pattern stays inline in its feature row.
func (rs *RuleSet) WriteCTG2(w io.Writer) error {
	scale := scaleFactorFor(rs)

	type featureRow struct {
		rule       Rule
		direct     bool
		baseline   int64 //discrete features only
		patternInd int   //continuous features only
	}

	var patterns []scaledPattern
	refCount := make(map[int]int)
	rows := make([]featureRow, len(rs.Rules))

	for ind, rule := range rs.Rules {
		row := featureRow{rule: rule, patternInd: -1}
		if rule.Kind == RuleDiscrete {
			row.direct = isDirect(rule.Values)
			if !row.direct {
				row.baseline = scaleSignedValue(ruleBaseline(rule.Values), scale)
			}
		} else {
			baseline := scaleSignedValue(ruleBaseline(rule.Edges), scale)
			scaled := scaledPattern{baseline: baseline, edges: make([]uint16, len(rule.Edges))}
			for q, edge := range rule.Edges {
				scaled.edges[q] = scaleRelative(edge, baseline, scale)
			}
			found := -1
			for p, known := range patterns {
				if samePattern(known, scaled) {
					found = p
					break
				}
			}
			if found == -1 {
				found = len(patterns)
				patterns = append(patterns, scaled)
			}
			row.patternInd = found
			refCount[found]++
		}
		rows[ind] = row
	}

	//shared patterns keep their first-seen order under new dense indices
	sharedInd := make(map[int]int)
	var shared []scaledPattern
	for p, pattern := range patterns {
		if refCount[p] > 1 {
			sharedInd[p] = len(shared)
			shared = append(shared, pattern)
		}
	}

	out := bufio.NewWriter(w)
	fmt.Fprintf(out, "CTG2,%d,%d,%d,%d,%d\n", rs.NumFeatures(), rs.Groups(), len(rs.Labels), len(shared), scale)
	for ind, name := range rs.Labels {
		fmt.Fprintf(out, "L,%d,%s\n", ind, name)
	}
	for _, pattern := range shared {
		fmt.Fprintf(out, "P,%d,%d", pattern.baseline, len(pattern.edges))
		for _, edge := range pattern.edges {
			fmt.Fprintf(out, ",%d", edge)
		}
		fmt.Fprintln(out)
	}
	for _, row := range rows {
		switch {
		case row.direct:
			fmt.Fprintln(out, "DF")
		case row.rule.Kind == RuleDiscrete:
			fmt.Fprintf(out, "DC,%d,%d", row.baseline, len(row.rule.Values))
			for _, v := range row.rule.Values {
				fmt.Fprintf(out, ",%d", scaleRelative(v, row.baseline, scale))
			}
			fmt.Fprintln(out)
		case refCount[row.patternInd] > 1:
			fmt.Fprintf(out, "CS,%d\n", sharedInd[row.patternInd])
		default:
			pattern := patterns[row.patternInd]
			fmt.Fprintf(out, "CU,%d,%d", pattern.baseline, len(pattern.edges))
			for _, edge := range pattern.edges {
				fmt.Fprintf(out, ",%d", edge)
			}
			fmt.Fprintln(out)
		}
	}
	return out.Flush()
}

//SaveCTG2 writes the rule set to a CTG2 file.
func (rs *RuleSet) SaveCTG2(filename string) {
	dest, err := os.Create(filename)
	HandleError(err)
	defer func() { HandleError(dest.Close()) }()
	HandleError(rs.WriteCTG2(dest))
}

//Compile converts the float rule set into the compact fixed-point form the
//runtime quantizer works with, going through the CTG2 encoding so the
//compiled rules behave exactly like rules loaded from a file.
func (rs *RuleSet) Compile() (*CompactRuleSet, error) {
	var buf bytes.Buffer
	if err := rs.WriteCTG2(&buf); err != nil {
		return nil, err
	}
	return ReadCompactRuleSet(&buf)
}

type featureKind uint8

const (
	featureDirect featureKind = iota
	featureDiscrete
	featureContinuous
)

//featureRef locates the rule of one feature inside the flat arrays of a
//CompactRuleSet.
type featureRef struct {
	kind     featureKind
	baseline int64
	offset   int
	count    int
}

//CompactRuleSet is the runtime form of a rule set: per-feature references
//into two flat fixed-point arrays, no per-sample bookkeeping. All edge lists,
//shared or unique, live concatenated in one slice, so a shared pattern is
//stored once no matter how many features reference it.
type CompactRuleSet struct {
	Bits   uint8
	Labels []string
	Scale  uint32

	refs   []featureRef
	edges  []uint16
	values []uint16
}

//NumFeatures returns the number of feature columns the rule set covers.
func (crs *CompactRuleSet) NumFeatures() int {
	return len(crs.refs)
}

//Groups returns the number of quantization bins per feature.
func (crs *CompactRuleSet) Groups() int {
	return 1 << crs.Bits
}

//ReadCompactRuleSet parses a CTG2 stream into the runtime form.
func ReadCompactRuleSet(r io.Reader) (*CompactRuleSet, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty rule stream: %w", ErrMalformedHeader)
	}
	header := strings.Split(strings.TrimSpace(scanner.Text()), ",")
	if len(header) != 6 || header[0] != "CTG2" {
		return nil, fmt.Errorf("header %q: %w", scanner.Text(), ErrMalformedHeader)
	}

	numeric := make([]int, 5)
	for ind := 0; ind < 5; ind++ {
		v, err := strconv.Atoi(header[ind+1])
		if err != nil || v < 0 {
			return nil, fmt.Errorf("header field %q: %w", header[ind+1], ErrMalformedHeader)
		}
		numeric[ind] = v
	}
	numFeatures, groups, numLabels, numShared, scale := numeric[0], numeric[1], numeric[2], numeric[3], numeric[4]

	if numFeatures < 1 || numFeatures > MaxFeatures {
		return nil, fmt.Errorf("rule set with %d features: %w", numFeatures, ErrFeatureCountMismatch)
	}
	if numLabels < 1 || numLabels > MaxLabels {
		return nil, fmt.Errorf("rule set with %d labels: %w", numLabels, ErrMalformedHeader)
	}
	bits := bitsForGroups(groups)
	if bits == 0 {
		return nil, fmt.Errorf("rule set with %d groups per feature: %w", groups, ErrMalformedHeader)
	}
	if scale < 1 || scale > maxScaleFactor {
		return nil, fmt.Errorf("scale factor %d: %w", scale, ErrMalformedHeader)
	}

	crs := &CompactRuleSet{
		Bits:   bits,
		Labels: make([]string, numLabels),
		Scale:  uint32(scale),
	}

	for ind := 0; ind < numLabels; ind++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("missing label row %d: %w", ind, ErrMalformedHeader)
		}
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), ",", 3)
		if len(fields) != 3 || fields[0] != "L" {
			return nil, fmt.Errorf("label row %q: %w", scanner.Text(), ErrMalformedHeader)
		}
		slot, err := strconv.Atoi(fields[1])
		if err != nil || slot < 0 || slot >= numLabels {
			return nil, fmt.Errorf("label row index %q: %w", fields[1], ErrMalformedHeader)
		}
		crs.Labels[slot] = fields[2]
	}

	//shared patterns land at the head of the edge array, in file order
	sharedBaselines := make([]int64, 0, numShared)
	sharedOffsets := make([]int, 0, numShared)
	sharedCounts := make([]int, 0, numShared)
	for ind := 0; ind < numShared; ind++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("missing pattern row %d: %w", ind, ErrMalformedHeader)
		}
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) < 3 || fields[0] != "P" {
			return nil, fmt.Errorf("pattern row %q: %w", scanner.Text(), ErrMalformedHeader)
		}
		baseline, edges, err := parseBaselineAndValues(fields[1:], groups-1)
		if err != nil {
			return nil, fmt.Errorf("pattern row %d: %w", ind, err)
		}
		sharedBaselines = append(sharedBaselines, baseline)
		sharedOffsets = append(sharedOffsets, len(crs.edges))
		sharedCounts = append(sharedCounts, len(edges))
		crs.edges = append(crs.edges, edges...)
	}

	for ind := 0; ind < numFeatures; ind++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("rule stream has %d of %d feature rows: %w", ind, numFeatures, ErrFeatureCountMismatch)
		}
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		switch fields[0] {
		case "DF":
			if len(fields) != 1 {
				return nil, fmt.Errorf("feature row %q: %w", scanner.Text(), ErrMalformedHeader)
			}
			crs.refs = append(crs.refs, featureRef{kind: featureDirect})
		case "DC":
			if len(fields) < 3 {
				return nil, fmt.Errorf("feature row %q: %w", scanner.Text(), ErrMalformedHeader)
			}
			baseline, values, err := parseBaselineAndValues(fields[1:], groups)
			if err != nil {
				return nil, fmt.Errorf("feature row %d: %w", ind, err)
			}
			crs.refs = append(crs.refs, featureRef{kind: featureDiscrete, baseline: baseline, offset: len(crs.values), count: len(values)})
			crs.values = append(crs.values, values...)
		case "CS":
			if len(fields) != 2 {
				return nil, fmt.Errorf("feature row %q: %w", scanner.Text(), ErrMalformedHeader)
			}
			patternInd, err := strconv.Atoi(fields[1])
			if err != nil || patternInd < 0 || patternInd >= numShared {
				return nil, fmt.Errorf("feature %d references pattern %q of %d: %w", ind, fields[1], numShared, ErrPatternIndexOutOfRange)
			}
			crs.refs = append(crs.refs, featureRef{kind: featureContinuous, baseline: sharedBaselines[patternInd], offset: sharedOffsets[patternInd], count: sharedCounts[patternInd]})
		case "CU":
			if len(fields) < 3 {
				return nil, fmt.Errorf("feature row %q: %w", scanner.Text(), ErrMalformedHeader)
			}
			baseline, edges, err := parseBaselineAndValues(fields[1:], groups-1)
			if err != nil {
				return nil, fmt.Errorf("feature row %d: %w", ind, err)
			}
			crs.refs = append(crs.refs, featureRef{kind: featureContinuous, baseline: baseline, offset: len(crs.edges), count: len(edges)})
			crs.edges = append(crs.edges, edges...)
		default:
			return nil, fmt.Errorf("feature row %q: %w", scanner.Text(), ErrMalformedHeader)
		}
	}

	if scanner.Scan() {
		return nil, fmt.Errorf("trailing row %q after %d features: %w", scanner.Text(), numFeatures, ErrFeatureCountMismatch)
	}
	return crs, scanner.Err()
}

//parseBaselineAndValues parses a signed baseline followed by a
//count-prefixed list of uint16 fields. The count may not exceed maxCount, the
//per-rule ceiling the code width dictates.
func parseBaselineAndValues(fields []string, maxCount int) (int64, []uint16, error) {
	baseline, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("baseline %q: %w", fields[0], ErrMalformedHeader)
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 || len(fields) != 2+count {
		return 0, nil, fmt.Errorf("value count %q with %d fields: %w", fields[1], len(fields)-2, ErrMalformedHeader)
	}
	if count > maxCount {
		return 0, nil, fmt.Errorf("%d values exceed the %d the code width allows: %w", count, maxCount, ErrMalformedHeader)
	}
	values := make([]uint16, count)
	for ind := 0; ind < count; ind++ {
		v, err := strconv.ParseUint(fields[2+ind], 10, 16)
		if err != nil {
			return 0, nil, fmt.Errorf("value %q: %w", fields[2+ind], ErrMalformedHeader)
		}
		values[ind] = uint16(v)
	}
	return baseline, values, nil
}

//LoadCompactRuleSet reads a CTG2 file into the runtime form.
func LoadCompactRuleSet(filename string) (*CompactRuleSet, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(source.Close()) }()
	return ReadCompactRuleSet(source)
}
