package qrf

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
)

//RuleKind selects how a feature column is mapped to a quantized code.
type RuleKind int

const (
	//RuleDiscrete maps a value to the index of the matching entry of a
	//small table of distinct values.
	RuleDiscrete RuleKind = iota
	//RuleContinuous maps a value to the index of its quantile bin.
	RuleContinuous
)

//Rule is the quantization rule of one feature column, in the float form the
//offline tooling works with. The runtime uses the compact fixed-point form
//produced by Compile.
type Rule struct {
	Kind   RuleKind
	Values []float64 //distinct values of a discrete feature, sorted
	Edges  []float64 //bin upper edges of a continuous feature, sorted
}

//Code quantizes one raw value with this rule. A continuous value falls into
//the first bin whose upper edge exceeds it; past the last edge it falls into
//the last bin. A discrete value maps to the index of its table entry, with
//unknown values mapping to 0. The result never leaves 0..groups-1.
func (rule Rule) Code(v float64, groups int) uint8 {
	switch rule.Kind {
	case RuleDiscrete:
		for ind, known := range rule.Values {
			if math.Abs(v-known) < discreteTolerance {
				return clampCode(ind, groups)
			}
		}
		return 0
	default:
		for ind, edge := range rule.Edges {
			if v < edge {
				return clampCode(ind, groups)
			}
		}
		return clampCode(len(rule.Edges), groups)
	}
}

const discreteTolerance = 1e-6

func clampCode(code, groups int) uint8 {
	if code >= groups {
		code = groups - 1
	}
	if code < 0 {
		code = 0
	}
	return uint8(code)
}

//RuleSet holds the quantization rules of every feature together with the
//label dictionary of the dataset they were built from.
type RuleSet struct {
	Bits   uint8
	Labels []string //dense label index to original name
	Rules  []Rule
}

//Groups returns the number of quantization bins per feature.
func (rs *RuleSet) Groups() int {
	return 1 << rs.Bits
}

//NumFeatures returns the number of feature columns the rule set covers.
func (rs *RuleSet) NumFeatures() int {
	return len(rs.Rules)
}

//SaveCSV writes the rule set in the legacy comma separated float format. The
//header carries the shape of the set; every feature contributes one row of
//the form isDiscrete,count,values. The quantization coefficient of this
//format is always 1 because values are stored as floats.
func (rs *RuleSet) SaveCSV(filename string) {
	dest, err := os.Create(filename)
	HandleError(err)
	defer func() { HandleError(dest.Close()) }()
	HandleError(rs.WriteCSV(dest))
}

//WriteCSV serializes the rule set in the legacy float format.
func (rs *RuleSet) WriteCSV(w io.Writer) error {
	out := bufio.NewWriter(w)
	fmt.Fprintf(out, "%d,%d,%d,%d\n", rs.NumFeatures(), rs.Groups(), 1, len(rs.Labels))
	for ind, name := range rs.Labels {
		fmt.Fprintf(out, "LABEL,%s,%d\n", name, ind)
	}
	for _, rule := range rs.Rules {
		if rule.Kind == RuleDiscrete {
			fmt.Fprintf(out, "1,%d", len(rule.Values))
			for _, v := range rule.Values {
				fmt.Fprintf(out, ",%g", v)
			}
		} else {
			fmt.Fprintf(out, "0,%d", len(rule.Edges))
			for _, v := range rule.Edges {
				fmt.Fprintf(out, ",%g", v)
			}
		}
		fmt.Fprintln(out)
	}
	return out.Flush()
}

//ReadRuleSetCSV deserializes a rule set from the legacy float format.
func ReadRuleSetCSV(r io.Reader) (*RuleSet, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty rule file: %w", ErrMalformedHeader)
	}
	header := strings.Split(strings.TrimSpace(scanner.Text()), ",")
	if len(header) != 4 {
		return nil, fmt.Errorf("rule header with %d fields: %w", len(header), ErrMalformedHeader)
	}
	numFeatures, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("rule header feature count %q: %w", header[0], ErrMalformedHeader)
	}
	groups, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("rule header group count %q: %w", header[1], ErrMalformedHeader)
	}
	numLabels, err := strconv.Atoi(header[3])
	if err != nil {
		return nil, fmt.Errorf("rule header label count %q: %w", header[3], ErrMalformedHeader)
	}
	if numFeatures < 1 || numFeatures > MaxFeatures {
		return nil, fmt.Errorf("rule set with %d features: %w", numFeatures, ErrFeatureCountMismatch)
	}

	bits := bitsForGroups(groups)
	if bits == 0 {
		return nil, fmt.Errorf("rule set with %d groups per feature: %w", groups, ErrMalformedHeader)
	}

	rs := &RuleSet{Bits: bits, Labels: make([]string, numLabels)}
	for ind := 0; ind < numLabels; ind++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("missing label row %d: %w", ind, ErrMalformedHeader)
		}
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) != 3 || fields[0] != "LABEL" {
			return nil, fmt.Errorf("label row %d %q: %w", ind, scanner.Text(), ErrMalformedHeader)
		}
		slot, err := strconv.Atoi(fields[2])
		if err != nil || slot < 0 || slot >= numLabels {
			return nil, fmt.Errorf("label row %d index %q: %w", ind, fields[2], ErrMalformedHeader)
		}
		rs.Labels[slot] = fields[1]
	}

	for ind := 0; ind < numFeatures; ind++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("rule file has %d of %d feature rows: %w", ind, numFeatures, ErrFeatureCountMismatch)
		}
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("feature row %d %q: %w", ind, scanner.Text(), ErrMalformedHeader)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil || count < 0 || len(fields) != 2+count {
			return nil, fmt.Errorf("feature row %d value count %q: %w", ind, fields[1], ErrMalformedHeader)
		}
		values := make([]float64, count)
		for q := 0; q < count; q++ {
			values[q], err = strconv.ParseFloat(fields[2+q], 64)
			if err != nil {
				return nil, fmt.Errorf("feature row %d value %q: %w", ind, fields[2+q], ErrMalformedHeader)
			}
		}
		var rule Rule
		if fields[0] == "1" {
			if count > groups {
				return nil, fmt.Errorf("feature row %d with %d discrete values for %d groups: %w", ind, count, groups, ErrMalformedHeader)
			}
			rule = Rule{Kind: RuleDiscrete, Values: values}
		} else {
			if count > groups-1 {
				return nil, fmt.Errorf("feature row %d with %d edges for %d groups: %w", ind, count, groups, ErrMalformedHeader)
			}
			rule = Rule{Kind: RuleContinuous, Edges: values}
		}
		rs.Rules = append(rs.Rules, rule)
	}

	return rs, scanner.Err()
}

//LoadRuleSetCSV reads a legacy float rule file.
func LoadRuleSetCSV(filename string) (*RuleSet, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(source.Close()) }()
	return ReadRuleSetCSV(source)
}

func bitsForGroups(groups int) uint8 {
	for bits := uint8(1); bits <= MaxBits; bits++ {
		if 1<<bits == groups {
			return bits
		}
	}
	return 0
}

//LabelIndex maps an original label name to its dense index.
func (rs *RuleSet) LabelIndex(name string) (uint8, bool) {
	for ind, known := range rs.Labels {
		if known == name {
			return uint8(ind), true
		}
	}
	return NoPrediction, false
}

func (rs *RuleSet) mustValidate() {
	if rs.NumFeatures() < 1 || rs.NumFeatures() > MaxFeatures {
		log.Panicf("rule set with %d features", rs.NumFeatures())
	}
	if len(rs.Labels) < 1 || len(rs.Labels) > MaxLabels {
		log.Panicf("rule set with %d labels", len(rs.Labels))
	}
}
