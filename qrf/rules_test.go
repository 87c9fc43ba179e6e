package qrf

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRuleSetCSVRoundTrip(t *testing.T) {
	rs := scenarioRuleSet()

	var buf bytes.Buffer
	if err := rs.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := ReadRuleSetCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Bits != rs.Bits {
		t.Errorf("loaded bits %d, want %d", loaded.Bits, rs.Bits)
	}
	if len(loaded.Labels) != len(rs.Labels) {
		t.Fatalf("loaded labels %v", loaded.Labels)
	}
	for ind := range rs.Labels {
		if loaded.Labels[ind] != rs.Labels[ind] {
			t.Errorf("label %d = %q, want %q", ind, loaded.Labels[ind], rs.Labels[ind])
		}
	}
	if len(loaded.Rules) != len(rs.Rules) {
		t.Fatalf("loaded %d rules, want %d", len(loaded.Rules), len(rs.Rules))
	}

	//the round trip must preserve quantization behavior exactly, values are
	//serialized as floats
	groups := rs.Groups()
	probes := []float64{0, 0.5, 1, 1.5, 2, 2.5, 5, 10, 24, 25.5, 27, 100}
	for q := range rs.Rules {
		for _, v := range probes {
			if got, want := loaded.Rules[q].Code(v, groups), rs.Rules[q].Code(v, groups); got != want {
				t.Errorf("feature %d value %g: loaded code %d, original %d", q, v, got, want)
			}
		}
	}
}

func TestReadRuleSetCSVRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"1,4\n",
		"x,4,1,1\nLABEL,A,0\n0,0\n",
		"1,4,1,1\nLABEL,A,0\n0,3,1.0,2.0\n",
		"1,4,1,1\nBADLABEL,A,0\n0,0\n",
	}
	for ind, src := range cases {
		_, err := ReadRuleSetCSV(strings.NewReader(src))
		if !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("case %d: err = %v, want ErrMalformedHeader", ind, err)
		}
	}
}

//A feature row with more values than the code width can index would produce
//codes outside 0..groups-1, so the loader rejects it outright.
func TestReadRuleSetCSVRejectsOversizedRows(t *testing.T) {
	discrete := "1,4,1,1\nLABEL,A,0\n1,5,1,2,3,4,5\n"
	if _, err := ReadRuleSetCSV(strings.NewReader(discrete)); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("5 table values for 4 groups: err = %v, want ErrMalformedHeader", err)
	}

	continuous := "1,4,1,1\nLABEL,A,0\n0,4,1,2,3,4\n"
	if _, err := ReadRuleSetCSV(strings.NewReader(continuous)); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("4 edges for 4 groups: err = %v, want ErrMalformedHeader", err)
	}
}

//Even a hand-built oversized table never yields a code past the last group.
func TestRuleCodeClampsOversizedTable(t *testing.T) {
	rule := Rule{Kind: RuleDiscrete, Values: []float64{10, 20, 30, 40, 50, 60}}
	if got := rule.Code(60, 4); got != 3 {
		t.Errorf("table entry 5 of 6 gives code %d, want 3", got)
	}
	if got := rule.Code(20, 4); got != 1 {
		t.Errorf("table entry 1 gives code %d, want 1", got)
	}
}

func TestLabelIndex(t *testing.T) {
	rs := scenarioRuleSet()
	if ind, ok := rs.LabelIndex("B"); !ok || ind != 1 {
		t.Errorf("LabelIndex(B) = %d, %v", ind, ok)
	}
	if _, ok := rs.LabelIndex("Z"); ok {
		t.Errorf("unknown label resolved")
	}
}
