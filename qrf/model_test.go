package qrf

import (
	"os"
	"path"
	"testing"
)

type recordingSink struct {
	labels []uint8
	codes  [][]byte
	full   bool
}

func (sink *recordingSink) Offer(codes []byte, label uint8) bool {
	if sink.full {
		return false
	}
	sink.labels = append(sink.labels, label)
	sink.codes = append(sink.codes, append([]byte(nil), codes...))
	return true
}

func writeModelFiles(t *testing.T) (ruleFileName, forestFileName string) {
	t.Helper()
	dir := t.TempDir()

	rs := &RuleSet{
		Bits:   2,
		Labels: []string{"A", "B", "C"},
		Rules: []Rule{
			{Kind: RuleContinuous, Edges: []float64{23.6, 25.1, 26.5}},
			{Kind: RuleDiscrete, Values: []float64{0, 1, 2}},
		},
	}
	ruleFileName = path.Join(dir, "rules.ctg2")
	rs.SaveCTG2(ruleFileName)

	trees := []Tree{
		{Nodes: []TreeNode{NewSplitNode(0, 1, 1), NewLeafNode(0), NewLeafNode(1)}},
		{Nodes: []TreeNode{NewSplitNode(0, 1, 1), NewLeafNode(0), NewLeafNode(1)}},
		{Nodes: []TreeNode{NewSplitNode(1, 0, 1), NewLeafNode(0), NewLeafNode(1)}},
	}
	forest, err := NewForest(trees, 3, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	forestFileName = path.Join(dir, "forest.bin")
	forest.Save(forestFileName)
	return
}

func TestModelPredict(t *testing.T) {
	ruleFileName, forestFileName := writeModelFiles(t)
	model, err := LoadModel(ruleFileName, forestFileName)
	if err != nil {
		t.Fatal(err)
	}

	if model.NumFeatures() != 2 {
		t.Fatalf("model over %d features", model.NumFeatures())
	}

	//24.8 quantizes to bin 1, so both feature 0 trees go left and vote 0;
	//the direct code 1 is above threshold 0, the third tree votes 1
	if got := model.Predict([]float64{24.8, 1}); got != 0 {
		t.Errorf("prediction %d, want 0", got)
	}
	if got := model.PredictName([]float64{24.8, 1}); got != "A" {
		t.Errorf("predicted name %q, want A", got)
	}

	//27.0 quantizes past the last edge, both feature 0 trees vote 1
	if got := model.Predict([]float64{27.0, 1}); got != 1 {
		t.Errorf("prediction %d, want 1", got)
	}

	//a sample of the wrong width answers NoPrediction
	if got := model.Predict([]float64{27.0}); got != NoPrediction {
		t.Errorf("short sample predicts %d, want NoPrediction", got)
	}
	if got := model.PredictName([]float64{27.0}); got != "" {
		t.Errorf("short sample resolves to name %q, want empty", got)
	}
}

func TestModelReloadKeepsServingOnError(t *testing.T) {
	ruleFileName, forestFileName := writeModelFiles(t)
	model, err := LoadModel(ruleFileName, forestFileName)
	if err != nil {
		t.Fatal(err)
	}
	before := model.Predict([]float64{24.8, 1})

	brokenFileName := path.Join(t.TempDir(), "broken.bin")
	if err := os.WriteFile(brokenFileName, []byte("FORSgarbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := model.Reload(ruleFileName, brokenFileName); err == nil {
		t.Fatal("reload of a broken forest succeeded")
	}

	if got := model.Predict([]float64{24.8, 1}); got != before {
		t.Errorf("prediction changed from %d to %d after a failed reload", before, got)
	}
}

func TestModelReload(t *testing.T) {
	ruleFileName, forestFileName := writeModelFiles(t)
	model, err := LoadModel(ruleFileName, forestFileName)
	if err != nil {
		t.Fatal(err)
	}
	model.SetMinAgreement(0.6)

	if err := model.Reload(ruleFileName, forestFileName); err != nil {
		t.Fatal(err)
	}
	if got := model.Predict([]float64{24.8, 1}); got != 0 {
		t.Errorf("prediction %d after reload, want 0", got)
	}
}

//The vote and the name lookup share one lock acquisition, so a reload racing
//PredictName can never resolve a label against a dictionary the sample was
//not predicted with.
func TestModelPredictNameDuringReload(t *testing.T) {
	ruleFileName, forestFileName := writeModelFiles(t)
	model, err := LoadModel(ruleFileName, forestFileName)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ind := 0; ind < 50; ind++ {
			if err := model.Reload(ruleFileName, forestFileName); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
			if got := model.PredictName([]float64{24.8, 1}); got != "A" {
				t.Fatalf("predicted name %q, want A", got)
			}
		}
	}
}

func TestModelPendingSink(t *testing.T) {
	ruleFileName, forestFileName := writeModelFiles(t)
	model, err := LoadModel(ruleFileName, forestFileName)
	if err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	model.SetPendingSink(sink)

	model.Predict([]float64{24.8, 1})
	model.Predict([]float64{27.0, 0})

	if len(sink.labels) != 2 {
		t.Fatalf("sink saw %d samples, want 2", len(sink.labels))
	}
	if sink.labels[0] != 0 || sink.labels[1] != 1 {
		t.Errorf("sink labels %v, want [0 1]", sink.labels)
	}
	//two features at two bits pack into one byte
	if len(sink.codes[0]) != 1 {
		t.Errorf("sink codes take %d bytes, want 1", len(sink.codes[0]))
	}
	//bin 1 in the low bits, direct code 1 above it
	if sink.codes[0][0] != 0x05 {
		t.Errorf("first sample codes %#02x, want 0x05", sink.codes[0][0])
	}

	//a full sink only costs a log line
	sink.full = true
	if got := model.Predict([]float64{24.8, 1}); got != 0 {
		t.Errorf("prediction %d with a full sink, want 0", got)
	}
}
