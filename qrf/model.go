package qrf

import (
	"fmt"
	"log"
	"sync"
)

//Model ties a compact rule set, a forest and one reusable packed buffer into
//a single prediction handle. Predict and Reload serialize on one mutex, so a
//reload never observes a half-written sample buffer and a predict never runs
//against a half-swapped model.
type Model struct {
	mu     sync.Mutex
	rules  *CompactRuleSet
	forest *Forest
	codes  *PackedBuffer
	sink   PendingSink
}

//LoadModel reads a CTG2 rule file and a forest file and wires them together.
//Nothing is installed unless both halves load, validate and agree on the code
//width.
func LoadModel(ruleFileName, forestFileName string) (*Model, error) {
	rules, forest, codes, err := loadModelParts(ruleFileName, forestFileName)
	if err != nil {
		return nil, err
	}
	return &Model{rules: rules, forest: forest, codes: codes}, nil
}

func loadModelParts(ruleFileName, forestFileName string) (*CompactRuleSet, *Forest, *PackedBuffer, error) {
	rules, err := LoadCompactRuleSet(ruleFileName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rule file %s: %w", ruleFileName, err)
	}
	forest, err := LoadForest(forestFileName, rules.NumFeatures())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forest file %s: %w", forestFileName, err)
	}
	if forest.Bits != rules.Bits {
		return nil, nil, nil, fmt.Errorf("forest codes are %d bits, rules are %d: %w", forest.Bits, rules.Bits, ErrMalformedHeader)
	}
	return rules, forest, rules.NewBuffer(), nil
}

//NumFeatures returns the number of raw features one sample carries.
func (model *Model) NumFeatures() int {
	model.mu.Lock()
	defer model.mu.Unlock()
	return model.rules.NumFeatures()
}

//Labels returns a copy of the label dictionary.
func (model *Model) Labels() []string {
	model.mu.Lock()
	defer model.mu.Unlock()
	return append([]string(nil), model.rules.Labels...)
}

//SetMinAgreement sets the vote fraction below which the model answers
//NoPrediction.
func (model *Model) SetMinAgreement(fraction float64) {
	model.mu.Lock()
	defer model.mu.Unlock()
	model.forest.MinAgreement = fraction
}

//SetPendingSink installs a sink that receives every predicted sample in
//quantized form. A nil sink detaches.
func (model *Model) SetPendingSink(sink PendingSink) {
	model.mu.Lock()
	defer model.mu.Unlock()
	model.sink = sink
}

//Predict quantizes one raw sample and returns the majority label of the
//forest. A sample of the wrong width answers NoPrediction; everything else
//about the call is total and allocation free. When a pending sink is
//installed the quantized sample is offered to it after the vote; the offer
//never blocks the caller.
func (model *Model) Predict(raw []float64) uint8 {
	model.mu.Lock()
	defer model.mu.Unlock()
	return model.predictLocked(raw)
}

func (model *Model) predictLocked(raw []float64) uint8 {
	if len(raw) != model.rules.NumFeatures() {
		return NoPrediction
	}
	model.rules.Quantize(raw, model.codes)
	label := model.forest.Predict(model.codes)

	if model.sink != nil {
		if !model.sink.Offer(model.codes.Bytes(), label) {
			log.Print("pending sink is full, sample dropped")
		}
	}
	return label
}

//PredictName resolves the majority label to its original name; an empty
//string stands for no prediction. The vote and the lookup happen under one
//lock acquisition, so the name always comes from the dictionary the sample
//was predicted against, reloads notwithstanding.
func (model *Model) PredictName(raw []float64) string {
	model.mu.Lock()
	defer model.mu.Unlock()
	label := model.predictLocked(raw)
	if int(label) >= len(model.rules.Labels) {
		return ""
	}
	return model.rules.Labels[label]
}

//Reload replaces the installed model with freshly loaded files. The
//replacement is loaded and validated completely before the swap; on any
//error the installed model keeps serving untouched.
func (model *Model) Reload(ruleFileName, forestFileName string) error {
	rules, forest, buffer, err := loadModelParts(ruleFileName, forestFileName)
	if err != nil {
		return err
	}

	model.mu.Lock()
	defer model.mu.Unlock()
	forest.MinAgreement = model.forest.MinAgreement
	model.rules = rules
	model.forest = forest
	model.codes = buffer
	return nil
}
