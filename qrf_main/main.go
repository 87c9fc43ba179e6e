package main

import (
	"encoding/json"
	"flag"
	"github.com/sbinet/npyio"
	"github.com/viettran-edgeAI/MCU-sub010/qrf"
	"log"
	"os"
)

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	qrf.HandleError(err)
	defer func() { qrf.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	qrf.HandleError(decoder.Decode(out))
}

type RulesConfig struct {
	FeaturesFileName string `json:"filename_features"`
	LabelsFileName   string `json:"filename_labels"`
	RuleFileName     string `json:"filename_rules"`
	LegacyFileName   string `json:"filename_rules_legacy"`
	Bits             uint8  `json:"bits"`
	ThreadsNum       int    `json:"threads_num"`
}

func rules(srcConfig string) {
	var rulesConfig RulesConfig
	decodeConfig(srcConfig, &rulesConfig)

	log.Println("load dataset")
	ds := qrf.ReadDataset(rulesConfig.FeaturesFileName, rulesConfig.LabelsFileName)

	rs := qrf.BuildRuleSet(ds, qrf.BuilderParams{
		Bits:       rulesConfig.Bits,
		ThreadsNum: rulesConfig.ThreadsNum,
	})

	rs.SaveCTG2(rulesConfig.RuleFileName)
	if rulesConfig.LegacyFileName != "" {
		rs.SaveCSV(rulesConfig.LegacyFileName)
	}

	quantized := rs.QuantizeDataset(ds.Features)
	for q, counts := range rs.BinOccupancy(quantized) {
		log.Print("feature ", q, " bin occupancy ", counts)
	}
}

type QuantizeConfig struct {
	FeaturesFileName  string `json:"filename_features"`
	RuleFileName      string `json:"filename_rules"`
	QuantizedFileName string `json:"filename_quantized"`
}

func quantize(srcConfig string) {
	var quantizeConfig QuantizeConfig
	decodeConfig(srcConfig, &quantizeConfig)

	rs, err := qrf.LoadRuleSetCSV(quantizeConfig.RuleFileName)
	qrf.HandleError(err)
	features := qrf.ReadNpy(quantizeConfig.FeaturesFileName)

	quantized := rs.QuantizeDataset(features)

	dst, err := os.Create(quantizeConfig.QuantizedFileName)
	qrf.HandleError(err)
	defer func() { qrf.HandleError(dst.Close()) }()
	qrf.HandleError(npyio.Write(dst, qrf.QuantizedMatrix(quantized)))
}

type PredictConfig struct {
	FeaturesFileName   string  `json:"filename_features"`
	LabelsFileName     string  `json:"filename_labels"`
	RuleFileName       string  `json:"filename_rules"`
	ForestFileName     string  `json:"filename_forest"`
	PredictionFileName string  `json:"filename_prediction"`
	MinAgreement       float64 `json:"min_agreement"`
}

func predict(srcConfig string) {
	var predictConfig PredictConfig
	decodeConfig(srcConfig, &predictConfig)

	model, err := qrf.LoadModel(predictConfig.RuleFileName, predictConfig.ForestFileName)
	qrf.HandleError(err)
	model.SetMinAgreement(predictConfig.MinAgreement)

	features := qrf.ReadNpy(predictConfig.FeaturesFileName)
	h, w := features.Dims()
	if w != model.NumFeatures() {
		log.Panicf("dataset with %d features against a model with %d", w, model.NumFeatures())
	}

	labelNames := model.Labels()
	raw := make([]float64, w)
	predicted := make([]string, h)
	codes := make([]float64, h)
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			raw[q] = features.At(p, q)
		}
		label := model.Predict(raw)
		codes[p] = float64(label)
		if int(label) < len(labelNames) {
			predicted[p] = labelNames[label]
		}
	}

	if predictConfig.LabelsFileName != "" {
		expected := qrf.ReadLabels(predictConfig.LabelsFileName)
		if len(expected) != h {
			log.Panicf("the label height %d is not equal to the feature height %d", len(expected), h)
		}
		hits := 0
		for p := range expected {
			if predicted[p] == expected[p] {
				hits++
			}
		}
		log.Printf("accuracy %d/%d = %f\n", hits, h, float64(hits)/float64(h))
	}

	if predictConfig.PredictionFileName != "" {
		dst, err := os.Create(predictConfig.PredictionFileName)
		qrf.HandleError(err)
		defer func() { qrf.HandleError(dst.Close()) }()
		qrf.HandleError(npyio.Write(dst, codes))
	}
}

type GraphConfig struct {
	RuleFileName      string `json:"filename_rules"`
	ForestFileName    string `json:"filename_forest"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix"`
}

func graph(srcConfig string) {
	var graphConfig GraphConfig
	decodeConfig(srcConfig, &graphConfig)

	ruleSet, err := qrf.LoadCompactRuleSet(graphConfig.RuleFileName)
	qrf.HandleError(err)
	forest, err := qrf.LoadForest(graphConfig.ForestFileName, ruleSet.NumFeatures())
	qrf.HandleError(err)

	forest.RenderTrees(graphConfig.DumpPrefix, graphConfig.FigureType, graphConfig.PicturesDirectory)
}

type PendingConfig struct {
	PendingFileName string `json:"filename_pending"`
}

func pending(srcConfig string) {
	var pendingConfig PendingConfig
	decodeConfig(srcConfig, &pendingConfig)

	samples, err := qrf.ReadPendingLog(pendingConfig.PendingFileName)
	qrf.HandleError(err)
	for ind, sample := range samples {
		log.Printf("sample %d: when=%d label=%d codes=%x\n", ind, sample.When, sample.Label, sample.Codes)
	}
	log.Print(len(samples), " pending samples")
}

func main() {
	runMode := flag.String("mode", "rules", "you can select either 'rules', 'quantize', 'predict', 'graph' or 'pending' modes")
	config := flag.String("config", "qrf_config.json", "a config file for the run of the program")

	flag.Parse()

	map[string]func(string){
		"rules":    rules,
		"quantize": quantize,
		"predict":  predict,
		"graph":    graph,
		"pending":  pending,
	}[*runMode](*config)
}
