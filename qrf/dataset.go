package qrf

import (
	"bufio"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"log"
	"os"
	"sort"
	"strings"
)

//Dataset is a labelled training set: one feature matrix of h samples by w
//columns and the h raw label names that go with the rows.
type Dataset struct {
	Features *mat.Dense
	Labels   []string
}

//ReadDataset loads the feature matrix from an npy file and the label column
//from a plain text file with one label per line.
func ReadDataset(featuresFileName, labelsFileName string) (ds Dataset) {
	log.Print("\ttry to load features <", featuresFileName, ">")
	ds.Features = ReadNpy(featuresFileName)
	log.Print("\ttry to load labels <", labelsFileName, ">")
	ds.Labels = ReadLabels(labelsFileName)

	if len(ds.Labels) != Height(ds.Features) {
		log.Panicf("the label height %d is not equal to the feature height %d", len(ds.Labels), Height(ds.Features))
	}
	return
}

//ReadNpy reads the content of an npy file.
func ReadNpy(fileName string) (denseMat *mat.Dense) {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		log.Fatal(err)
	}

	denseMat = &mat.Dense{}
	HandleError(r.Read(denseMat))
	return
}

//ReadLabels reads one label name per line; blank lines are skipped.
func ReadLabels(fileName string) (labels []string) {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { HandleError(f.Close()) }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			labels = append(labels, name)
		}
	}
	HandleError(scanner.Err())
	return
}

//LabelDictionary collects the distinct label names of the dataset sorted
//lexicographically, so every name gets a stable dense index.
func (ds Dataset) LabelDictionary() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range ds.Labels {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
