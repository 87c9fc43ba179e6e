// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"io"
	"log"
	"sync"
	"unsafe"

	qrf "github.com/viettran-edgeAI/MCU-sub010/qrf"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	models            = make(map[uint64]*qrf.Model)

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeModel(model *qrf.Model) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	models[handle] = model
	nextHandle++
	return handle
}

func fetchModel(handle uint64) (*qrf.Model, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	model, ok := models[handle]
	if !ok {
		return nil, errors.New("invalid model handle")
	}
	return model, nil
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

//export LoadModel
func LoadModel(ruleFile, forestFile *C.char) C.ulonglong {
	setLastError(nil)
	logSilenceOnce.Do(func() {
		log.SetOutput(io.Discard)
	})

	model, err := qrf.LoadModel(C.GoString(ruleFile), C.GoString(forestFile))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export ReloadModel
func ReloadModel(handle C.ulonglong, ruleFile, forestFile *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := model.Reload(C.GoString(ruleFile), C.GoString(forestFile)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export SetMinAgreement
func SetMinAgreement(handle C.ulonglong, fraction C.double) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	model.SetMinAgreement(float64(fraction))
	return 0
}

//export Predict
func Predict(handle C.ulonglong, featuresPtr *C.double, count C.int) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return -1
	}

	raw, err := copyFloatSlice(featuresPtr, int(count))
	if err != nil {
		setLastError(err)
		return -2
	}
	if len(raw) != model.NumFeatures() {
		setLastError(errors.New("feature count does not match the model"))
		return -3
	}

	return C.int(model.Predict(raw))
}

//export PredictName
func PredictName(handle C.ulonglong, featuresPtr *C.double, count C.int) *C.char {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return nil
	}

	raw, err := copyFloatSlice(featuresPtr, int(count))
	if err != nil {
		setLastError(err)
		return nil
	}
	if len(raw) != model.NumFeatures() {
		setLastError(errors.New("feature count does not match the model"))
		return nil
	}

	name := model.PredictName(raw)
	if name == "" {
		return nil
	}
	return C.CString(name)
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(models, uint64(handle))
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
