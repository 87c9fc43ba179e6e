package qrf

import (
	"gonum.org/v1/gonum/mat"
	"log"
)

//HandleError panics when the given error is not nil. It is used by the offline
//tooling for I/O failures there is no sensible way to recover from.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

//Height returns the number of rows of a dense matrix.
func Height(m *mat.Dense) int {
	h, _ := m.Dims()
	return h
}
