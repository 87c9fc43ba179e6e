package qrf

import "errors"

//Hard ceilings of the packed model representation. They are sized to the bit
//widths of the node layout and checked on every load path.
const (
	MaxFeatures     = 1024
	MaxLabels       = 31
	MaxNodesPerTree = 2048
	MaxTrees        = 255
	MaxBits         = 8
	DefaultBits     = 2
)

//NoPrediction is the label value returned when no tree casts a countable vote
//or the vote does not reach the required agreement.
const NoPrediction uint8 = 255

var (
	ErrMalformedHeader         = errors.New("malformed header")
	ErrFeatureCountMismatch    = errors.New("feature count mismatch")
	ErrPatternIndexOutOfRange  = errors.New("pattern index out of range")
	ErrNodeChildOutOfRange     = errors.New("node child out of range")
	ErrThresholdSlotOutOfRange = errors.New("threshold slot out of range")
	ErrChecksumMismatch        = errors.New("checksum mismatch")
)
