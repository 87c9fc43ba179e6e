package qrf

import (
	"errors"
	"os"
	"path"
	"testing"
)

func leafTree(label uint8) Tree {
	return Tree{Nodes: []TreeNode{NewLeafNode(label)}}
}

func mustForest(t *testing.T, trees []Tree, numLabels int, bits uint8, numFeatures int) *Forest {
	t.Helper()
	forest, err := NewForest(trees, numLabels, bits, numFeatures)
	if err != nil {
		t.Fatal(err)
	}
	return forest
}

//Predict counts votes in an array sized for MaxLabels, so the constructor
//must reject label counts the vote array cannot hold.
func TestNewForestRejectsBadShape(t *testing.T) {
	if _, err := NewForest([]Tree{leafTree(40)}, 64, 2, 1); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("64 labels: err = %v, want ErrMalformedHeader", err)
	}
	if _, err := NewForest([]Tree{leafTree(0)}, 0, 2, 1); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("0 labels: err = %v, want ErrMalformedHeader", err)
	}
	if _, err := NewForest(nil, 3, 2, 1); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("no trees: err = %v, want ErrMalformedHeader", err)
	}
	if _, err := NewForest([]Tree{leafTree(0)}, 3, 9, 1); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("9-bit codes: err = %v, want ErrMalformedHeader", err)
	}
}

func TestForestMajorityVote(t *testing.T) {
	forest := mustForest(t, []Tree{leafTree(0), leafTree(1), leafTree(1)}, 3, 2, 1)
	codes := NewPackedBuffer(1, 2)
	if got := forest.Predict(codes); got != 1 {
		t.Errorf("votes 0,1,1 elect %d, want 1", got)
	}
}

func TestForestTieBreak(t *testing.T) {
	forest := mustForest(t, []Tree{leafTree(2), leafTree(1), leafTree(0)}, 3, 2, 1)
	codes := NewPackedBuffer(1, 2)
	//one vote each, the smallest label wins the tie
	if got := forest.Predict(codes); got != 0 {
		t.Errorf("votes 2,1,0 elect %d, want 0", got)
	}
}

func TestForestDiscardsUnknownVotes(t *testing.T) {
	forest := mustForest(t, []Tree{leafTree(200), leafTree(250)}, 3, 2, 1)
	codes := NewPackedBuffer(1, 2)
	if got := forest.Predict(codes); got != NoPrediction {
		t.Errorf("out of range votes elect %d, want NoPrediction", got)
	}

	mixed := mustForest(t, []Tree{leafTree(200), leafTree(2)}, 3, 2, 1)
	if got := mixed.Predict(codes); got != 2 {
		t.Errorf("one countable vote elects %d, want 2", got)
	}
}

func TestForestMinAgreement(t *testing.T) {
	forest := mustForest(t, []Tree{leafTree(0), leafTree(1), leafTree(1)}, 3, 2, 1)
	codes := NewPackedBuffer(1, 2)

	forest.MinAgreement = 0.9
	if got := forest.Predict(codes); got != NoPrediction {
		t.Errorf("two of three votes at 0.9 agreement elect %d, want NoPrediction", got)
	}

	forest.MinAgreement = 0.5
	if got := forest.Predict(codes); got != 1 {
		t.Errorf("two of three votes at 0.5 agreement elect %d, want 1", got)
	}
}

func splitForest(t *testing.T) *Forest {
	trees := []Tree{
		{Nodes: []TreeNode{NewSplitNode(0, 1, 1), NewLeafNode(0), NewLeafNode(1)}},
		{Nodes: []TreeNode{NewSplitNode(1, 0, 1), NewLeafNode(1), NewLeafNode(2)}},
		leafTree(1),
	}
	return mustForest(t, trees, 3, 2, 2)
}

func TestForestFileRoundTrip(t *testing.T) {
	forest := splitForest(t)
	filename := path.Join(t.TempDir(), "forest.bin")
	forest.Save(filename)

	loaded, err := LoadForest(filename, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Trees) != len(forest.Trees) || loaded.NumLabels != forest.NumLabels || loaded.Bits != forest.Bits {
		t.Fatalf("loaded shape %d trees, %d labels, %d bits", len(loaded.Trees), loaded.NumLabels, loaded.Bits)
	}

	codes := NewPackedBuffer(2, 2)
	for c0 := uint8(0); c0 < 4; c0++ {
		for c1 := uint8(0); c1 < 4; c1++ {
			codes.Set(0, c0)
			codes.Set(1, c1)
			if got, want := loaded.Predict(codes), forest.Predict(codes); got != want {
				t.Errorf("codes (%d,%d): loaded predicts %d, original %d", c0, c1, got, want)
			}
		}
	}
}

func TestLoadForestDetectsCorruption(t *testing.T) {
	forest := splitForest(t)
	filename := path.Join(t.TempDir(), "forest.bin")
	forest.Save(filename)

	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}

	//flip one payload bit
	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)/2] ^= 0x40
	if err := os.WriteFile(filename, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadForest(filename, 2); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("corrupt payload: err = %v, want ErrChecksumMismatch", err)
	}

	//wrong magic
	wrongMagic := append([]byte(nil), raw...)
	wrongMagic[0] ^= 0xFF
	if err := os.WriteFile(filename, wrongMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadForest(filename, 2); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("wrong magic: err = %v, want ErrMalformedHeader", err)
	}

	//truncation
	if err := os.WriteFile(filename, raw[:5], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadForest(filename, 2); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("truncated file: err = %v, want ErrMalformedHeader", err)
	}
}

func TestLoadForestValidatesTrees(t *testing.T) {
	//a forest whose tree references feature 5 cannot run against a rule
	//set with 2 features
	trees := []Tree{{Nodes: []TreeNode{NewSplitNode(5, 1, 1), NewLeafNode(0), NewLeafNode(1)}}}
	forest := mustForest(t, trees, 2, 2, 6)

	filename := path.Join(t.TempDir(), "forest.bin")
	forest.Save(filename)

	if _, err := LoadForest(filename, 2); !errors.Is(err, ErrFeatureCountMismatch) {
		t.Errorf("err = %v, want ErrFeatureCountMismatch", err)
	}
}
