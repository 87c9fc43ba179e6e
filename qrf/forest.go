package qrf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"github.com/goccy/go-graphviz"
	"hash/crc32"
	"io"
	"os"
	"path"
)

//ForestMagic opens every forest file, the ASCII bytes "FORS".
const ForestMagic uint32 = 0x464F5253

//Forest is a committee of packed decision trees sharing one threshold cache.
type Forest struct {
	Trees     []Tree
	NumLabels int
	Bits      uint8
	Cache     []uint16

	//MinAgreement is the fraction of countable votes the winning label has
	//to collect; below it the forest answers NoPrediction. Zero disables
	//the check. It is a runtime setting and is not persisted.
	MinAgreement float64
}

//NewForest assembles a forest, bounds the committee shape against the model
//ceilings and validates every tree against the given feature count. Predict
//counts votes in a fixed array sized for MaxLabels, so a label count past the
//ceiling is rejected here rather than trusted.
func NewForest(trees []Tree, numLabels int, bits uint8, numFeatures int) (*Forest, error) {
	if len(trees) < 1 || len(trees) > MaxTrees {
		return nil, fmt.Errorf("forest with %d trees: %w", len(trees), ErrMalformedHeader)
	}
	if numLabels < 1 || numLabels > MaxLabels {
		return nil, fmt.Errorf("forest with %d labels: %w", numLabels, ErrMalformedHeader)
	}
	if bits < 1 || bits > MaxBits {
		return nil, fmt.Errorf("forest with %d-bit codes: %w", bits, ErrMalformedHeader)
	}
	forest := &Forest{
		Trees:     trees,
		NumLabels: numLabels,
		Bits:      bits,
		Cache:     BuildThresholdCache(bits),
	}
	for ind, tree := range forest.Trees {
		if err := tree.validate(numFeatures, len(forest.Cache)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", ind, err)
		}
	}
	return forest, nil
}

//Predict runs every tree over one quantized sample and returns the majority
//label. Votes for labels outside 0..NumLabels-1 are discarded. On a tie the
//smallest label wins. When no countable vote is cast, or the winner falls
//short of MinAgreement, the result is NoPrediction. The method allocates
//nothing.
func (forest *Forest) Predict(codes *PackedBuffer) uint8 {
	var votes [32]uint16

	for _, tree := range forest.Trees {
		label := tree.Traverse(codes, forest.Cache)
		if int(label) < forest.NumLabels {
			votes[label]++
		}
	}

	total := 0
	best := 0
	bestLabel := NoPrediction
	for label := 0; label < forest.NumLabels; label++ {
		total += int(votes[label])
		if int(votes[label]) > best {
			best = int(votes[label])
			bestLabel = uint8(label)
		}
	}

	if total == 0 {
		return NoPrediction
	}
	if forest.MinAgreement > 0 && float64(best) < forest.MinAgreement*float64(total) {
		return NoPrediction
	}
	return bestLabel
}

//Write serializes the forest. The payload after the magic carries the node
//layout version, the committee shape and the node arrays; a CRC-32 of the
//payload closes the file so a load can tell truncation and bit rot from a
//well-formed model.
func (forest *Forest) Write(w io.Writer) error {
	var payload bytes.Buffer
	payload.WriteByte(NodeLayoutVersion)
	binary.Write(&payload, binary.LittleEndian, uint16(len(forest.Trees)))
	binary.Write(&payload, binary.LittleEndian, uint16(forest.NumLabels))
	payload.WriteByte(forest.Bits)
	for _, tree := range forest.Trees {
		binary.Write(&payload, binary.LittleEndian, uint32(len(tree.Nodes)))
		for _, node := range tree.Nodes {
			binary.Write(&payload, binary.LittleEndian, uint64(node))
		}
	}

	if err := binary.Write(w, binary.LittleEndian, ForestMagic); err != nil {
		return err
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc32.ChecksumIEEE(payload.Bytes()))
}

//Save writes the forest to a file.
func (forest *Forest) Save(filename string) {
	dest, err := os.Create(filename)
	HandleError(err)
	defer func() { HandleError(dest.Close()) }()
	HandleError(forest.Write(dest))
}

//ReadForest deserializes a forest and validates it against the feature count
//of the rule set it will run with.
func ReadForest(r io.Reader, numFeatures int) (*Forest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4+4 {
		return nil, fmt.Errorf("forest file of %d bytes: %w", len(raw), ErrMalformedHeader)
	}

	magic := binary.LittleEndian.Uint32(raw[:4])
	if magic != ForestMagic {
		return nil, fmt.Errorf("forest magic %08x: %w", magic, ErrMalformedHeader)
	}

	payload := raw[4 : len(raw)-4]
	storedSum := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(payload) != storedSum {
		return nil, fmt.Errorf("forest payload: %w", ErrChecksumMismatch)
	}

	if len(payload) < 6 {
		return nil, fmt.Errorf("forest payload of %d bytes: %w", len(payload), ErrMalformedHeader)
	}
	if payload[0] != NodeLayoutVersion {
		return nil, fmt.Errorf("node layout version %d, want %d: %w", payload[0], NodeLayoutVersion, ErrMalformedHeader)
	}
	numTrees := int(binary.LittleEndian.Uint16(payload[1:3]))
	numLabels := int(binary.LittleEndian.Uint16(payload[3:5]))
	bits := payload[5]
	if numTrees < 1 || numTrees > MaxTrees {
		return nil, fmt.Errorf("forest with %d trees: %w", numTrees, ErrMalformedHeader)
	}
	if numLabels < 1 || numLabels > MaxLabels {
		return nil, fmt.Errorf("forest with %d labels: %w", numLabels, ErrMalformedHeader)
	}
	if bits < 1 || bits > MaxBits {
		return nil, fmt.Errorf("forest with %d-bit codes: %w", bits, ErrMalformedHeader)
	}

	trees := make([]Tree, 0, numTrees)
	rest := payload[6:]
	for treeInd := 0; treeInd < numTrees; treeInd++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("truncated tree %d: %w", treeInd, ErrMalformedHeader)
		}
		nodeCount := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if nodeCount < 1 || nodeCount > MaxNodesPerTree {
			return nil, fmt.Errorf("tree %d with %d nodes: %w", treeInd, nodeCount, ErrMalformedHeader)
		}
		if len(rest) < nodeCount*8 {
			return nil, fmt.Errorf("truncated tree %d: %w", treeInd, ErrMalformedHeader)
		}
		nodes := make([]TreeNode, nodeCount)
		for nodeInd := range nodes {
			nodes[nodeInd] = TreeNode(binary.LittleEndian.Uint64(rest[nodeInd*8:]))
		}
		rest = rest[nodeCount*8:]
		trees = append(trees, Tree{Nodes: nodes})
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d trees: %w", len(rest), numTrees, ErrMalformedHeader)
	}

	return NewForest(trees, numLabels, bits, numFeatures)
}

//LoadForest reads a forest from a file.
func LoadForest(filename string, numFeatures int) (*Forest, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(source.Close()) }()
	return ReadForest(source, numFeatures)
}

//RenderTrees draws every tree of the forest into the given directory.
func (forest *Forest) RenderTrees(dumpPrefix, figureType, picturesDirectory string) {
	graphvizType := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]

	for graphInd, currentTree := range forest.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph := currentTree.DrawGraph(forest.Cache)
		HandleError(graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename)))
	}
}
