package qrf

import (
	"fmt"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//Tree is a decision tree stored as an array of packed nodes with the root at
//index 0.
type Tree struct {
	Nodes []TreeNode
}

//Traverse walks the tree over one quantized sample and returns the label of
//the leaf it lands on. The walk terminates because validate guarantees every
//child index is strictly greater than its parent.
func (tree Tree) Traverse(codes *PackedBuffer, cache []uint16) uint8 {
	ind := 0
	for !tree.Nodes[ind].IsLeaf() {
		node := tree.Nodes[ind]
		if uint16(codes.At(node.FeatureInd())) <= cache[node.ThresholdSlot()] {
			ind = node.LeftChild()
		} else {
			ind = node.RightChild()
		}
	}
	return tree.Nodes[ind].Label()
}

//validate checks the structural invariants the traversal loop relies on:
//children of every internal node sit strictly after the node and inside the
//array, feature indices address the rule set and threshold slots address the
//cache. A tree that passes cannot loop or index out of range at predict time.
func (tree Tree) validate(numFeatures, cacheLen int) error {
	if len(tree.Nodes) == 0 {
		return fmt.Errorf("empty tree: %w", ErrNodeChildOutOfRange)
	}
	if len(tree.Nodes) > MaxNodesPerTree {
		return fmt.Errorf("tree has %d nodes, limit is %d: %w", len(tree.Nodes), MaxNodesPerTree, ErrNodeChildOutOfRange)
	}
	for ind, node := range tree.Nodes {
		if node.IsLeaf() {
			continue
		}
		left := node.LeftChild()
		if left <= ind || left+1 >= len(tree.Nodes) {
			return fmt.Errorf("node %d references children %d, %d of %d: %w", ind, left, left+1, len(tree.Nodes), ErrNodeChildOutOfRange)
		}
		if node.FeatureInd() >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d: %w", ind, node.FeatureInd(), numFeatures, ErrFeatureCountMismatch)
		}
		if node.ThresholdSlot() >= cacheLen {
			return fmt.Errorf("node %d references threshold slot %d of %d: %w", ind, node.ThresholdSlot(), cacheLen, ErrThresholdSlotOutOfRange)
		}
	}
	return nil
}

//Depth returns the length of the longest root-to-leaf path.
func (tree Tree) Depth() int {
	return tree.depthFrom(0)
}

func (tree Tree) depthFrom(ind int) int {
	if tree.Nodes[ind].IsLeaf() {
		return 1
	}
	left := tree.depthFrom(tree.Nodes[ind].LeftChild())
	right := tree.depthFrom(tree.Nodes[ind].RightChild())
	if left > right {
		return left + 1
	}
	return right + 1
}

//GraphDescription returns the label of a node for tree rendering as a graph.
func (node TreeNode) GraphDescription(cache []uint16) string {
	if node.IsLeaf() {
		return fmt.Sprintf("label %d", node.Label())
	}
	return fmt.Sprintf("f_%d <= %d", node.FeatureInd(), cache[node.ThresholdSlot()])
}

func recurrentDraw(g *cgraph.Graph, tree Tree, cache []uint16, nodeNumber int, parentNode *cgraph.Node) {
	currentNode, err := g.CreateNode(fmt.Sprint(nodeNumber))
	HandleError(err)

	if parentNode != nil {
		g.CreateEdge("", parentNode, currentNode)
	}

	node := tree.Nodes[nodeNumber]
	currentNode.Set("label", node.GraphDescription(cache))
	if node.IsLeaf() {
		currentNode.Set("shape", "box")
	} else {
		recurrentDraw(g, tree, cache, node.LeftChild(), currentNode)
		recurrentDraw(g, tree, cache, node.RightChild(), currentNode)
	}
}

//DrawGraph renders the tree as a graphviz graph with threshold codes on the
//internal nodes.
func (tree Tree) DrawGraph(cache []uint16) (*graphviz.Graphviz, *cgraph.Graph) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	HandleError(err)

	recurrentDraw(graph, tree, cache, 0, nil)

	return graphViz, graph
}
