package qrf

//NodeLayoutVersion identifies the current packed node layout. Loaders reject
//files written with a different layout.
const NodeLayoutVersion = 2

//TreeNode is one node of a decision tree packed into a fixed-width word.
//Layout version 2, from the lowest bit up:
//
//	bits  0..9   feature index      (10 bits, up to MaxFeatures)
//	bits 10..17  leaf label         (8 bits)
//	bits 18..20  threshold slot     (3 bits, cache index)
//	bit  21      leaf flag
//	bits 22..32  left child index   (11 bits, up to MaxNodesPerTree)
//
//The right child always sits directly after the left one in the node array,
//so only the left index is stored.
type TreeNode uint64

const (
	featureMask = 0x3FF
	labelShift  = 10
	slotShift   = 18
	slotMask    = 0x7
	leafShift   = 21
	childShift  = 22
	childMask   = 0x7FF
)

//NewSplitNode packs an internal node comparing the given feature against the
//threshold cache slot. Codes less than or equal to the slot value route to the
//left child.
func NewSplitNode(featureInd, thresholdSlot, leftChild int) TreeNode {
	return TreeNode(featureInd&featureMask) |
		TreeNode(thresholdSlot&slotMask)<<slotShift |
		TreeNode(leftChild&childMask)<<childShift
}

//NewLeafNode packs a leaf carrying the given label.
func NewLeafNode(label uint8) TreeNode {
	return TreeNode(label)<<labelShift | 1<<leafShift
}

//FeatureInd returns the index of the feature this node splits on.
func (node TreeNode) FeatureInd() int {
	return int(node & featureMask)
}

//Label returns the label of a leaf node.
func (node TreeNode) Label() uint8 {
	return uint8(node >> labelShift)
}

//ThresholdSlot returns the threshold cache slot of an internal node.
func (node TreeNode) ThresholdSlot() int {
	return int(node >> slotShift & slotMask)
}

//IsLeaf reports whether the node is a leaf.
func (node TreeNode) IsLeaf() bool {
	return node>>leafShift&1 == 1
}

//LeftChild returns the array index of the left child.
func (node TreeNode) LeftChild() int {
	return int(node >> childShift & childMask)
}

//RightChild returns the array index of the right child, which by construction
//directly follows the left one.
func (node TreeNode) RightChild() int {
	return node.LeftChild() + 1
}
