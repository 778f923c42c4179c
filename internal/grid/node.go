package grid

import "gridweaver/internal/core"

// Node is one grid cell. Col, Row and WorldPosition never change after the
// grid is built; walkability and occupancy are owned by the Grid and read
// through its methods.
type Node struct {
	Col, Row      int
	WorldPosition core.Vector3D

	walkable bool
	occupant core.AgentID

	// Search scratch. Only meaningful while Stamp matches the running search.
	G, H      int
	Parent    *Node
	Stamp     uint64
	Closed    bool
	heapIndex int
}

func newNode(col, row int, pos core.Vector3D, walkable bool) *Node {
	return &Node{
		Col:           col,
		Row:           row,
		WorldPosition: pos,
		walkable:      walkable,
		occupant:      core.InvalidAgentID,
		heapIndex:     -1,
	}
}

// F returns the total estimated cost through this node.
func (n *Node) F() int {
	return n.G + n.H
}

// HeapIndex returns the node's slot in the open set.
func (n *Node) HeapIndex() int {
	return n.heapIndex
}

// SetHeapIndex records the node's slot in the open set.
func (n *Node) SetHeapIndex(i int) {
	n.heapIndex = i
}

// CompareTo ranks nodes for a max-heap: a lower f-cost outranks a higher
// one, and on equal f the lower h-cost wins.
func (n *Node) CompareTo(other *Node) int {
	compare := cmpInt(n.F(), other.F())
	if compare == 0 {
		compare = cmpInt(n.H, other.H)
	}
	return -compare
}

// Reset prepares the scratch fields for a new search identified by stamp.
func (n *Node) Reset(stamp uint64) {
	n.G = 0
	n.H = 0
	n.Parent = nil
	n.Closed = false
	n.heapIndex = -1
	n.Stamp = stamp
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
