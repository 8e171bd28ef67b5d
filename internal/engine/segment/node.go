package segment

// Status is the lifecycle state of a SegmentNode.
type Status int

const (
	// Initial is assigned to a freshly created leaf before a worker has
	// been spawned for it.
	Initial Status = iota
	// InUse marks a leaf currently owned by a live, downloading worker.
	InUse
	// RefreshRequested marks a leaf whose worker has been asked to shrink
	// its range and hand the tail to a new or reused worker; at most one
	// refresh may be outstanding per leaf at a time.
	RefreshRequested
	// ReuseRequested marks a leaf created for a worker that is being
	// reused from elsewhere, awaiting its handshake.
	ReuseRequested
	// OutDated marks a non-leaf node whose work has been delegated to its
	// children.
	OutDated
	// Complete marks a leaf whose full range has been written to disk.
	Complete
)

func (s Status) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case InUse:
		return "IN_USE"
	case RefreshRequested:
		return "REFRESH_REQUESTED"
	case ReuseRequested:
		return "REUSE_REQUESTED"
	case OutDated:
		return "OUT_DATED"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// NodeID indexes into a Tree's node arena; the first node allocated gets
// ID 0. Use NoNode as the explicit "absent" sentinel.
type NodeID int

// NoNode is the sentinel for "no node" (absent parent, absent child).
const NoNode NodeID = -1

// Node is one node of the segment tree. Node stores parent/child
// relationships as NodeID indices into the owning Tree's arena rather than
// pointers, which avoids reference cycles and keeps the tree cheap to
// reason about when nodes are collapsed and recreated.
type Node struct {
	Segment          Segment
	Parent           NodeID
	Left             NodeID
	Right            NodeID
	ConnectionNumber int // -1 when unset
	Status           Status
	LastUpdateMillis int64
}

func (n *Node) isLeaf() bool {
	return n.Left == NoNode && n.Right == NoNode
}
