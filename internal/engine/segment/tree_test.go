package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFromMissingBytes_SingleRangeCoversExactly(t *testing.T) {
	const contentLength = 4 * 1024 * 1024
	tree := BuildFromMissingBytes(contentLength, 4, []Segment{New(0, contentLength-1)})

	leaves := tree.Leaves()
	require.Len(t, leaves, 4)

	var prevEnd int64 = -1
	seen := map[int]bool{}
	for _, id := range leaves {
		n := tree.Node(id)
		require.Equal(t, prevEnd+1, n.Segment.Start, "leaves must be contiguous")
		require.Equal(t, Initial, n.Status)
		require.False(t, seen[n.ConnectionNumber], "connection numbers must be distinct")
		seen[n.ConnectionNumber] = true
		prevEnd = n.Segment.End
	}
	require.Equal(t, int64(contentLength-1), prevEnd)
}

func TestBuildFromMissingBytes_Empty(t *testing.T) {
	tree := BuildFromMissingBytes(100, 4, nil)
	require.Equal(t, 0, tree.LeafCount())
}

func TestBuildFromMissingBytes_RecoveryPathNoPreSplit(t *testing.T) {
	missing := []Segment{New(0, 999_999), New(2_000_000, 2_999_999)}
	tree := BuildFromMissingBytes(5_000_000, 4, missing)

	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	require.Equal(t, missing[0], tree.Node(leaves[0]).Segment)
	require.Equal(t, missing[1], tree.Node(leaves[1]).Segment)
	require.Equal(t, 0, tree.Node(leaves[0]).ConnectionNumber)
	require.Equal(t, 1, tree.Node(leaves[1]).ConnectionNumber)
}

func TestSplit_RefusesBelowMinimum(t *testing.T) {
	tree := BuildFromMissingBytes(1_000_000, 1, []Segment{New(0, 999_999)})
	leaf := tree.Leaves()[0]
	tree.SetStatus(leaf, InUse)

	// 1,000,000 bytes split in half gives two 500,000-byte halves, right
	// at the minimum — should succeed.
	_, err := tree.Split()
	require.NoError(t, err)
	require.Equal(t, 2, tree.LeafCount())

	// Now try to split a leaf one byte short of 2*minimum: refused.
	tiny := BuildFromMissingBytes(2*MinimumSegmentLength-1, 1, []Segment{New(0, 2*MinimumSegmentLength-2)})
	only := tiny.Leaves()[0]
	tiny.SetStatus(only, InUse)
	_, err = tiny.Split()
	require.ErrorIs(t, err, ErrSegmentTooSmall)
}

func TestSplit_ExactlyTwiceMinimumSucceeds(t *testing.T) {
	length := int64(2 * MinimumSegmentLength)
	tree := BuildFromMissingBytes(length, 1, []Segment{New(0, length-1)})
	leaf := tree.Leaves()[0]
	tree.SetStatus(leaf, InUse)

	result, err := tree.Split()
	require.NoError(t, err)
	require.Equal(t, MinimumSegmentLength, tree.Node(result.Right).Segment.Length())
}

func TestSplitSegmentNode_LeftInheritsConnectionNumber(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 1, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]
	original := tree.Node(leaf).ConnectionNumber

	result, err := tree.SplitSegmentNode(leaf, true)
	require.NoError(t, err)
	require.Equal(t, original, tree.Node(result.Left).ConnectionNumber)
	require.NotEqual(t, original, tree.Node(result.Right).ConnectionNumber)
	require.Equal(t, OutDated, tree.Status(result.Parent))
}

func TestSplitSegmentNode_DeferredConnectionNumber(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 1, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]

	result, err := tree.SplitSegmentNode(leaf, false)
	require.NoError(t, err)
	require.Equal(t, -1, tree.Node(result.Right).ConnectionNumber)

	tree.SetConnectionNumber(result.Right, 7)
	require.Equal(t, 7, tree.Node(result.Right).ConnectionNumber)
}

func TestCollapseSplit_RestoresSingleLeaf(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 1, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]
	before := tree.LeafCount()

	result, err := tree.SplitSegmentNode(leaf, true)
	require.NoError(t, err)
	require.Equal(t, before+1, tree.LeafCount())

	tree.CollapseSplit(result, InUse)
	require.Equal(t, before, tree.LeafCount())
	require.Equal(t, InUse, tree.Status(result.Parent))

	_, stillLeaf := tree.Search(tree.Node(result.Parent).Segment)
	require.True(t, stillLeaf)
}

func TestAcceptOverlappingSplit_RenegotiatesBoundary(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 1, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]

	result, err := tree.SplitSegmentNode(leaf, true)
	require.NoError(t, err)

	originalRightStart := tree.Node(result.Right).Segment.Start
	refreshedEnd := originalRightStart + 1024 - 1
	tree.AcceptOverlappingSplit(result, tree.Node(result.Left).Segment.Start, refreshedEnd, refreshedEnd+1, tree.Node(result.Right).Segment.End)

	require.Equal(t, refreshedEnd, tree.Node(result.Left).Segment.End)
	require.Equal(t, InUse, tree.Status(result.Left))
	require.Equal(t, refreshedEnd+1, tree.Node(result.Right).Segment.Start)
}

func TestSearch_FindsLeafByValue(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 4, []Segment{New(0, 9_999_999)})
	for _, id := range tree.Leaves() {
		seg := tree.Node(id).Segment
		found, ok := tree.Search(seg)
		require.True(t, ok)
		require.Equal(t, id, found)
	}
	_, ok := tree.Search(New(-1, -1))
	require.False(t, ok)
}

func TestSegment_SingleByteRange(t *testing.T) {
	s := New(42, 42)
	require.Equal(t, int64(1), s.Length())
}

func TestSegment_Overlaps(t *testing.T) {
	a := New(0, 99)
	b := New(50, 149)
	c := New(100, 199)
	require.True(t, a.Overlaps(b))
	require.False(t, a.Overlaps(c))
}

func TestLeafByConnectionNumber_FindsAndMissesCorrectly(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 4, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]
	connNum := tree.Node(leaf).ConnectionNumber

	found, ok := tree.LeafByConnectionNumber(connNum)
	require.True(t, ok)
	require.Equal(t, leaf, found)

	_, ok = tree.LeafByConnectionNumber(9999)
	require.False(t, ok)
}

func TestLeafByConnectionNumber_IgnoresCollapsedNonLeaves(t *testing.T) {
	tree := BuildFromMissingBytes(10_000_000, 1, []Segment{New(0, 9_999_999)})
	leaf := tree.Leaves()[0]
	tree.SetStatus(leaf, InUse)
	connNum := tree.Node(leaf).ConnectionNumber

	result, err := tree.Split()
	require.NoError(t, err)

	_, ok := tree.LeafByConnectionNumber(connNum)
	require.True(t, ok, "left child inherits the parent's connection number")

	tree.CollapseSplit(result, InUse)
	_, ok = tree.LeafByConnectionNumber(connNum)
	require.True(t, ok, "collapsed parent is reinstated as a leaf with its original number")
}
