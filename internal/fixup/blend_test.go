package fixup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSnapshot(t *testing.T, res int, h uint16) *EdgeSnapshot {
	t.Helper()
	return captureRaster(t, newFakeRaster(res, func(int, int) uint16 { return h }))
}

func TestBlendCorner_Policy(t *testing.T) {
	const res = 8
	sw := flatSnapshot(t, res, 100)
	se := flatSnapshot(t, res, 200)
	nw := flatSnapshot(t, res, 300)
	ne := flatSnapshot(t, res, 400)

	tests := []struct {
		name   string
		n      Neighborhood
		corner Direction
		want   uint16
		ok     bool
	}{
		{
			name:   "diagonal wins",
			n:      Neighborhood{Self: sw, Neighbors: [NumDirections]*EdgeSnapshot{Right: se, Top: nw, TopRight: ne}},
			corner: TopRight,
			want:   400,
			ok:     true,
		},
		{
			name:   "average of edge neighbors",
			n:      Neighborhood{Self: sw, Neighbors: [NumDirections]*EdgeSnapshot{Right: se, Top: nw}},
			corner: TopRight,
			want:   250,
			ok:     true,
		},
		{
			name:   "single edge neighbor",
			n:      Neighborhood{Self: sw, Neighbors: [NumDirections]*EdgeSnapshot{Right: se}},
			corner: TopRight,
			want:   200,
			ok:     true,
		},
		{
			name:   "alone",
			n:      Neighborhood{Self: sw},
			corner: TopRight,
			want:   100,
			ok:     false,
		},
		{
			name:   "seen from the north-east tile",
			n:      Neighborhood{Self: ne, Neighbors: [NumDirections]*EdgeSnapshot{Left: nw, Bottom: se, BottomLeft: sw}},
			corner: BottomLeft,
			want:   400,
			ok:     true,
		},
		{
			name:   "seen from the south-east tile without diagonal",
			n:      Neighborhood{Self: se, Neighbors: [NumDirections]*EdgeSnapshot{Left: sw, TopLeft: nw}},
			corner: TopLeft,
			want:   250,
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.n.BlendCorner(tt.corner, 0)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlendCorner_IgnoresOtherResolutions(t *testing.T) {
	n := Neighborhood{
		Self:      flatSnapshot(t, 8, 100),
		Neighbors: [NumDirections]*EdgeSnapshot{TopRight: flatSnapshot(t, 16, 400)},
	}
	got, ok := n.BlendCorner(TopRight, 0)
	assert.False(t, ok)
	assert.Equal(t, uint16(100), got)
}

func TestBlendEdge_RightTakesNeighbor(t *testing.T) {
	const res = 8
	self := captureRaster(t, newRandomRaster(res, 10))
	right := captureRaster(t, newRandomRaster(res, 11))
	n := Neighborhood{Self: self, Neighbors: [NumDirections]*EdgeSnapshot{Right: right}}

	got, ok := n.BlendEdge(Right, 0)
	require.True(t, ok)
	theirs := right.Heights(Left, 0)
	assert.Equal(t, theirs[1:res-1], got[1:res-1])
	// endpoints belong to the vertex owned by the right tile
	assert.Equal(t, theirs[0], got[0])
	assert.Equal(t, theirs[res-1], got[res-1])
}

func TestBlendEdge_LeftKeepsOwn(t *testing.T) {
	const res = 8
	self := captureRaster(t, newRandomRaster(res, 12))
	left := captureRaster(t, newRandomRaster(res, 13))
	n := Neighborhood{Self: self, Neighbors: [NumDirections]*EdgeSnapshot{Left: left}}

	got, ok := n.BlendEdge(Left, 0)
	require.True(t, ok)
	assert.Equal(t, self.Heights(Left, 0), got)
}

func TestBlendEdge_BothSidesAgree(t *testing.T) {
	const res = 8
	a := captureRaster(t, newRandomRaster(res, 20))
	b := captureRaster(t, newRandomRaster(res, 21))

	fromA := Neighborhood{Self: a, Neighbors: [NumDirections]*EdgeSnapshot{Top: b}}
	fromB := Neighborhood{Self: b, Neighbors: [NumDirections]*EdgeSnapshot{Bottom: a}}

	top, ok := fromA.BlendEdge(Top, 0)
	require.True(t, ok)
	bottom, ok := fromB.BlendEdge(Bottom, 0)
	require.True(t, ok)
	assert.Equal(t, bottom, top)
}

func TestBlendEdge_NoNeighbor(t *testing.T) {
	n := Neighborhood{Self: captureRaster(t, newRandomRaster(8, 1))}
	_, ok := n.BlendEdge(Right, 0)
	assert.False(t, ok)

	_, ok = n.BlendEdge(TopRight, 0)
	assert.False(t, ok)

	restored, ok := n.RestoreEdge(Right, 0)
	require.True(t, ok)
	assert.Equal(t, n.Self.Heights(Right, 0), restored)
}

func TestBlendEdge_SkipsSingleSampleRows(t *testing.T) {
	const res = 8
	n := Neighborhood{
		Self:      captureRaster(t, newRandomRaster(res, 1)),
		Neighbors: [NumDirections]*EdgeSnapshot{Right: captureRaster(t, newRandomRaster(res, 2))},
	}
	last := MipCountFor(res) - 1
	_, ok := n.BlendEdge(Right, last)
	assert.False(t, ok)

	_, ok = n.BlendEdge(Right, last-1)
	assert.True(t, ok)
}
