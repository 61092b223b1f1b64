package fixup

import (
	"fmt"
	"strings"
)

// Direction is one of the 8 compass relations between a tile and its
// neighbors: 4 edges followed by 4 corners.
type Direction uint8

const (
	Bottom Direction = iota
	Top
	Left
	Right
	BottomLeft
	BottomRight
	TopLeft
	TopRight
)

// NumDirections is the number of Direction values.
const NumDirections = 8

// Directions lists every direction, edges first.
var Directions = [NumDirections]Direction{Bottom, Top, Left, Right, BottomLeft, BottomRight, TopLeft, TopRight}

var directionNames = [NumDirections]string{"Bottom", "Top", "Left", "Right", "BottomLeft", "BottomRight", "TopLeft", "TopRight"}

var directionOffsets = [NumDirections][2]int32{
	Bottom:      {0, -1},
	Top:         {0, 1},
	Left:        {-1, 0},
	Right:       {1, 0},
	BottomLeft:  {-1, -1},
	BottomRight: {1, -1},
	TopLeft:     {-1, 1},
	TopRight:    {1, 1},
}

// String returns the direction name.
func (d Direction) String() string {
	if int(d) >= NumDirections {
		return "Invalid"
	}
	return directionNames[d]
}

// IsCorner reports whether d is one of the 4 diagonal directions.
func (d Direction) IsCorner() bool {
	return d >= BottomLeft
}

// Offset returns the unit grid offset of the neighbor in direction d.
func (d Direction) Offset() (int32, int32) {
	o := directionOffsets[d]
	return o[0], o[1]
}

// Opposite returns the direction pointing back from the neighbor at d.
func (d Direction) Opposite() Direction {
	dx, dy := d.Offset()
	o, _ := DirectionFromOffset(-dx, -dy)
	return o
}

// Bit returns the singleton set {d}.
func (d Direction) Bit() DirectionSet {
	return DirectionSet(1) << d
}

// EdgeCorners returns the corners at the first and last sample of an edge
// row, following row order (bottom/top rows left to right, left/right
// columns bottom to top).
func (d Direction) EdgeCorners() (first, last Direction) {
	switch d {
	case Bottom:
		return BottomLeft, BottomRight
	case Top:
		return TopLeft, TopRight
	case Left:
		return BottomLeft, TopLeft
	case Right:
		return BottomRight, TopRight
	}
	return d, d
}

// DirectionFromOffset maps a unit grid offset back to a direction.
func DirectionFromOffset(dx, dy int32) (Direction, bool) {
	for _, d := range Directions {
		o := directionOffsets[d]
		if o[0] == dx && o[1] == dy {
			return d, true
		}
	}
	return 0, false
}

// DirectionSet is a bit set of directions.
type DirectionSet uint8

const (
	// NoDirections is the empty set.
	NoDirections DirectionSet = 0
	// AllEdges holds the 4 edge directions.
	AllEdges DirectionSet = 1<<Bottom | 1<<Top | 1<<Left | 1<<Right
	// AllCorners holds the 4 corner directions.
	AllCorners DirectionSet = 1<<BottomLeft | 1<<BottomRight | 1<<TopLeft | 1<<TopRight
	// AllDirections holds every direction.
	AllDirections = AllEdges | AllCorners
)

// SetOf builds a set from directions.
func SetOf(dirs ...Direction) DirectionSet {
	var s DirectionSet
	for _, d := range dirs {
		s |= d.Bit()
	}
	return s
}

// Has reports whether d is in s.
func (s DirectionSet) Has(d Direction) bool {
	return s&d.Bit() != 0
}

// Add returns s with d added.
func (s DirectionSet) Add(d Direction) DirectionSet {
	return s | d.Bit()
}

// Remove returns s without d.
func (s DirectionSet) Remove(d Direction) DirectionSet {
	return s &^ d.Bit()
}

// Union returns s ∪ other.
func (s DirectionSet) Union(other DirectionSet) DirectionSet {
	return s | other
}

// Intersect returns s ∩ other.
func (s DirectionSet) Intersect(other DirectionSet) DirectionSet {
	return s & other
}

// Without returns s \ other.
func (s DirectionSet) Without(other DirectionSet) DirectionSet {
	return s &^ other
}

// IsEmpty reports whether s has no members.
func (s DirectionSet) IsEmpty() bool {
	return s == 0
}

// Len returns the number of members.
func (s DirectionSet) Len() int {
	n := 0
	for _, d := range Directions {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Each calls fn for every member, edges before corners.
func (s DirectionSet) Each(fn func(Direction)) {
	for _, d := range Directions {
		if s.Has(d) {
			fn(d)
		}
	}
}

// String returns the members as "{Top|TopLeft}".
func (s DirectionSet) String() string {
	var names []string
	s.Each(func(d Direction) {
		names = append(names, d.String())
	})
	return "{" + strings.Join(names, "|") + "}"
}

// affectedNeighbors maps a changed local direction to the neighbor positions
// whose own borders read from that region.
var affectedNeighbors = [NumDirections]DirectionSet{
	Bottom:      SetOf(Bottom, BottomLeft, BottomRight),
	Top:         SetOf(Top, TopLeft, TopRight),
	Left:        SetOf(Left, BottomLeft, TopLeft),
	Right:       SetOf(Right, BottomRight, TopRight),
	BottomLeft:  SetOf(Bottom, Left, BottomLeft),
	BottomRight: SetOf(Bottom, Right, BottomRight),
	TopLeft:     SetOf(Top, Left, TopLeft),
	TopRight:    SetOf(Top, Right, TopRight),
}

// AffectedNeighbors returns the neighbor positions that must be re-patched
// when the given local directions change.
func AffectedNeighbors(changed DirectionSet) DirectionSet {
	var out DirectionSet
	changed.Each(func(d Direction) {
		out |= affectedNeighbors[d]
	})
	return out
}

// Touching returns the directions of the neighbor at position p that share
// samples with the local tile.
func Touching(p Direction) DirectionSet {
	o := p.Opposite()
	if o.IsCorner() {
		return o.Bit()
	}
	first, last := o.EdgeCorners()
	return SetOf(o, first, last)
}

// withEndpoints adds the endpoint corners of every edge in s.
func withEndpoints(s DirectionSet) DirectionSet {
	out := s
	s.Intersect(AllEdges).Each(func(d Direction) {
		first, last := d.EdgeCorners()
		out = out.Add(first).Add(last)
	})
	return out
}

// Coord is a tile's integer address in its group's grid.
type Coord struct {
	X, Y int32
}

// Step returns the coordinate of the neighbor in direction d.
func (c Coord) Step(d Direction) Coord {
	dx, dy := d.Offset()
	return Coord{c.X + dx, c.Y + dy}
}

// Offset returns c translated by (dx, dy).
func (c Coord) Offset(dx, dy int32) Coord {
	return Coord{c.X + dx, c.Y + dy}
}

// String returns "(x,y)".
func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// BorderCells returns the (x, y) cells of a size x size grid that make up
// direction d, inset rows toward the interior, in row order. Corners yield
// one cell, moved diagonally by inset. It returns nil when inset does not fit.
func BorderCells(d Direction, size, inset int) [][2]int {
	if size < 1 || inset < 0 || inset >= size {
		return nil
	}
	lo, hi := inset, size-1-inset
	switch d {
	case BottomLeft:
		return [][2]int{{lo, lo}}
	case BottomRight:
		return [][2]int{{hi, lo}}
	case TopLeft:
		return [][2]int{{lo, hi}}
	case TopRight:
		return [][2]int{{hi, hi}}
	}
	cells := make([][2]int, size)
	for i := range cells {
		switch d {
		case Bottom:
			cells[i] = [2]int{i, lo}
		case Top:
			cells[i] = [2]int{i, hi}
		case Left:
			cells[i] = [2]int{lo, i}
		case Right:
			cells[i] = [2]int{hi, i}
		}
	}
	return cells
}
