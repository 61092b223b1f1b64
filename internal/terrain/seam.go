package terrain

import (
	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// MeasureSeam compares the dir border of a with the facing border of b at
// mip. Rasters of different resolution are not comparable and yield an
// empty report.
func MeasureSeam(a, b *Raster, dir fixup.Direction, mip int) SeamReport {
	mine := texel.Heights(a.ReadBorder(dir, mip, 0))
	theirs := texel.Heights(b.ReadBorder(dir.Opposite(), mip, 0))

	var rep SeamReport
	if len(mine) == 0 || len(mine) != len(theirs) {
		return rep
	}
	for i := range mine {
		rep.Compared++
		d := int(mine[i]) - int(theirs[i])
		if d < 0 {
			d = -d
		}
		if d != 0 {
			rep.Mismatched++
			rep.MaxError = max(rep.MaxError, d)
		}
	}
	return rep
}

// seamDirections visits each shared border of a grid once.
var seamDirections = []fixup.Direction{fixup.Right, fixup.Top, fixup.TopRight, fixup.TopLeft}

// Seams measures every shared border and vertex in the grid at mip.
func (t Tiles) Seams(mip int) SeamReport {
	var rep SeamReport
	for at, r := range t {
		for _, d := range seamDirections {
			if n, ok := t[at.Step(d)]; ok {
				rep.Add(MeasureSeam(r, n, d, mip))
			}
		}
	}
	return rep
}
