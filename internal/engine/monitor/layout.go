package monitor

import (
	"fmt"
	"image"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Region binds a screen rectangle to one LED index.
type Region struct {
	Index int             `json:"index"`
	Rect  image.Rectangle `json:"rect"`
}

// PerimeterZones is the number of regions in PerimeterLayout.
const PerimeterZones = 10

// PerimeterLayout returns the default 10-zone mapping for a strip run
// around the back of a screen: the top half split in four from right to
// left, the left edge of the third quarter, the bottom quarter split in
// four from left to right, then the right edge of the third quarter.
func PerimeterLayout(bounds image.Rectangle) []Region {
	w, h := bounds.Dx(), bounds.Dy()
	top, bottom := h/2, h*3/4
	col := func(x int) int { return x * w / 4 }

	rect := func(x0, y0, x1, y1 int) image.Rectangle {
		return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
	}

	regions := make([]Region, 0, PerimeterZones)
	for x := 3; x >= 0; x-- {
		regions = append(regions, Region{Rect: rect(col(x), 0, col(x+1), top)})
	}
	regions = append(regions, Region{Rect: rect(0, top, col(1), bottom)})
	for x := range 4 {
		regions = append(regions, Region{Rect: rect(col(x), bottom, col(x+1), h)})
	}
	regions = append(regions, Region{Rect: rect(col(3), top, w, bottom)})

	for i := range regions {
		regions[i].Index = i
	}
	return regions
}

// ValidateRegions checks that every region is a non-empty rectangle inside
// bounds and that indices are unique and addressable.
func ValidateRegions(regions []Region, bounds image.Rectangle) error {
	if len(regions) == 0 {
		return fmt.Errorf("%w: no regions", engine.ErrInvalidConfig)
	}
	seen := make(map[int]struct{}, len(regions))
	for _, r := range regions {
		if r.Index < 0 || r.Index >= protocol.MaxSegments {
			return fmt.Errorf("%w: region index %d outside 0-%d", engine.ErrInvalidConfig, r.Index, protocol.MaxSegments-1)
		}
		if _, dup := seen[r.Index]; dup {
			return fmt.Errorf("%w: duplicate region index %d", engine.ErrInvalidConfig, r.Index)
		}
		seen[r.Index] = struct{}{}

		if r.Rect.Empty() {
			return fmt.Errorf("%w: region %d has malformed rectangle %v", engine.ErrInvalidConfig, r.Index, r.Rect)
		}
		if !r.Rect.In(bounds) {
			return fmt.Errorf("%w: region %d %v outside captured bounds %v", engine.ErrCaptureUnavailable, r.Index, r.Rect, bounds)
		}
	}
	return nil
}

// frameLength is one past the highest region index.
func frameLength(regions []Region) int {
	n := 0
	for _, r := range regions {
		n = max(n, r.Index+1)
	}
	return n
}
