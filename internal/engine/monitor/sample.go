package monitor

import (
	"image"

	"github.com/nerrad567/lumisync-core/internal/frame"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Sample reduces each region of img to its mean color. The result is
// indexed by Region.Index; unmapped indices stay black. Identical input
// always yields identical output.
func Sample(img image.Image, regions []Region) frame.Frame {
	out := make(frame.Frame, frameLength(regions))
	for _, r := range regions {
		out[r.Index] = meanColor(img, r.Rect)
	}
	return out
}

func meanColor(img image.Image, rect image.Rectangle) protocol.RGB {
	rect = rect.Intersect(img.Bounds())
	n := uint64(rect.Dx()) * uint64(rect.Dy()) //nolint:gosec // non-negative after Intersect
	if n == 0 {
		return protocol.RGB{}
	}

	var sr, sg, sb uint64
	switch src := img.(type) {
	case *image.RGBA:
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := src.Pix[src.PixOffset(rect.Min.X, y):src.PixOffset(rect.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				sr += uint64(row[i])
				sg += uint64(row[i+1])
				sb += uint64(row[i+2])
			}
		}
	default:
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				sr += uint64(r >> 8)
				sg += uint64(g >> 8)
				sb += uint64(b >> 8)
			}
		}
	}

	return protocol.RGB{
		R: uint8(sr / n), //nolint:gosec // mean of bytes
		G: uint8(sg / n), //nolint:gosec // mean of bytes
		B: uint8(sb / n), //nolint:gosec // mean of bytes
	}
}
