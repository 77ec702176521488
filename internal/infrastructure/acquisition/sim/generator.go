package sim

import (
	"encoding/binary"
	"math"
	"math/rand"

	"acqbridge/internal/core/domain"
)

// fill renders one synthetic image into dst.
func fill(p Pattern, dst []byte, width, height int, st domain.SampleType, frameID uint64, rng *rand.Rand) {
	switch p {
	case PatternEmpty:
		clear(dst)
	case PatternRadialSin:
		cx, cy := float64(width)/2, float64(height)/2
		phase := float64(frameID) * 0.2
		bpp := st.BytesPerPixel()
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r := math.Hypot(float64(x)-cx, float64(y)-cy)
				v := 0.5 + 0.5*math.Sin(r/8-phase)
				i := (y*width + x) * bpp
				if st == domain.SampleTypeU16 {
					binary.LittleEndian.PutUint16(dst[i:], uint16(v*math.MaxUint16))
				} else {
					dst[i] = uint8(v * math.MaxUint8)
				}
			}
		}
	default:
		rng.Read(dst)
	}
}
