// Package tifftest builds minimal GeoTIFF fixtures for tests: classic
// little-endian files with one uncompressed float32 strip and enough
// geo tags to exercise header parsing and pixel sampling.
package tifftest

import (
	"encoding/binary"
	"math"
)

// Opts describes a fixture raster.
type Opts struct {
	Width, Height int
	Pixels        []float32
	EPSG          int
	OriginX       float64
	OriginY       float64
	PixelSize     float64
	NoData        string // empty omits a usable sentinel
}

// Build assembles the TIFF bytes. Pixels defaults to row*100+col.
func Build(o Opts) []byte {
	if o.Pixels == nil {
		o.Pixels = Grid(o.Width, o.Height)
	}
	if len(o.Pixels) != o.Width*o.Height {
		panic("tifftest: pixel count does not match dimensions")
	}
	le := binary.LittleEndian

	dataOff := 8
	dataLen := o.Width * o.Height * 4
	scaleOff := dataOff + dataLen
	tieOff := scaleOff + 3*8
	geoOff := tieOff + 6*8
	nodataOff := geoOff + 8*2
	nodataLen := len(o.NoData) + 1
	if nodataLen%2 == 1 {
		nodataLen++
	}
	ifdOff := nodataOff + nodataLen

	out := make([]byte, 0, ifdOff+2+13*12+4)
	out = append(out, 'I', 'I')
	out = le.AppendUint16(out, 42)
	out = le.AppendUint32(out, uint32(ifdOff))

	for _, v := range o.Pixels {
		out = le.AppendUint32(out, math.Float32bits(v))
	}
	for _, v := range []float64{o.PixelSize, o.PixelSize, 0} {
		out = le.AppendUint64(out, math.Float64bits(v))
	}
	for _, v := range []float64{0, 0, 0, o.OriginX, o.OriginY, 0} {
		out = le.AppendUint64(out, math.Float64bits(v))
	}
	// GeoKeyDirectory header plus a single CRS key: GeographicTypeGeoKey
	// for 4xxx codes, ProjectedCSTypeGeoKey otherwise.
	keyID := uint16(3072)
	if o.EPSG >= 4000 && o.EPSG < 5000 {
		keyID = 2048
	}
	for _, v := range []uint16{1, 1, 0, 1, keyID, 0, 1, uint16(o.EPSG)} {
		out = le.AppendUint16(out, v)
	}
	out = append(out, o.NoData...)
	for len(out) < ifdOff {
		out = append(out, 0)
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{256, 3, 1, uint32(o.Width)},
		{257, 3, 1, uint32(o.Height)},
		{258, 3, 1, 32},
		{259, 3, 1, 1}, // uncompressed
		{273, 4, 1, uint32(dataOff)},
		{277, 3, 1, 1},
		{278, 3, 1, uint32(o.Height)},
		{279, 4, 1, uint32(dataLen)},
		{339, 3, 1, 3}, // IEEE float
		{33550, 12, 3, uint32(scaleOff)},
		{33922, 12, 6, uint32(tieOff)},
		{34735, 3, 8, uint32(geoOff)},
		{42113, 2, uint32(len(o.NoData) + 1), uint32(nodataOff)},
	}
	out = le.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if e.typ == 3 && e.count == 1 {
			out = le.AppendUint16(out, uint16(e.value))
			out = le.AppendUint16(out, 0)
		} else {
			out = le.AppendUint32(out, e.value)
		}
	}
	out = le.AppendUint32(out, 0) // no next IFD
	return out
}

// Grid fills a raster with row*100+col so tests can assert exact
// positions.
func Grid(w, h int) []float32 {
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float32(y*100 + x)
		}
	}
	return out
}
