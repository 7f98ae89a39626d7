package geotiff

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

// PixelAt converts a native-CRS coordinate to a pixel index, or false
// when the coordinate falls outside the raster.
func (i *Info) PixelAt(x, y float64) (px, py int, ok bool) {
	px = int(math.Floor((x - i.OriginX) / i.PixelSizeX))
	py = int(math.Floor((i.OriginY - y) / i.PixelSizeY))
	if px < 0 || px >= i.Width || py < 0 || py >= i.Height {
		return 0, 0, false
	}
	return px, py, true
}

// SamplePixel reads the single pixel (px, py) from the raster behind r.
// Uncompressed rasters read only the bytes of that sample; compressed
// rasters fetch and decode the containing block.
func (i *Info) SamplePixel(r io.ReaderAt, px, py int) (float64, error) {
	if px < 0 || px >= i.Width || py < 0 || py >= i.Height {
		return 0, fmt.Errorf("geotiff: pixel (%d,%d) outside %dx%d raster", px, py, i.Width, i.Height)
	}
	bytesPerSample := i.bitsPerSample / 8
	if bytesPerSample == 0 || i.bitsPerSample%8 != 0 {
		return 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, i.bitsPerSample)
	}

	block, idx, err := i.blockFor(px, py)
	if err != nil {
		return 0, err
	}

	if i.compression == 1 {
		// No compression: read just the sample.
		buf := make([]byte, bytesPerSample)
		off := int64(i.blockOffsets[block]) + int64(idx*bytesPerSample)
		if _, err := r.ReadAt(buf, off); err != nil {
			return 0, fmt.Errorf("geotiff: reading sample: %w", err)
		}
		return i.decodeSample(buf)
	}

	count := int64(i.blockByteCounts[block])
	raw := make([]byte, count)
	if _, err := r.ReadAt(raw, int64(i.blockOffsets[block])); err != nil {
		return 0, fmt.Errorf("geotiff: reading block %d: %w", block, err)
	}
	data, err := i.decompress(raw)
	if err != nil {
		return 0, err
	}
	if i.predictor == 2 {
		i.undoHorizontalPredictor(data, bytesPerSample)
	} else if i.predictor != 1 {
		return 0, fmt.Errorf("%w: predictor %d", ErrUnsupported, i.predictor)
	}
	start := idx * bytesPerSample
	if start+bytesPerSample > len(data) {
		return 0, fmt.Errorf("geotiff: block %d short: need %d bytes, have %d", block, start+bytesPerSample, len(data))
	}
	return i.decodeSample(data[start : start+bytesPerSample])
}

// blockFor returns the block index holding (px, py) and the sample
// index within the decoded block.
func (i *Info) blockFor(px, py int) (block, idx int, err error) {
	if i.tiled {
		tilesAcross := (i.Width + i.tileWidth - 1) / i.tileWidth
		block = (py/i.tileLength)*tilesAcross + px/i.tileWidth
		idx = (py%i.tileLength)*i.tileWidth + px%i.tileWidth
	} else {
		rps := i.rowsPerStrip
		if rps <= 0 {
			rps = i.Height
		}
		block = py / rps
		idx = (py%rps)*i.Width + px
	}
	if block >= len(i.blockOffsets) || (i.compression != 1 && block >= len(i.blockByteCounts)) {
		return 0, 0, fmt.Errorf("geotiff: block %d out of range (%d blocks)", block, len(i.blockOffsets))
	}
	return block, idx, nil
}

func (i *Info) decompress(raw []byte) ([]byte, error) {
	switch i.compression {
	case 5: // LZW
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("geotiff: lzw: %w", err)
		}
		return data, nil
	case 8, 32946: // Deflate (zlib)
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("geotiff: deflate: %w", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("geotiff: deflate: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, i.compression)
	}
}

// undoHorizontalPredictor reverses per-row horizontal differencing in
// place. Only integer samples use it in the corpus.
func (i *Info) undoHorizontalPredictor(data []byte, bytesPerSample int) {
	rowWidth := i.tileWidth
	if !i.tiled {
		rowWidth = i.Width
	}
	rowBytes := rowWidth * bytesPerSample
	for rowStart := 0; rowStart+rowBytes <= len(data); rowStart += rowBytes {
		switch bytesPerSample {
		case 1:
			for x := 1; x < rowWidth; x++ {
				data[rowStart+x] += data[rowStart+x-1]
			}
		case 2:
			for x := 1; x < rowWidth; x++ {
				prev := i.bo.Uint16(data[rowStart+(x-1)*2:])
				cur := i.bo.Uint16(data[rowStart+x*2:])
				i.bo.PutUint16(data[rowStart+x*2:], cur+prev)
			}
		case 4:
			for x := 1; x < rowWidth; x++ {
				prev := i.bo.Uint32(data[rowStart+(x-1)*4:])
				cur := i.bo.Uint32(data[rowStart+x*4:])
				i.bo.PutUint32(data[rowStart+x*4:], cur+prev)
			}
		}
	}
}

// decodeSample decodes one sample according to BitsPerSample and
// SampleFormat.
func (i *Info) decodeSample(b []byte) (float64, error) {
	switch {
	case i.sampleFormat == 3 && i.bitsPerSample == 32:
		return float64(math.Float32frombits(i.bo.Uint32(b))), nil
	case i.sampleFormat == 3 && i.bitsPerSample == 64:
		return math.Float64frombits(i.bo.Uint64(b)), nil
	case i.sampleFormat == 2 && i.bitsPerSample == 16:
		return float64(int16(i.bo.Uint16(b))), nil
	case i.sampleFormat == 2 && i.bitsPerSample == 32:
		return float64(int32(i.bo.Uint32(b))), nil
	case i.sampleFormat == 1 && i.bitsPerSample == 8:
		return float64(b[0]), nil
	case i.sampleFormat == 1 && i.bitsPerSample == 16:
		return float64(i.bo.Uint16(b)), nil
	case i.sampleFormat == 1 && i.bitsPerSample == 32:
		return float64(i.bo.Uint32(b)), nil
	default:
		return 0, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, i.sampleFormat, i.bitsPerSample)
	}
}

// IsNoData reports whether v equals the raster's nodata sentinel.
// Float comparison tolerates the float32 round-trip of large
// sentinels such as -3.4e38.
func (i *Info) IsNoData(v float64) bool {
	if !i.HasNoData {
		return false
	}
	if i.NoData == 0 {
		return v == 0
	}
	return math.Abs(v-i.NoData) <= math.Abs(i.NoData)*1e-6
}
