package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Info is the georeferencing and layout header of a single-band
// GeoTIFF, read without touching pixel data.
type Info struct {
	Width  int
	Height int

	// Geotransform (north-up only). PixelSizeY is stored positive;
	// OriginX/OriginY is the outer corner of the top-left pixel.
	PixelSizeX float64
	PixelSizeY float64
	OriginX    float64
	OriginY    float64

	// EPSG is the native CRS code, 0 when the file carries none.
	EPSG int

	NoData    float64
	HasNoData bool

	// Block layout for pixel reads.
	tiled           bool
	tileWidth       int
	tileLength      int
	rowsPerStrip    int
	blockOffsets    []uint64
	blockByteCounts []uint64

	compression   int
	predictor     int
	bitsPerSample int
	sampleFormat  int
	bo            binary.ByteOrder
}

// NativeBounds returns the raster extent in its native CRS as
// (minX, minY, maxX, maxY).
func (i *Info) NativeBounds() (minX, minY, maxX, maxY float64) {
	minX = i.OriginX
	maxX = i.OriginX + float64(i.Width)*i.PixelSizeX
	maxY = i.OriginY
	minY = i.OriginY - float64(i.Height)*i.PixelSizeY
	return minX, minY, maxX, maxY
}

// GeoKey IDs.
const (
	geoKeyModelType    = 1024
	geoKeyGeographic   = 2048
	geoKeyProjectedCS  = 3072
)

// ReadHeader parses the first IFD of the TIFF behind r.
// r should serve cheap range reads; use chunked to batch them.
func ReadHeader(r io.ReaderAt) (*Info, error) {
	d, err := parseIFD(r)
	if err != nil {
		return nil, err
	}

	info := &Info{bo: d.bo}

	w, err := d.uintVal(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	h, err := d.uintVal(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("geotiff: missing image dimensions")
	}
	info.Width, info.Height = int(w), int(h)

	samples, err := d.uintVal(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if samples != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel, want single-band DEM", ErrUnsupported, samples)
	}
	bits, err := d.uintVal(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	info.bitsPerSample = int(bits)
	sf, err := d.uintVal(tagSampleFormat, 1)
	if err != nil {
		return nil, err
	}
	info.sampleFormat = int(sf)
	comp, err := d.uintVal(tagCompression, 1)
	if err != nil {
		return nil, err
	}
	info.compression = int(comp)
	pred, err := d.uintVal(tagPredictor, 1)
	if err != nil {
		return nil, err
	}
	info.predictor = int(pred)

	if err := info.readLayout(d); err != nil {
		return nil, err
	}
	if err := info.readGeo(d); err != nil {
		return nil, err
	}
	return info, nil
}

func (i *Info) readLayout(d *ifd) error {
	tw, err := d.uintVal(tagTileWidth, 0)
	if err != nil {
		return err
	}
	tl, err := d.uintVal(tagTileLength, 0)
	if err != nil {
		return err
	}
	if tw > 0 && tl > 0 {
		i.tiled = true
		i.tileWidth, i.tileLength = int(tw), int(tl)
		if i.blockOffsets, err = d.uints(tagTileOffsets); err != nil {
			return err
		}
		if i.blockByteCounts, err = d.uints(tagTileByteCounts); err != nil {
			return err
		}
		if len(i.blockOffsets) == 0 {
			return fmt.Errorf("geotiff: tiled layout without tile offsets")
		}
		return nil
	}

	rps, err := d.uintVal(tagRowsPerStrip, uint64(i.Height))
	if err != nil {
		return err
	}
	i.rowsPerStrip = int(rps)
	if i.blockOffsets, err = d.uints(tagStripOffsets); err != nil {
		return err
	}
	if i.blockByteCounts, err = d.uints(tagStripByteCounts); err != nil {
		return err
	}
	if len(i.blockOffsets) == 0 {
		return fmt.Errorf("geotiff: no tile or strip layout")
	}
	return nil
}

func (i *Info) readGeo(d *ifd) error {
	scale, err := d.doubles(tagModelPixelScale)
	if err != nil {
		return err
	}
	tie, err := d.doubles(tagModelTiepoint)
	if err != nil {
		return err
	}
	if len(scale) >= 2 && len(tie) >= 6 {
		i.PixelSizeX = scale[0]
		i.PixelSizeY = scale[1]
		// Tiepoint maps raster (I,J) to model (X,Y); the corpus
		// anchors at the top-left corner (0,0).
		i.OriginX = tie[3] - tie[0]*scale[0]
		i.OriginY = tie[4] + tie[1]*scale[1]
	} else {
		return fmt.Errorf("geotiff: missing geotransform (pixel scale / tiepoint)")
	}

	keys, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return err
	}
	i.EPSG = epsgFromGeoKeys(keys)

	nodata, err := d.ascii(tagGDALNoData)
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(nodata); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			i.NoData = v
			i.HasNoData = true
		}
	}
	return nil
}

// epsgFromGeoKeys extracts the CRS code from a GeoKeyDirectory,
// preferring the projected CS key over the geographic one.
func epsgFromGeoKeys(dir []uint64) int {
	if len(dir) < 4 {
		return 0
	}
	n := int(dir[3])
	geographic := 0
	for k := 0; k < n; k++ {
		base := 4 + k*4
		if base+3 >= len(dir) {
			break
		}
		keyID := int(dir[base])
		loc := int(dir[base+1])
		val := int(dir[base+3])
		if loc != 0 {
			continue // value stored in another tag; codes are inline
		}
		switch keyID {
		case geoKeyProjectedCS:
			if val > 0 && val < 32767 {
				return val
			}
		case geoKeyGeographic:
			if val > 0 && val < 32767 {
				geographic = val
			}
		}
	}
	return geographic
}

// chunked is a caching io.ReaderAt that fetches aligned chunks from an
// underlying ReaderAt. It keeps header parsing to a couple of range
// requests against object storage.
type chunked struct {
	r         io.ReaderAt
	chunkSize int64

	mu     sync.Mutex
	chunks map[int64][]byte
}

// Chunked wraps r with 64 KiB chunk caching.
func Chunked(r io.ReaderAt) io.ReaderAt {
	return &chunked{r: r, chunkSize: 64 * 1024, chunks: make(map[int64][]byte)}
}

func (c *chunked) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		base := pos - pos%c.chunkSize
		chunk, err := c.chunk(base)
		if len(chunk) == 0 {
			if err == nil {
				err = io.EOF
			}
			return n, err
		}
		in := int(pos - base)
		if in >= len(chunk) {
			return n, io.EOF
		}
		n += copy(p[n:], chunk[in:])
		if err != nil && n < len(p) {
			return n, err
		}
	}
	return n, nil
}

func (c *chunked) chunk(base int64) ([]byte, error) {
	c.mu.Lock()
	if b, ok := c.chunks[base]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	buf := make([]byte, c.chunkSize)
	read, err := c.r.ReadAt(buf, base)
	if err == io.EOF {
		err = nil
	}
	buf = buf[:read]

	c.mu.Lock()
	c.chunks[base] = buf
	c.mu.Unlock()
	return buf, err
}
