// Package geotiff parses GeoTIFF headers and reads single pixels via
// byte-range access, so tile metadata and elevation samples never pull
// whole rasters out of object storage.
package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// TIFF tags we care about.
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPredictor          = 317
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagSampleFormat       = 339
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagGeoKeyDirectory    = 34735
	tagGeoDoubleParams    = 34736
	tagGeoASCIIParams     = 34737
	tagGDALNoData         = 42113
)

// Field type sizes indexed by TIFF field type. 16-18 are the 8-byte
// BigTIFF types some GDAL builds emit even in classic files.
var typeSizes = [...]int{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8, 4, 0, 0, 8, 8, 8}

var (
	ErrNotTIFF     = errors.New("geotiff: not a TIFF file")
	ErrUnsupported = errors.New("geotiff: unsupported feature")
)

// ifdEntry is one 12-byte directory entry.
type ifdEntry struct {
	tag       uint16
	fieldType uint16
	count     uint32
	raw       [4]byte
}

// ifd holds the decoded first image file directory.
type ifd struct {
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
	r       io.ReaderAt
}

// parseIFD reads the TIFF header and first IFD from r. Only classic
// (non-Big) TIFF is supported; the corpus stores 1 km DEM tiles well
// under the 4 GiB limit.
func parseIFD(r io.ReaderAt) (*ifd, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("geotiff: reading header: %w", err)
	}
	var bo binary.ByteOrder
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		bo = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch bo.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, ErrNotTIFF
	}
	off := int64(bo.Uint32(hdr[4:8]))

	var cntBuf [2]byte
	if _, err := r.ReadAt(cntBuf[:], off); err != nil {
		return nil, fmt.Errorf("geotiff: reading IFD count: %w", err)
	}
	count := int(bo.Uint16(cntBuf[:]))
	buf := make([]byte, count*12)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("geotiff: reading IFD entries: %w", err)
	}

	d := &ifd{bo: bo, entries: make(map[uint16]ifdEntry, count), r: r}
	for i := 0; i < count; i++ {
		e := buf[i*12 : i*12+12]
		entry := ifdEntry{
			tag:       bo.Uint16(e[0:2]),
			fieldType: bo.Uint16(e[2:4]),
			count:     bo.Uint32(e[4:8]),
		}
		copy(entry.raw[:], e[8:12])
		d.entries[entry.tag] = entry
	}
	return d, nil
}

// valueBytes returns the raw value bytes of an entry, following the
// offset indirection when the value does not fit inline.
func (d *ifd) valueBytes(e ifdEntry) ([]byte, error) {
	if int(e.fieldType) >= len(typeSizes) || typeSizes[e.fieldType] == 0 {
		return nil, fmt.Errorf("%w: field type %d", ErrUnsupported, e.fieldType)
	}
	size := typeSizes[e.fieldType] * int(e.count)
	if size <= 4 {
		return e.raw[:size], nil
	}
	off := int64(d.bo.Uint32(e.raw[:]))
	buf := make([]byte, size)
	if _, err := d.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("geotiff: reading tag %d value: %w", e.tag, err)
	}
	return buf, nil
}

// uints returns an integer-valued tag as []uint64.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	b, err := d.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.fieldType {
		case 1: // BYTE
			out[i] = uint64(b[i])
		case 3: // SHORT
			out[i] = uint64(d.bo.Uint16(b[i*2:]))
		case 4: // LONG
			out[i] = uint64(d.bo.Uint32(b[i*4:]))
		case 16: // LONG8 (written by some GDAL builds even in classic TIFF)
			out[i] = d.bo.Uint64(b[i*8:])
		default:
			return nil, fmt.Errorf("%w: tag %d field type %d", ErrUnsupported, tag, e.fieldType)
		}
	}
	return out, nil
}

// uintVal returns the first value of an integer tag, or def when the
// tag is absent.
func (d *ifd) uintVal(tag uint16, def uint64) (uint64, error) {
	vs, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return def, nil
	}
	return vs[0], nil
}

// doubles returns a DOUBLE-valued tag as []float64.
func (d *ifd) doubles(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	if e.fieldType != 12 {
		return nil, fmt.Errorf("%w: tag %d field type %d, want DOUBLE", ErrUnsupported, tag, e.fieldType)
	}
	b, err := d.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.bo.Uint64(b[i*8:]))
	}
	return out, nil
}

// ascii returns an ASCII tag with the trailing NUL stripped.
func (d *ifd) ascii(tag uint16) (string, error) {
	e, ok := d.entries[tag]
	if !ok {
		return "", nil
	}
	b, err := d.valueBytes(e)
	if err != nil {
		return "", err
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}
