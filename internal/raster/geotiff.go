package raster

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Minimal GeoTIFF reader for the rasters the 3DEP ImageServer returns when
// asked for pixelType F32: single band, 32-bit IEEE float, uncompressed,
// strip organized. Anything else is rejected. General-purpose TIFF libraries
// for Go stop at integer sample formats, so the subset is decoded here.

// TIFF tag IDs.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	typeByte  = 1
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

const (
	compressionNone  = 1
	sampleFormatIEEE = 3
)

type ifdEntry struct {
	tag      uint16
	fieldTyp uint16
	count    uint32
	raw      [4]byte
}

// DecodeGeoTIFF parses a single-band float32 GeoTIFF into a Grid covering
// the given bounds. Cells equal to the file's no-data value become NaN.
func DecodeGeoTIFF(data []byte, bounds Bounds) (*Grid, error) {
	if len(data) < 8 {
		return nil, eris.New("raster: tiff too short")
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, eris.Errorf("raster: bad tiff byte order marker %q", string(data[:2]))
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, eris.New("raster: bad tiff magic number")
	}

	ifdOffset := order.Uint32(data[4:8])
	entries, err := readIFD(data, order, ifdOffset)
	if err != nil {
		return nil, err
	}

	var (
		width, height   uint32
		rowsPerStrip    = uint32(math.MaxUint32)
		bitsPerSample   = uint32(1)
		samplesPerPixel = uint32(1)
		compression     = uint32(compressionNone)
		sampleFormat    = uint32(1)
		stripOffsets    []uint32
		stripByteCounts []uint32
		noData          = math.NaN()
		hasNoData       bool
	)

	for _, e := range entries {
		switch e.tag {
		case tagImageWidth:
			width, err = scalarValue(e, order)
		case tagImageLength:
			height, err = scalarValue(e, order)
		case tagBitsPerSample:
			bitsPerSample, err = scalarValue(e, order)
		case tagCompression:
			compression, err = scalarValue(e, order)
		case tagSamplesPerPixel:
			samplesPerPixel, err = scalarValue(e, order)
		case tagRowsPerStrip:
			rowsPerStrip, err = scalarValue(e, order)
		case tagSampleFormat:
			sampleFormat, err = scalarValue(e, order)
		case tagStripOffsets:
			stripOffsets, err = arrayValues(data, e, order)
		case tagStripByteCounts:
			stripByteCounts, err = arrayValues(data, e, order)
		case tagGDALNoData:
			var s string
			s, err = asciiValue(data, e, order)
			if err == nil {
				if v, perr := strconv.ParseFloat(strings.TrimSpace(s), 64); perr == nil {
					noData = v
					hasNoData = true
				}
			}
		}
		if err != nil {
			return nil, eris.Wrapf(err, "raster: tiff tag %d", e.tag)
		}
	}

	if width == 0 || height == 0 {
		return nil, eris.New("raster: tiff missing image dimensions")
	}
	if compression != compressionNone {
		return nil, eris.Errorf("raster: unsupported tiff compression %d", compression)
	}
	if bitsPerSample != 32 || sampleFormat != sampleFormatIEEE {
		return nil, eris.Errorf("raster: want 32-bit float samples, got %d-bit format %d", bitsPerSample, sampleFormat)
	}
	if samplesPerPixel != 1 {
		return nil, eris.Errorf("raster: want single band, got %d samples per pixel", samplesPerPixel)
	}
	if len(stripOffsets) == 0 || len(stripOffsets) != len(stripByteCounts) {
		return nil, eris.New("raster: tiff strip layout missing or inconsistent")
	}
	// Any real exportImage response stays far below this; a header claiming
	// more is corrupt or hostile.
	const maxPixels = 64 << 20
	if uint64(width)*uint64(height) > maxPixels {
		return nil, eris.Errorf("raster: tiff dimensions %dx%d exceed limit", width, height)
	}

	cells := make([]float64, 0, int(width)*int(height))
	rowsLeft := height
	for i, off := range stripOffsets {
		stripRows := rowsPerStrip
		if stripRows > rowsLeft {
			stripRows = rowsLeft
		}
		// 64-bit arithmetic so oversized dimensions cannot wrap the check.
		want := uint64(stripRows) * uint64(width) * 4
		if uint64(stripByteCounts[i]) < want {
			return nil, eris.Errorf("raster: strip %d holds %d bytes, want %d", i, stripByteCounts[i], want)
		}
		end := uint64(off) + want
		if end > uint64(len(data)) {
			return nil, eris.Errorf("raster: strip %d extends past end of file", i)
		}

		strip := data[off:end]
		for p := 0; p+4 <= len(strip); p += 4 {
			v := float64(math.Float32frombits(order.Uint32(strip[p : p+4])))
			if hasNoData && v == noData {
				v = math.NaN()
			}
			cells = append(cells, v)
		}
		rowsLeft -= stripRows
		if rowsLeft == 0 {
			break
		}
	}

	if uint32(len(cells)) != width*height {
		return nil, eris.Errorf("raster: decoded %d cells, want %d", len(cells), width*height)
	}

	return newGridFlat(cells, int(height), int(width), bounds)
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) ([]ifdEntry, error) {
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, eris.New("raster: tiff IFD offset past end of file")
	}
	n := int(order.Uint16(data[offset : offset+2]))
	base := int(offset) + 2
	if base+n*12 > len(data) {
		return nil, eris.New("raster: tiff IFD truncated")
	}

	entries := make([]ifdEntry, 0, n)
	for i := range n {
		p := base + i*12
		e := ifdEntry{
			tag:      order.Uint16(data[p : p+2]),
			fieldTyp: order.Uint16(data[p+2 : p+4]),
			count:    order.Uint32(data[p+4 : p+8]),
		}
		copy(e.raw[:], data[p+8:p+12])
		entries = append(entries, e)
	}
	return entries, nil
}

func fieldSize(typ uint16) uint32 {
	switch typ {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	default:
		return 0
	}
}

// scalarValue reads a count-1 SHORT or LONG stored inline in the entry.
func scalarValue(e ifdEntry, order binary.ByteOrder) (uint32, error) {
	if e.count != 1 {
		return 0, eris.Errorf("raster: expected scalar, got count %d", e.count)
	}
	switch e.fieldTyp {
	case typeShort:
		return uint32(order.Uint16(e.raw[:2])), nil
	case typeLong:
		return order.Uint32(e.raw[:]), nil
	default:
		return 0, eris.Errorf("raster: unsupported scalar field type %d", e.fieldTyp)
	}
}

// arrayValues reads a SHORT or LONG array, inline or at the entry's offset.
func arrayValues(data []byte, e ifdEntry, order binary.ByteOrder) ([]uint32, error) {
	size := fieldSize(e.fieldTyp)
	if e.fieldTyp != typeShort && e.fieldTyp != typeLong {
		return nil, eris.Errorf("raster: unsupported array field type %d", e.fieldTyp)
	}

	total := uint64(size) * uint64(e.count)
	var raw []byte
	if total <= 4 {
		raw = e.raw[:total]
	} else {
		off := uint64(order.Uint32(e.raw[:]))
		if off+total > uint64(len(data)) {
			return nil, eris.New("raster: tiff array value past end of file")
		}
		raw = data[off : off+total]
	}

	out := make([]uint32, e.count)
	for i := range out {
		if e.fieldTyp == typeShort {
			out[i] = uint32(order.Uint16(raw[i*2 : i*2+2]))
		} else {
			out[i] = order.Uint32(raw[i*4 : i*4+4])
		}
	}
	return out, nil
}

// asciiValue reads a NUL-terminated ASCII value.
func asciiValue(data []byte, e ifdEntry, order binary.ByteOrder) (string, error) {
	if e.fieldTyp != typeASCII {
		return "", eris.Errorf("raster: expected ASCII field, got type %d", e.fieldTyp)
	}
	var raw []byte
	if e.count <= 4 {
		raw = e.raw[:e.count]
	} else {
		off := uint64(order.Uint32(e.raw[:]))
		if off+uint64(e.count) > uint64(len(data)) {
			return "", eris.New("raster: tiff ascii value past end of file")
		}
		raw = data[off : off+uint64(e.count)]
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}
