package raster

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildF32TIFF assembles a minimal single-strip float32 TIFF the way the
// 3DEP ImageServer lays one out: header, pixel data, optional GDAL_NODATA
// string, then the IFD.
func buildF32TIFF(t *testing.T, order binary.ByteOrder, cells [][]float32, noData string) []byte {
	t.Helper()

	height := uint32(len(cells))
	width := uint32(len(cells[0]))

	var pixels bytes.Buffer
	for _, row := range cells {
		for _, v := range row {
			var b [4]byte
			order.PutUint32(b[:], math.Float32bits(v))
			pixels.Write(b[:])
		}
	}

	const headerLen = 8
	pixelOffset := uint32(headerLen)
	noDataOffset := pixelOffset + uint32(pixels.Len())

	var noDataBytes []byte
	if noData != "" {
		noDataBytes = append([]byte(noData), 0)
	}
	ifdOffset := noDataOffset + uint32(len(noDataBytes))

	var buf bytes.Buffer
	if order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	writeU16 := func(v uint16) {
		var b [2]byte
		order.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeU16(42)
	writeU32(ifdOffset)
	buf.Write(pixels.Bytes())
	buf.Write(noDataBytes)

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{tagImageWidth, typeLong, 1, width},
		{tagImageLength, typeLong, 1, height},
		{tagBitsPerSample, typeShort, 1, 32},
		{tagCompression, typeShort, 1, compressionNone},
		{tagStripOffsets, typeLong, 1, pixelOffset},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, height},
		{tagStripByteCounts, typeLong, 1, uint32(pixels.Len())},
		{tagSampleFormat, typeShort, 1, sampleFormatIEEE},
	}
	if noData != "" {
		entries = append(entries, entry{tagGDALNoData, typeASCII, uint32(len(noDataBytes)), noDataOffset})
	}

	writeU16(uint16(len(entries)))
	for _, e := range entries {
		writeU16(e.tag)
		writeU16(e.typ)
		writeU32(e.count)
		if e.typ == typeShort && e.count == 1 {
			writeU16(uint16(e.value))
			writeU16(0)
		} else {
			writeU32(e.value)
		}
	}
	writeU32(0) // next IFD offset

	return buf.Bytes()
}

func TestDecodeGeoTIFF(t *testing.T) {
	cells := [][]float32{
		{120.5, 118.25, -9999},
		{90, 85.75, 80.5},
	}
	data := buildF32TIFF(t, binary.LittleEndian, cells, "-9999")

	g, err := DecodeGeoTIFF(data, testBounds)
	require.NoError(t, err)

	assert.Equal(t, 2, g.Rows())
	assert.Equal(t, 3, g.Cols())
	assert.Equal(t, testBounds, g.Bounds())

	assert.Equal(t, 120.5, g.At(0, 0))
	assert.Equal(t, 80.5, g.At(1, 2))
	assert.True(t, math.IsNaN(g.At(0, 2)), "no-data sentinel should decode as NaN")
}

func TestDecodeGeoTIFF_BigEndian(t *testing.T) {
	cells := [][]float32{
		{1.5, 2.5},
		{3.5, 4.5},
	}
	data := buildF32TIFF(t, binary.BigEndian, cells, "")

	g, err := DecodeGeoTIFF(data, testBounds)
	require.NoError(t, err)
	assert.Equal(t, 1.5, g.At(0, 0))
	assert.Equal(t, 4.5, g.At(1, 1))
}

func TestDecodeGeoTIFF_NoDataAbsent(t *testing.T) {
	// Without a GDAL_NODATA tag no value is treated as a sentinel.
	cells := [][]float32{{-9999, 10}}
	data := buildF32TIFF(t, binary.LittleEndian, cells, "")

	g, err := DecodeGeoTIFF(data, testBounds)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, g.At(0, 0))
}

func TestDecodeGeoTIFF_SampleAfterDecode(t *testing.T) {
	cells := [][]float32{
		{100, 200},
		{300, 400},
	}
	data := buildF32TIFF(t, binary.LittleEndian, cells, "")

	g, err := DecodeGeoTIFF(data, testBounds)
	require.NoError(t, err)

	assert.Equal(t, 100.0, g.Sample(testBounds.North, testBounds.West))
	assert.Equal(t, 400.0, g.Sample(testBounds.South, testBounds.East))
}

func TestDecodeGeoTIFF_Errors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := DecodeGeoTIFF([]byte{'I', 'I'}, testBounds)
		assert.Error(t, err)
	})

	t.Run("bad byte order", func(t *testing.T) {
		data := buildF32TIFF(t, binary.LittleEndian, [][]float32{{1}}, "")
		data[0], data[1] = 'X', 'X'
		_, err := DecodeGeoTIFF(data, testBounds)
		assert.Error(t, err)
	})

	t.Run("bad magic", func(t *testing.T) {
		data := buildF32TIFF(t, binary.LittleEndian, [][]float32{{1}}, "")
		data[2] = 99
		_, err := DecodeGeoTIFF(data, testBounds)
		assert.Error(t, err)
	})

	t.Run("bad bounds", func(t *testing.T) {
		data := buildF32TIFF(t, binary.LittleEndian, [][]float32{{1}}, "")
		_, err := DecodeGeoTIFF(data, Bounds{})
		assert.Error(t, err)
	})
}

// patchIFDValue overwrites the value of a little-endian long IFD entry.
func patchIFDValue(data []byte, tag uint16, value uint32) {
	order := binary.LittleEndian
	ifd := order.Uint32(data[4:8])
	n := int(order.Uint16(data[ifd : ifd+2]))
	for i := range n {
		off := int(ifd) + 2 + i*12
		if order.Uint16(data[off:off+2]) == tag {
			order.PutUint32(data[off+8:off+12], value)
		}
	}
}

func TestDecodeGeoTIFF_HugeDimensionsRejected(t *testing.T) {
	data := buildF32TIFF(t, binary.LittleEndian, [][]float32{{1}}, "")
	patchIFDValue(data, tagImageWidth, 1<<30)

	_, err := DecodeGeoTIFF(data, testBounds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceed limit")
}

func TestDecodeGeoTIFF_ShortStripRejected(t *testing.T) {
	data := buildF32TIFF(t, binary.LittleEndian, [][]float32{{1, 2}}, "")
	patchIFDValue(data, tagStripByteCounts, 4) // two pixels need eight bytes

	_, err := DecodeGeoTIFF(data, testBounds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strip 0")
}
