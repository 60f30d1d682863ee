package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	path := filepath.Join(t.TempDir(), "table.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSXTable(t *testing.T) {
	path := writeTestWorkbook(t, "wells", [][]string{
		{"Site", "Lat", "Lon", "Depth"},
		{"W1", "33.2", "-117.4", "12.5"},
		{"W2", "33.3", "-117.5", "8.0"},
	})

	header, rows, err := ReadXLSXTable(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Site", "Lat", "Lon", "Depth"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"W2", "33.3", "-117.5", "8.0"}, rows[1])
}

func TestReadXLSXTableByName(t *testing.T) {
	path := writeTestWorkbook(t, "observations", [][]string{
		{"Site", "Depth"},
		{"W1", "4.5"},
	})

	header, rows, err := ReadXLSXTable(path, XLSXOptions{SheetName: "observations"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Site", "Depth"}, header)
	assert.Len(t, rows, 1)

	_, _, err = ReadXLSXTable(path, XLSXOptions{SheetName: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "missing" not found`)
}

func TestReadXLSXTableSheetIndexOutOfRange(t *testing.T) {
	path := writeTestWorkbook(t, "only", [][]string{{"A"}})

	_, _, err := ReadXLSXTable(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSXTableMissingFile(t *testing.T) {
	_, _, err := ReadXLSXTable(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
}
