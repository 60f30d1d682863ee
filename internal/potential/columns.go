// Package potential fuses depth-to-water observations with sampled surface
// elevation into hydraulic-potential records (potential = elevation - depth,
// both in meters).
package potential

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ColumnInferenceError reports that no depth column could be determined from
// a table's header. It aborts the whole dataset computation: a table whose
// depth column cannot be found is structurally unusable, not a per-row issue.
type ColumnInferenceError struct {
	Columns []string
}

func (e *ColumnInferenceError) Error() string {
	return fmt.Sprintf("potential: cannot infer depth column from %v", e.Columns)
}

// dateColumn matches header names like "2023-06-20". Export tables from the
// measurement services use the observation date as the value column name.
var dateColumn = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// InferDepthColumn picks the column holding the depth reading when the caller
// did not name one. Date-named columns win, most recent date first; otherwise
// the first numeric column that is not a reserved identifier column is used.
// Column name comparison is case-insensitive.
func InferDepthColumn(header []string, rows [][]string, reserved ...string) (int, error) {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[strings.ToLower(r)] = true
	}

	// Rule 1: lexicographically last date-like column name.
	best := -1
	for i, name := range header {
		if !dateColumn.MatchString(name) {
			continue
		}
		if best < 0 || name > header[best] {
			best = i
		}
	}
	if best >= 0 {
		return best, nil
	}

	// Rule 2: first numeric, non-reserved column.
	for i, name := range header {
		if skip[strings.ToLower(name)] {
			continue
		}
		if columnIsNumeric(rows, i) {
			return i, nil
		}
	}

	return -1, &ColumnInferenceError{Columns: header}
}

// columnIsNumeric reports whether every non-empty cell in the column parses
// as a number. A column with no non-empty cells counts as numeric: it still
// gets selected, and every row is then dropped for the missing value.
func columnIsNumeric(rows [][]string, col int) bool {
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
	}
	return true
}

// findColumn returns the index of the named column, case-insensitively, or -1.
func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
