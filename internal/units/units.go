// Package units converts depth readings between the length units used by
// groundwater data sources.
package units

import (
	"fmt"
	"strings"
)

// Unit identifies a supported length unit.
type Unit string

// Supported units. Depth readings from USGS and CADWR sources are
// reported in feet unless declared otherwise.
const (
	Feet   Unit = "ft"
	Meters Unit = "m"
)

// FeetToMeters is the exact international foot conversion factor.
const FeetToMeters = 0.3048

// InvalidUnitError reports an unrecognized depth unit string.
type InvalidUnitError struct {
	Unit string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("units: unrecognized depth unit %q", e.Unit)
}

// Parse normalizes a unit string. It accepts "ft"/"feet" and "m"/"meters"
// case-insensitively.
func Parse(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ft", "feet":
		return Feet, nil
	case "m", "meter", "meters":
		return Meters, nil
	default:
		return "", &InvalidUnitError{Unit: s}
	}
}

// ToMeters converts a value in the given unit to meters. The conversion is
// exact floating-point arithmetic; no rounding is applied.
func ToMeters(v float64, u Unit) (float64, error) {
	switch u {
	case Feet:
		return v * FeetToMeters, nil
	case Meters:
		return v, nil
	default:
		return 0, &InvalidUnitError{Unit: string(u)}
	}
}
