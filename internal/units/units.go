// Package units provides shared constants and validation for depth units.
package units

import (
	"slices"
	"strings"
)

// Unit constants
const (
	CM = "cm"
	M  = "m"
	FT = "ft"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, M, FT, IN}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts a distance from centimetres to the target units.
// Records and the database store distances in centimetres.
func ConvertDistance(cm float64, targetUnits string) float64 {
	switch targetUnits {
	case M:
		return cm / 100
	case FT:
		return cm / 30.48
	case IN:
		return cm / 2.54
	default:
		return cm
	}
}
