package parser

import (
	"strings"
)

// Scale factors from a file's linear unit to millimeters.
const (
	scaleMM   = 1.0
	scaleInch = 25.4
	scaleMil  = 0.0254
)

// UnitScale tracks the active unit directive of one file and the factor
// every coordinate read afterwards is multiplied by.
type UnitScale struct {
	unit  string
	scale float64
}

// NewUnitScale returns a resolver in the default state (millimeters, 1.0).
func NewUnitScale() *UnitScale {
	return &UnitScale{unit: "MM", scale: scaleMM}
}

// Set applies a unit token. An unrecognized token falls back to a scale of
// 1.0 and returns an *UnknownUnitError the caller may report as a warning.
func (u *UnitScale) Set(token string) error {
	tok := strings.ToUpper(strings.TrimSpace(token))
	switch tok {
	case "MM", "MILLIMETERS":
		u.unit, u.scale = "MM", scaleMM
	case "INCH", "IN":
		u.unit, u.scale = "INCH", scaleInch
	case "MIL":
		u.unit, u.scale = "MIL", scaleMil
	default:
		u.unit, u.scale = "MM", scaleMM
		return &UnknownUnitError{Token: token}
	}
	return nil
}

// Scale returns the current multiplier.
func (u *UnitScale) Scale() float64 {
	return u.scale
}

// Unit returns the canonical name of the active unit.
func (u *UnitScale) Unit() string {
	return u.unit
}
