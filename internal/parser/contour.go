package parser

import (
	"strconv"

	"github.com/odb-viewer/backend/internal/models"
)

// contourAssembler enforces S…SE / OB…OE nesting and assembles surfaces.
//
//	Outside   --S-->  InSurface
//	InSurface --OB--> InPolygon
//	InPolygon --OS/OC--> InPolygon
//	InPolygon --OE--> InSurface   (ring must close)
//	InSurface --SE--> Outside     (surface must have a polygon)
type contourAssembler struct {
	state ContourState

	surface     *models.Surface
	surfaceLine int
	polygon     *models.ContourPolygon
	polygonLine int
}

func newContourAssembler() *contourAssembler {
	return &contourAssembler{state: StateOutside}
}

func (a *contourAssembler) violation(line int, raw, expected, reason string) *StructuralError {
	return &StructuralError{
		Line:     line,
		Raw:      raw,
		Expected: expected,
		Actual:   a.state,
		Reason:   reason,
	}
}

// beginSurface opens a surface accumulator.
func (a *contourAssembler) beginSurface(line int, raw string, s *models.Surface) error {
	if a.state != StateOutside {
		return a.violation(line, raw, StateOutside.String(), "surface begins inside an open surface")
	}
	a.surface = s
	a.surfaceLine = line
	a.state = StateInSurface
	return nil
}

// beginPolygon opens a contour inside the open surface.
func (a *contourAssembler) beginPolygon(line int, raw string, p *models.ContourPolygon) error {
	switch a.state {
	case StateOutside:
		return a.violation(line, raw, StateInSurface.String(), "polygon begins outside a surface")
	case StateInPolygon:
		return a.violation(line, raw, StateInSurface.String(), "polygon begins inside an open polygon")
	}
	a.polygon = p
	a.polygonLine = line
	a.state = StateInPolygon
	return nil
}

// addPart appends a segment or arc to the open contour.
func (a *contourAssembler) addPart(line int, raw string, part models.PolygonPart) error {
	if a.state != StateInPolygon {
		return a.violation(line, raw, StateInPolygon.String(), "polygon "+string(part.Kind)+" outside a polygon")
	}
	a.polygon.Parts = append(a.polygon.Parts, part)
	return nil
}

// endPolygon checks ring closure and moves the contour into the surface.
func (a *contourAssembler) endPolygon(line int, raw string) error {
	if a.state != StateInPolygon {
		return a.violation(line, raw, StateInPolygon.String(), "polygon end without polygon begin")
	}
	if len(a.polygon.Parts) == 0 {
		return a.violation(line, raw, "", "polygon has no segments")
	}
	if !a.polygon.Closed() {
		end := a.polygon.Parts[len(a.polygon.Parts)-1].End
		return a.violation(line, raw, "", "polygon is not closed: ends at "+formatPoint(end)+
			", starts at "+formatPoint(a.polygon.Start))
	}
	a.surface.Polygons = append(a.surface.Polygons, *a.polygon)
	a.polygon = nil
	a.state = StateInSurface
	return nil
}

// endSurface validates and releases the completed surface.
func (a *contourAssembler) endSurface(line int, raw string) (*models.Surface, error) {
	switch a.state {
	case StateOutside:
		return nil, a.violation(line, raw, StateInSurface.String(), "surface end without surface begin")
	case StateInPolygon:
		return nil, a.violation(line, raw, StateInSurface.String(), "surface ends inside an open polygon")
	}
	if len(a.surface.Polygons) == 0 {
		return nil, a.violation(line, raw, "", "surface has no polygons")
	}
	s := a.surface
	a.surface = nil
	a.state = StateOutside
	return s, nil
}

// requireOutside rejects standalone features inside an open surface.
func (a *contourAssembler) requireOutside(line int, raw string, kind RecordKind) error {
	if a.state != StateOutside {
		return a.violation(line, raw, StateOutside.String(), kind.String()+" record inside an open surface")
	}
	return nil
}

// finish reports an unterminated surface or polygon at end of input.
func (a *contourAssembler) finish() error {
	switch a.state {
	case StateInPolygon:
		return a.violation(a.polygonLine, "", "", "unterminated polygon at end of input")
	case StateInSurface:
		return a.violation(a.surfaceLine, "", "", "unterminated surface at end of input")
	}
	return nil
}

func formatPoint(p models.Point) string {
	return "(" + strconv.FormatFloat(p.X, 'g', -1, 64) + ", " + strconv.FormatFloat(p.Y, 'g', -1, 64) + ")"
}
