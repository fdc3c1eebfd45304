package parser

import (
	"fmt"
	"math"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
	"seehuhn.de/go/geom/rect"
)

// BuildOutline converts the positive surfaces of a parsed file into SVG path
// data. Islands and holes are kept apart so a renderer can fill with the
// even-odd rule or cut holes explicitly. Negative surfaces are ignored.
func BuildOutline(features []models.Feature) *models.BoardOutline {
	outline := &models.BoardOutline{
		Islands: make([]string, 0),
		Holes:   make([]string, 0),
	}
	var box bounds
	for _, f := range features {
		s, ok := f.(*models.Surface)
		if !ok || s.Polarity != models.PolarityPositive {
			continue
		}
		for i := range s.Polygons {
			poly := &s.Polygons[i]
			path := contourPath(poly)
			if poly.Kind == models.ContourHole {
				outline.Holes = append(outline.Holes, path)
			} else {
				outline.Islands = append(outline.Islands, path)
			}
			box.addContour(poly)
		}
	}
	outline.Bounds = box.r
	return outline
}

// contourPath renders one ring as `M .. L .. A .. Z` with three decimals.
func contourPath(poly *models.ContourPolygon) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "M %.3f %.3f", poly.Start.X, poly.Start.Y)

	cur := poly.Start
	for _, part := range poly.Parts {
		switch part.Kind {
		case models.PartArc:
			writeArc(&sb, cur, part)
		default:
			fmt.Fprintf(&sb, " L %.3f %.3f", part.End.X, part.End.Y)
		}
		cur = part.End
	}
	sb.WriteString(" Z")
	return sb.String()
}

// writeArc emits an SVG elliptical arc command. A full circle cannot be one
// SVG arc, so it is split at the opposite point.
func writeArc(sb *strings.Builder, from models.Point, part models.PolygonPart) {
	c := part.Center
	r := math.Hypot(from.X-c.X, from.Y-c.Y)
	span := arcSpan(from, part.End, c, part.Clockwise)

	// Board coordinates are y-up, where the positive angle direction is
	// counter-clockwise.
	sweep := 1
	if part.Clockwise {
		sweep = 0
	}

	if from == part.End {
		mid := models.Point{X: 2*c.X - from.X, Y: 2*c.Y - from.Y}
		fmt.Fprintf(sb, " A %.3f %.3f 0 0 %d %.3f %.3f", r, r, sweep, mid.X, mid.Y)
		fmt.Fprintf(sb, " A %.3f %.3f 0 0 %d %.3f %.3f", r, r, sweep, part.End.X, part.End.Y)
		return
	}

	large := 0
	if span > math.Pi {
		large = 1
	}
	fmt.Fprintf(sb, " A %.3f %.3f 0 %d %d %.3f %.3f", r, r, large, sweep, part.End.X, part.End.Y)
}

// arcSpan returns the swept angle in (0, 2π] going from start to end around
// center in the given direction. Coincident endpoints mean a full circle.
func arcSpan(start, end, center models.Point, clockwise bool) float64 {
	a0 := math.Atan2(start.Y-center.Y, start.X-center.X)
	a1 := math.Atan2(end.Y-center.Y, end.X-center.X)
	d := a1 - a0
	if clockwise {
		d = -d
	}
	d = math.Mod(d, 2*math.Pi)
	if d <= 0 {
		d += 2 * math.Pi
	}
	return d
}

// RenderOutlineSVG wraps an outline into a standalone SVG document. The
// y axis is flipped so the board reads the right way up.
func RenderOutlineSVG(outline *models.BoardOutline, color string) string {
	if color == "" {
		color = "#2E7D32"
	}
	b := outline.Bounds
	w, h := b.URx-b.LLx, b.URy-b.LLy
	margin := math.Max(w, h) * 0.02
	if margin == 0 {
		margin = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="%.3f %.3f %.3f %.3f">`,
		b.LLx-margin, -b.URy-margin, w+2*margin, h+2*margin)
	sb.WriteString("\n")
	sb.WriteString(`<g transform="scale(1,-1)">`)
	sb.WriteString("\n")
	if !outline.Empty() {
		paths := make([]string, 0, len(outline.Islands)+len(outline.Holes))
		paths = append(paths, outline.Islands...)
		paths = append(paths, outline.Holes...)
		fmt.Fprintf(&sb, `<path d="%s" fill="%s" fill-rule="evenodd" stroke="%s" stroke-width="%.3f"/>`,
			strings.Join(paths, " "), color, color, margin/4)
		sb.WriteString("\n")
	}
	sb.WriteString("</g>\n</svg>\n")
	return sb.String()
}

// FeatureBounds returns the axis-aligned box of a feature's geometry.
// Symbol extents are not known to the parser, so pads, texts and barcodes
// reduce to their anchor point.
func FeatureBounds(f models.Feature) (rect.Rect, error) {
	var box bounds
	switch v := f.(type) {
	case *models.Pad:
		box.add(v.Center)
	case *models.Line:
		box.add(v.Start)
		box.add(v.End)
	case *models.Arc:
		box.addArc(v.Start, v.End, v.Center, v.Clockwise)
	case *models.Text:
		box.add(v.Position)
	case *models.Barcode:
		box.add(v.Position)
	case *models.Surface:
		for i := range v.Polygons {
			box.addContour(&v.Polygons[i])
		}
	default:
		return rect.Rect{}, fmt.Errorf("unknown feature type %T", f)
	}
	return box.r, nil
}

// bounds accumulates a bounding box. The zero value is empty.
type bounds struct {
	r   rect.Rect
	set bool
}

func (b *bounds) add(p models.Point) {
	if !b.set {
		b.r = rect.Rect{LLx: p.X, LLy: p.Y, URx: p.X, URy: p.Y}
		b.set = true
		return
	}
	b.r.LLx = math.Min(b.r.LLx, p.X)
	b.r.LLy = math.Min(b.r.LLy, p.Y)
	b.r.URx = math.Max(b.r.URx, p.X)
	b.r.URy = math.Max(b.r.URy, p.Y)
}

func (b *bounds) addContour(poly *models.ContourPolygon) {
	b.add(poly.Start)
	cur := poly.Start
	for _, part := range poly.Parts {
		if part.Kind == models.PartArc {
			b.addArc(cur, part.End, part.Center, part.Clockwise)
		} else {
			b.add(part.End)
		}
		cur = part.End
	}
}

// addArc adds both endpoints and every axis extreme the arc passes.
func (b *bounds) addArc(start, end, center models.Point, clockwise bool) {
	b.add(start)
	b.add(end)

	r := math.Hypot(start.X-center.X, start.Y-center.Y)
	a0 := math.Atan2(start.Y-center.Y, start.X-center.X)
	span := arcSpan(start, end, center, clockwise)
	for k := 0; k < 4; k++ {
		theta := float64(k) * math.Pi / 2
		d := theta - a0
		if clockwise {
			d = -d
		}
		d = math.Mod(d, 2*math.Pi)
		if d < 0 {
			d += 2 * math.Pi
		}
		if d <= span {
			b.add(models.Point{X: center.X + r*math.Cos(theta), Y: center.Y + r*math.Sin(theta)})
		}
	}
}
