// Package models contains domain types for the ODB++ feature service.
package models

import "sort"

// FeatureKind names the variant of a Feature.
type FeatureKind string

const (
	FeatureKindPad     FeatureKind = "pad"
	FeatureKindLine    FeatureKind = "line"
	FeatureKindArc     FeatureKind = "arc"
	FeatureKindText    FeatureKind = "text"
	FeatureKindBarcode FeatureKind = "barcode"
	FeatureKindSurface FeatureKind = "surface"
)

// Polarity of a feature: positive features add copper, negative ones remove it.
type Polarity string

const (
	PolarityPositive Polarity = "P"
	PolarityNegative Polarity = "N"
)

// Point is a 2D coordinate in millimeters (already scaled).
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Feature is the closed set of graphic feature records:
// *Pad, *Line, *Arc, *Text, *Barcode and *Surface.
// Consumers switch on the concrete type and must handle every variant.
type Feature interface {
	Kind() FeatureKind
	Common() *FeatureCommon
	isFeature()
}

// FeatureCommon holds the optional suffix shared by all feature records.
type FeatureCommon struct {
	UniqueID   string         `json:"uniqueId,omitempty" msgpack:"uniqueId,omitempty"`
	Attributes map[int]string `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// Common returns the shared suffix fields.
func (c *FeatureCommon) Common() *FeatureCommon { return c }

// Attr returns the attribute assignment with the lowest index, if any.
func (c *FeatureCommon) Attr() (int, string, bool) {
	if len(c.Attributes) == 0 {
		return 0, "", false
	}
	keys := make([]int, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys[0], c.Attributes[keys[0]], true
}

// Pad is a symbol placed at a point.
type Pad struct {
	FeatureCommon `msgpack:",inline"`
	Center        Point    `json:"center" msgpack:"center"`
	Symbol        int      `json:"symbol" msgpack:"symbol"`
	Orientation   int      `json:"orientation" msgpack:"orientation"`
	Rotation      float64  `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Resize        float64  `json:"resize,omitempty" msgpack:"resize,omitempty"`
	Polarity      Polarity `json:"polarity" msgpack:"polarity"`
	DCode         int      `json:"dcode" msgpack:"dcode"`
}

// Line is a straight trace drawn with a symbol.
type Line struct {
	FeatureCommon `msgpack:",inline"`
	Start         Point    `json:"start" msgpack:"start"`
	End           Point    `json:"end" msgpack:"end"`
	Symbol        int      `json:"symbol" msgpack:"symbol"`
	Polarity      Polarity `json:"polarity" msgpack:"polarity"`
	DCode         int      `json:"dcode" msgpack:"dcode"`
}

// Arc is a circular trace drawn with a symbol.
type Arc struct {
	FeatureCommon `msgpack:",inline"`
	Start         Point    `json:"start" msgpack:"start"`
	End           Point    `json:"end" msgpack:"end"`
	Center        Point    `json:"center" msgpack:"center"`
	Symbol        int      `json:"symbol" msgpack:"symbol"`
	Polarity      Polarity `json:"polarity" msgpack:"polarity"`
	DCode         int      `json:"dcode" msgpack:"dcode"`
	Clockwise     bool     `json:"clockwise" msgpack:"clockwise"`
}

// Text is a string drawn with a stroke font. Value is kept verbatim,
// including any $$ dynamic variables.
type Text struct {
	FeatureCommon `msgpack:",inline"`
	Position      Point    `json:"position" msgpack:"position"`
	Font          string   `json:"font" msgpack:"font"`
	Polarity      Polarity `json:"polarity" msgpack:"polarity"`
	Orientation   int      `json:"orientation" msgpack:"orientation"`
	Rotation      float64  `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Width         float64  `json:"width" msgpack:"width"`
	Height        float64  `json:"height" msgpack:"height"`
	WidthFactor   float64  `json:"widthFactor" msgpack:"widthFactor"`
	Value         string   `json:"value" msgpack:"value"`
	Version       bool     `json:"version" msgpack:"version"`
}

// BarcodeName is the only barcode symbology the format defines.
const BarcodeName = "UPC39"

// Barcode is a UPC39 barcode with an optional human readable string.
type Barcode struct {
	FeatureCommon      `msgpack:",inline"`
	Position           Point    `json:"position" msgpack:"position"`
	Name               string   `json:"name" msgpack:"name"`
	Font               string   `json:"font" msgpack:"font"`
	Polarity           Polarity `json:"polarity" msgpack:"polarity"`
	Orientation        int      `json:"orientation" msgpack:"orientation"`
	Rotation           float64  `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	ElementWidth       float64  `json:"elementWidth" msgpack:"elementWidth"`
	Height             float64  `json:"height" msgpack:"height"`
	FullASCII          bool     `json:"fullAscii" msgpack:"fullAscii"`
	Checksum           bool     `json:"checksum" msgpack:"checksum"`
	InvertedBackground bool     `json:"invertedBackground" msgpack:"invertedBackground"`
	AdditionalString   bool     `json:"additionalString" msgpack:"additionalString"`
	StringPosition     string   `json:"stringPosition" msgpack:"stringPosition"` // "T" or "B"
	Value              string   `json:"value" msgpack:"value"`
}

// Surface is a filled region bounded by one or more contours.
type Surface struct {
	FeatureCommon `msgpack:",inline"`
	Polarity      Polarity         `json:"polarity" msgpack:"polarity"`
	DCode         int              `json:"dcode" msgpack:"dcode"`
	Polygons      []ContourPolygon `json:"polygons" msgpack:"polygons"`
}

func (*Pad) Kind() FeatureKind     { return FeatureKindPad }
func (*Line) Kind() FeatureKind    { return FeatureKindLine }
func (*Arc) Kind() FeatureKind     { return FeatureKindArc }
func (*Text) Kind() FeatureKind    { return FeatureKindText }
func (*Barcode) Kind() FeatureKind { return FeatureKindBarcode }
func (*Surface) Kind() FeatureKind { return FeatureKindSurface }

func (*Pad) isFeature()     {}
func (*Line) isFeature()    {}
func (*Arc) isFeature()     {}
func (*Text) isFeature()    {}
func (*Barcode) isFeature() {}
func (*Surface) isFeature() {}

// ContourKind is the winding classification of a contour ring.
type ContourKind string

const (
	ContourIsland ContourKind = "island"
	ContourHole   ContourKind = "hole"
)

// ContourPolygon is a closed ring of segments and arcs.
type ContourPolygon struct {
	Kind  ContourKind   `json:"kind" msgpack:"kind"`
	Start Point         `json:"start" msgpack:"start"`
	Parts []PolygonPart `json:"parts" msgpack:"parts"`
}

// PartKind distinguishes straight from curved contour parts.
type PartKind string

const (
	PartSegment PartKind = "segment"
	PartArc     PartKind = "arc"
)

// PolygonPart is one edge of a contour. Center and Clockwise are only
// meaningful for arcs.
type PolygonPart struct {
	Kind      PartKind `json:"kind" msgpack:"kind"`
	End       Point    `json:"end" msgpack:"end"`
	Center    Point    `json:"center,omitempty" msgpack:"center,omitempty"`
	Clockwise bool     `json:"clockwise,omitempty" msgpack:"clockwise,omitempty"`
}

// Closed reports whether the ring ends exactly where it started.
func (p *ContourPolygon) Closed() bool {
	if len(p.Parts) == 0 {
		return false
	}
	return p.Parts[len(p.Parts)-1].End == p.Start
}
