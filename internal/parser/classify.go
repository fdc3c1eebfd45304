package parser

import (
	"strings"
)

// RecordKind identifies which record grammar applies to a line.
type RecordKind int

const (
	RecordUnknown RecordKind = iota
	RecordUnits
	RecordFileID
	RecordFeatureCount
	RecordSymbol
	RecordAttrName
	RecordAttrText
	RecordPad
	RecordLine
	RecordArc
	RecordText
	RecordBarcode
	RecordSurfaceBegin
	RecordSurfaceEnd
	RecordPolygonBegin
	RecordPolygonSegment
	RecordPolygonArc
	RecordPolygonEnd
)

var recordKindNames = map[RecordKind]string{
	RecordUnknown:        "unknown",
	RecordUnits:          "units",
	RecordFileID:         "id",
	RecordFeatureCount:   "feature-count",
	RecordSymbol:         "symbol",
	RecordAttrName:       "attr-name",
	RecordAttrText:       "attr-text",
	RecordPad:            "pad",
	RecordLine:           "line",
	RecordArc:            "arc",
	RecordText:           "text",
	RecordBarcode:        "barcode",
	RecordSurfaceBegin:   "surface-begin",
	RecordSurfaceEnd:     "surface-end",
	RecordPolygonBegin:   "polygon-begin",
	RecordPolygonSegment: "polygon-segment",
	RecordPolygonArc:     "polygon-arc",
	RecordPolygonEnd:     "polygon-end",
}

func (k RecordKind) String() string {
	if name, ok := recordKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsFeature reports whether the record emits a standalone point feature.
func (k RecordKind) IsFeature() bool {
	switch k {
	case RecordPad, RecordLine, RecordArc, RecordText, RecordBarcode:
		return true
	}
	return false
}

// IsContour reports whether the record drives the contour state machine.
func (k RecordKind) IsContour() bool {
	switch k {
	case RecordSurfaceBegin, RecordSurfaceEnd, RecordPolygonBegin,
		RecordPolygonSegment, RecordPolygonArc, RecordPolygonEnd:
		return true
	}
	return false
}

// Classify decides the record kind of a trimmed, non-empty, non-comment line
// from its leading token alone. Field contents are not inspected.
func Classify(line string) RecordKind {
	if line == "" {
		return RecordUnknown
	}

	switch line[0] {
	case '$':
		return RecordSymbol
	case '@':
		return RecordAttrName
	case '&':
		return RecordAttrText
	}

	if strings.HasPrefix(line, "UNITS=") {
		return RecordUnits
	}
	if strings.HasPrefix(line, "ID=") {
		return RecordFileID
	}

	switch leadingToken(line) {
	case "U":
		return RecordUnits
	case "F":
		return RecordFeatureCount
	case "P":
		return RecordPad
	case "L":
		return RecordLine
	case "A":
		return RecordArc
	case "T":
		return RecordText
	case "B":
		return RecordBarcode
	case "S":
		return RecordSurfaceBegin
	case "SE":
		return RecordSurfaceEnd
	case "OB":
		return RecordPolygonBegin
	case "OS":
		return RecordPolygonSegment
	case "OC":
		return RecordPolygonArc
	case "OE":
		return RecordPolygonEnd
	}
	return RecordUnknown
}

// leadingToken returns the text before the first whitespace or ';'.
func leadingToken(line string) string {
	end := strings.IndexAny(line, " \t;")
	if end < 0 {
		return line
	}
	return line[:end]
}
