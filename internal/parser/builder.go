package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
	"golang.org/x/text/encoding/charmap"
)

// maxLineSize bounds a single record line; surfaces are split over many
// lines so real records stay far below this.
const maxLineSize = 1024 * 1024

// FeatureBuilder is the parser context of a single file. It owns the unit
// scale, the symbol table and the contour state, and must not be shared
// between files or goroutines.
type FeatureBuilder struct {
	kind     models.FileKind
	units    *UnitScale
	symbols  *SymbolTable
	contour  *contourAssembler
	intern   *StringIntern
	file     *models.FeatureFile
	warnings []*models.ParseWarning

	attrNames map[int]string
	attrTexts map[int]string

	featuresStarted bool
	countLine       int
	lastLine        int
}

// NewFeatureBuilder creates a fresh context for one file of the given kind.
func NewFeatureBuilder(kind models.FileKind) *FeatureBuilder {
	return &FeatureBuilder{
		kind:    kind,
		units:   NewUnitScale(),
		symbols: NewSymbolTable(),
		contour: newContourAssembler(),
		intern:  NewStringIntern(),
		file: &models.FeatureFile{
			Kind:     kind,
			Features: make([]models.Feature, 0),
		},
		warnings:  make([]*models.ParseWarning, 0),
		attrNames: make(map[int]string),
		attrTexts: make(map[int]string),
	}
}

// UseIntern shares a string pool with other builders.
func (b *FeatureBuilder) UseIntern(si *StringIntern) {
	if si != nil {
		b.intern = si
	}
}

func (b *FeatureBuilder) warn(kind models.WarningKind, lineNum int, raw, msg string) {
	b.warnings = append(b.warnings, &models.ParseWarning{
		Kind:    kind,
		Line:    lineNum,
		Raw:     raw,
		Message: msg,
	})
}

func (b *FeatureBuilder) malformed(lineNum int, raw string, kind RecordKind, err error) {
	me := &MalformedRecordError{Line: lineNum, Raw: raw, Kind: kind, Reason: err.Error()}
	b.warn(models.WarningMalformed, lineNum, raw, me.Error())
}

// Feed processes one physical line. lineNum is 1-based and counts blank and
// comment lines. Only structural errors are returned; record-level problems
// become warnings.
func (b *FeatureBuilder) Feed(lineNum int, raw string) error {
	b.lastLine = lineNum
	line := strings.TrimSpace(raw)
	if line == "" || line[0] == '#' {
		return nil
	}

	kind := Classify(line)
	if b.kind == models.FileKindProfile && kind.IsFeature() {
		b.warn(models.WarningNotInProfile, lineNum, line, kind.String()+" record is not allowed in a profile file")
		return nil
	}

	switch kind {
	case RecordUnits:
		b.feedUnits(lineNum, line)
	case RecordFileID:
		b.file.ID = strings.TrimSpace(strings.TrimPrefix(line, "ID="))
	case RecordFeatureCount:
		n, err := parseFeatureCount(line)
		if err != nil {
			b.malformed(lineNum, line, kind, err)
			return nil
		}
		b.file.DeclaredCount = n
		b.countLine = lineNum
	case RecordSymbol, RecordAttrName, RecordAttrText:
		idx, name, err := parseIndexedName(line, kind == RecordSymbol)
		if err != nil {
			b.malformed(lineNum, line, kind, err)
			return nil
		}
		switch kind {
		case RecordSymbol:
			b.symbols.Define(idx, b.intern.Intern(name))
		case RecordAttrName:
			b.attrNames[idx] = name
		default:
			b.attrTexts[idx] = name
		}
	case RecordPad, RecordLine, RecordArc, RecordText, RecordBarcode:
		b.featuresStarted = true
		if err := b.contour.requireOutside(lineNum, line, kind); err != nil {
			return err
		}
		b.feedFeature(lineNum, line, kind)
	case RecordSurfaceBegin, RecordSurfaceEnd, RecordPolygonBegin,
		RecordPolygonSegment, RecordPolygonArc, RecordPolygonEnd:
		b.featuresStarted = true
		return b.feedContour(lineNum, line, kind)
	default:
		b.warn(models.WarningUnrecognized, lineNum, line, "unrecognized record")
	}
	return nil
}

func (b *FeatureBuilder) feedUnits(lineNum int, line string) {
	tok, err := parseUnits(line)
	if err != nil {
		b.malformed(lineNum, line, RecordUnits, err)
		return
	}
	prev := b.units.Unit()
	if err := b.units.Set(tok); err != nil {
		b.warn(models.WarningUnknownUnit, lineNum, line, err.Error())
	}
	if b.featuresStarted {
		b.warn(models.WarningUnitRedeclared, lineNum, line,
			fmt.Sprintf("units changed from %s to %s after feature records; only later records use %s",
				prev, b.units.Unit(), b.units.Unit()))
	}
}

func (b *FeatureBuilder) feedFeature(lineNum int, line string, kind RecordKind) {
	scale := b.units.Scale()

	var (
		feat   models.Feature
		symbol = -1
		err    error
	)
	switch kind {
	case RecordPad:
		var p *models.Pad
		if p, err = parsePad(line, scale); err == nil {
			feat, symbol = p, p.Symbol
		}
	case RecordLine:
		var l *models.Line
		if l, err = parseLine(line, scale); err == nil {
			feat, symbol = l, l.Symbol
		}
	case RecordArc:
		var a *models.Arc
		if a, err = parseArc(line, scale); err == nil {
			feat, symbol = a, a.Symbol
		}
	case RecordText:
		var t *models.Text
		if t, err = parseText(line, scale); err == nil {
			feat = t
		}
	case RecordBarcode:
		var bc *models.Barcode
		if bc, err = parseBarcode(line, scale); err == nil {
			feat = bc
		}
	}
	if err != nil {
		b.malformed(lineNum, line, kind, err)
		return
	}

	if symbol >= 0 {
		if _, ok := b.symbols.Lookup(symbol); !ok {
			b.warn(models.WarningUnresolvedSymbol, lineNum, line,
				fmt.Sprintf("symbol %d is not defined", symbol))
		}
	}
	b.internAttributes(feat.Common())
	b.file.Features = append(b.file.Features, feat)
}

func (b *FeatureBuilder) feedContour(lineNum int, line string, kind RecordKind) error {
	scale := b.units.Scale()

	switch kind {
	case RecordSurfaceBegin:
		s, err := parseSurfaceBegin(line, scale)
		if err != nil {
			b.malformed(lineNum, line, kind, err)
			return nil
		}
		b.internAttributes(s.Common())
		return b.contour.beginSurface(lineNum, line, s)

	case RecordPolygonBegin:
		p, err := parsePolygonBegin(line, scale)
		if err != nil {
			b.malformed(lineNum, line, kind, err)
			return nil
		}
		return b.contour.beginPolygon(lineNum, line, p)

	case RecordPolygonSegment, RecordPolygonArc:
		var (
			part models.PolygonPart
			err  error
		)
		if kind == RecordPolygonSegment {
			part, err = parsePolygonSegment(line, scale)
		} else {
			part, err = parsePolygonArc(line, scale)
		}
		if err != nil {
			b.malformed(lineNum, line, kind, err)
			return nil
		}
		return b.contour.addPart(lineNum, line, part)

	case RecordPolygonEnd:
		if err := parseBareRecord(line, "OE"); err != nil {
			b.malformed(lineNum, line, kind, err)
		}
		return b.contour.endPolygon(lineNum, line)

	case RecordSurfaceEnd:
		if err := parseBareRecord(line, "SE"); err != nil {
			b.malformed(lineNum, line, kind, err)
		}
		s, err := b.contour.endSurface(lineNum, line)
		if err != nil {
			return err
		}
		b.file.Features = append(b.file.Features, s)
	}
	return nil
}

func (b *FeatureBuilder) internAttributes(c *models.FeatureCommon) {
	for idx, v := range c.Attributes {
		c.Attributes[idx] = b.intern.Intern(v)
	}
}

// Finish checks the end-of-input state and returns the parsed file.
func (b *FeatureBuilder) Finish() (*models.FeatureFile, []*models.ParseWarning, error) {
	if err := b.contour.finish(); err != nil {
		return nil, b.warnings, err
	}

	if b.countLine > 0 && b.file.DeclaredCount != len(b.file.Features) {
		b.warn(models.WarningCountMismatch, b.countLine, "",
			fmt.Sprintf("file declares %d features, parsed %d", b.file.DeclaredCount, len(b.file.Features)))
	}

	b.file.Units = b.units.Unit()
	b.file.Scale = b.units.Scale()
	b.file.LineCount = b.lastLine
	if b.symbols.Len() > 0 {
		b.file.Symbols = b.symbols.Snapshot()
	}
	if len(b.attrNames) > 0 {
		b.file.AttrNames = b.attrNames
	}
	if len(b.attrTexts) > 0 {
		b.file.AttrTexts = b.attrTexts
	}
	return b.file, b.warnings, nil
}

// ParseLines parses an already materialized line sequence.
func ParseLines(kind models.FileKind, lines []string) (*models.FeatureFile, []*models.ParseWarning, error) {
	b := NewFeatureBuilder(kind)
	for i, line := range lines {
		if err := b.Feed(i+1, line); err != nil {
			return nil, b.warnings, err
		}
	}
	return b.Finish()
}

// ParseReader decodes ISO-8859-1 text from r and parses it line by line.
func ParseReader(kind models.FileKind, r io.Reader) (*models.FeatureFile, []*models.ParseWarning, error) {
	return ParseReaderWithProgress(kind, r, 0, nil)
}

// ParseReaderWithProgress is ParseReader with a callback every
// progressInterval lines. totalBytes is passed through to the callback.
func ParseReaderWithProgress(kind models.FileKind, r io.Reader, totalBytes int64, onProgress ProgressCallback) (*models.FeatureFile, []*models.ParseWarning, error) {
	return ParseStream(NewFeatureBuilder(kind), r, totalBytes, onProgress)
}

// ParseStream feeds b from r until EOF and finishes it.
func ParseStream(b *FeatureBuilder, r io.Reader, totalBytes int64, onProgress ProgressCallback) (*models.FeatureFile, []*models.ParseWarning, error) {
	counter := &countingReader{r: r}
	decoded := charmap.ISO8859_1.NewDecoder().Reader(counter)

	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := b.Feed(lineNum, scanner.Text()); err != nil {
			return nil, b.warnings, err
		}
		if onProgress != nil && lineNum%progressInterval == 0 {
			onProgress(lineNum, counter.n, totalBytes)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, b.warnings, fmt.Errorf("line %d exceeds %d bytes: %w", lineNum+1, maxLineSize, err)
		}
		return nil, b.warnings, fmt.Errorf("reading input: %w", err)
	}
	if onProgress != nil {
		onProgress(lineNum, counter.n, totalBytes)
	}
	return b.Finish()
}

// countingReader tracks bytes consumed for progress reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
