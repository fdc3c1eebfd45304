package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
)

// openRecord splits a line, consumes its leading tag and parses the suffix.
func openRecord(line, tag string, scale float64) (*fieldCursor, models.FeatureCommon, error) {
	fields, quoted, suffix, err := splitRecord(line)
	if err != nil {
		return nil, models.FeatureCommon{}, err
	}
	common, err := parseSuffix(suffix)
	if err != nil {
		return nil, common, err
	}
	c := newFieldCursor(fields, quoted, scale)
	c.literal(tag)
	return c, common, c.Err()
}

// parsePad reads `P x y apt pol dcode orient [rot]` where apt is either a
// symbol index or `-1 <sym> <resize>`. The legacy short form
// `P x y sym pol orient [rot]` has dcode 0.
func parsePad(line string, scale float64) (*models.Pad, error) {
	c, common, err := openRecord(line, "P", scale)
	if err != nil {
		return nil, err
	}

	pad := &models.Pad{FeatureCommon: common}
	pad.Center = c.point("center")
	if tok, ok := c.peek(); ok && tok == "-1" {
		c.plain("resize marker")
		pad.Symbol = c.integer("symbol")
		pad.Resize = c.float("resize factor")
	} else {
		pad.Symbol = c.integer("symbol")
	}
	pad.Polarity = c.polarity()
	if c.remaining() > 1 && !c.shortFormRotation() {
		pad.DCode = c.integer("dcode")
	}
	pad.Orientation, pad.Rotation = c.orientation()
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return pad, nil
}

// parseLine reads `L xs ys xe ye sym pol [dcode]`.
func parseLine(line string, scale float64) (*models.Line, error) {
	c, common, err := openRecord(line, "L", scale)
	if err != nil {
		return nil, err
	}

	l := &models.Line{FeatureCommon: common}
	l.Start = c.point("start")
	l.End = c.point("end")
	l.Symbol = c.integer("symbol")
	l.Polarity = c.polarity()
	if c.remaining() > 0 {
		l.DCode = c.integer("dcode")
	}
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// parseArc reads `A xs ys xe ye xc yc sym pol dcode cw`.
func parseArc(line string, scale float64) (*models.Arc, error) {
	c, common, err := openRecord(line, "A", scale)
	if err != nil {
		return nil, err
	}

	a := &models.Arc{FeatureCommon: common}
	a.Start = c.point("start")
	a.End = c.point("end")
	a.Center = c.point("center")
	a.Symbol = c.integer("symbol")
	a.Polarity = c.polarity()
	a.DCode = c.integer("dcode")
	a.Clockwise = c.flag("clockwise", "Y", "N")
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// parseText reads `T x y font pol orient [rot] xsize ysize wfactor 'text' [version]`.
func parseText(line string, scale float64) (*models.Text, error) {
	c, common, err := openRecord(line, "T", scale)
	if err != nil {
		return nil, err
	}

	t := &models.Text{FeatureCommon: common}
	t.Position = c.point("position")
	t.Font = c.plain("font")
	t.Polarity = c.polarity()
	t.Orientation, t.Rotation = c.orientation()
	t.Width = c.coord("character width")
	t.Height = c.coord("character height")
	t.WidthFactor = c.float("width factor")
	t.Value = c.quotedString("text")
	if c.remaining() > 0 {
		switch v := c.integer("version"); {
		case c.Err() != nil:
		case v == 0 || v == 1:
			t.Version = v == 1
		default:
			c.fail("invalid version %d", v)
		}
	}
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// parseBarcode reads
// `B x y UPC39 font pol orient [rot] E w h fasc cs bg astr T|B 'text'`.
func parseBarcode(line string, scale float64) (*models.Barcode, error) {
	c, common, err := openRecord(line, "B", scale)
	if err != nil {
		return nil, err
	}

	b := &models.Barcode{FeatureCommon: common}
	b.Position = c.point("position")
	b.Name = c.plain("barcode")
	if c.Err() == nil && b.Name != models.BarcodeName {
		c.fail("unsupported barcode %q", b.Name)
	}
	b.Font = c.plain("font")
	b.Polarity = c.polarity()
	b.Orientation, b.Rotation = c.orientation()
	c.literal("E")
	b.ElementWidth = c.coord("element width")
	b.Height = c.coord("height")
	b.FullASCII = c.flag("full ascii", "Y", "N")
	b.Checksum = c.flag("checksum", "Y", "N")
	b.InvertedBackground = c.flag("background", "Y", "N")
	b.AdditionalString = c.flag("additional string", "Y", "N")
	if pos := c.plain("string position"); c.Err() == nil {
		if pos != "T" && pos != "B" {
			c.fail("invalid string position %q", pos)
		}
		b.StringPosition = pos
	}
	b.Value = c.quotedString("text")
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

// parseSurfaceBegin reads `S pol dcode` and its attribute suffix.
func parseSurfaceBegin(line string, scale float64) (*models.Surface, error) {
	c, common, err := openRecord(line, "S", scale)
	if err != nil {
		return nil, err
	}

	s := &models.Surface{FeatureCommon: common}
	s.Polarity = c.polarity()
	s.DCode = c.integer("dcode")
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// parsePolygonBegin reads `OB x y I|H`.
func parsePolygonBegin(line string, scale float64) (*models.ContourPolygon, error) {
	c, _, err := openRecord(line, "OB", scale)
	if err != nil {
		return nil, err
	}

	p := &models.ContourPolygon{}
	p.Start = c.point("start")
	if island := c.flag("polygon type", "I", "H"); c.Err() == nil {
		p.Kind = models.ContourHole
		if island {
			p.Kind = models.ContourIsland
		}
	}
	c.done()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// parsePolygonSegment reads `OS x y`.
func parsePolygonSegment(line string, scale float64) (models.PolygonPart, error) {
	c, _, err := openRecord(line, "OS", scale)
	if err != nil {
		return models.PolygonPart{}, err
	}

	part := models.PolygonPart{Kind: models.PartSegment}
	part.End = c.point("end")
	c.done()
	return part, c.Err()
}

// parsePolygonArc reads `OC xe ye xc yc Y|N`.
func parsePolygonArc(line string, scale float64) (models.PolygonPart, error) {
	c, _, err := openRecord(line, "OC", scale)
	if err != nil {
		return models.PolygonPart{}, err
	}

	part := models.PolygonPart{Kind: models.PartArc}
	part.End = c.point("end")
	part.Center = c.point("center")
	part.Clockwise = c.flag("clockwise", "Y", "N")
	c.done()
	return part, c.Err()
}

// parseBareRecord checks that OE and SE carry no fields.
func parseBareRecord(line, tag string) error {
	c, _, err := openRecord(line, tag, 1)
	if err != nil {
		return err
	}
	c.done()
	return c.Err()
}

// parseIndexedName reads `<prefix><index> <value>` as used by `$`, `@` and
// `&` table records. When firstWordOnly is set the value stops at the first
// whitespace (symbol names carry an optional trailing unit flag).
func parseIndexedName(line string, firstWordOnly bool) (int, string, error) {
	body := strings.TrimSpace(line[1:])
	idxStr := leadingToken(body)
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, "", fmt.Errorf("invalid index %q", idxStr)
	}
	value := strings.TrimSpace(body[len(idxStr):])
	if value == "" {
		return 0, "", fmt.Errorf("missing name for index %d", idx)
	}
	if firstWordOnly {
		value = strings.Fields(value)[0]
	}
	return idx, value, nil
}

// parseUnits returns the token of `UNITS=<tok>` or `U <tok>`.
func parseUnits(line string) (string, error) {
	if strings.HasPrefix(line, "UNITS=") {
		tok := strings.TrimSpace(strings.TrimPrefix(line, "UNITS="))
		if tok == "" {
			return "", fmt.Errorf("missing unit")
		}
		return tok, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", fmt.Errorf("expected `U <unit>`")
	}
	return fields[1], nil
}

// parseFeatureCount reads `F <n>`.
func parseFeatureCount(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, fmt.Errorf("expected `F <count>`")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid feature count %q", fields[1])
	}
	return n, nil
}
