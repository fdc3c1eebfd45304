package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
)

// splitRecord separates a record into whitespace-delimited fields and its
// optional ';' suffix. A single-quoted field is kept whole with its quotes
// removed; quoted[i] marks which fields were quoted.
func splitRecord(line string) (fields []string, quoted []bool, suffix string, err error) {
	i := 0
	n := len(line)
	for i < n {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == ';':
			return fields, quoted, line[i:], nil
		case c == '\'':
			end := closingQuote(line, i+1)
			if end < 0 {
				return nil, nil, "", fmt.Errorf("unterminated quoted string")
			}
			fields = append(fields, line[i+1:end])
			quoted = append(quoted, true)
			i = end + 1
		default:
			start := i
			for i < n && line[i] != ' ' && line[i] != '\t' && line[i] != ';' {
				i++
			}
			fields = append(fields, line[start:i])
			quoted = append(quoted, false)
		}
	}
	return fields, quoted, "", nil
}

// closingQuote finds the quote ending a string that starts at from: the
// last ' on the line followed by whitespace, ';' or end of line. Text and
// barcode records carry a single quoted field, so apostrophes inside the
// text (`'it' s'`) stay part of it.
func closingQuote(line string, from int) int {
	for j := len(line) - 1; j >= from; j-- {
		if line[j] != '\'' {
			continue
		}
		if j+1 == len(line) || line[j+1] == ' ' || line[j+1] == '\t' || line[j+1] == ';' {
			return j
		}
	}
	return -1
}

// parseSuffix reads `;<idx>=<val>[,<idx>=<val>...]` groups followed by an
// optional `;ID=<id>`.
func parseSuffix(suffix string) (models.FeatureCommon, error) {
	var common models.FeatureCommon
	if suffix == "" {
		return common, nil
	}

	for _, seg := range strings.Split(suffix, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "ID=") {
			common.UniqueID = strings.TrimPrefix(seg, "ID=")
			continue
		}
		for _, item := range strings.Split(seg, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key, value, _ := strings.Cut(item, "=")
			idx, err := strconv.Atoi(key)
			if err != nil {
				return common, fmt.Errorf("invalid attribute index %q", key)
			}
			if common.Attributes == nil {
				common.Attributes = make(map[int]string)
			}
			common.Attributes[idx] = value
		}
	}
	return common, nil
}

// fieldCursor walks the positional fields of one record. The first failure
// sticks; later reads return zero values and Err reports the failure.
type fieldCursor struct {
	fields []string
	quoted []bool
	pos    int
	scale  float64
	err    error
}

func newFieldCursor(fields []string, quoted []bool, scale float64) *fieldCursor {
	return &fieldCursor{fields: fields, quoted: quoted, scale: scale}
}

func (c *fieldCursor) fail(format string, args ...interface{}) {
	if c.err == nil {
		c.err = fmt.Errorf(format, args...)
	}
}

// Err returns the first failure.
func (c *fieldCursor) Err() error {
	return c.err
}

// remaining returns how many fields are left.
func (c *fieldCursor) remaining() int {
	return len(c.fields) - c.pos
}

// peek returns the next field without consuming it.
func (c *fieldCursor) peek() (string, bool) {
	if c.err != nil || c.pos >= len(c.fields) {
		return "", false
	}
	return c.fields[c.pos], true
}

func (c *fieldCursor) next(name string) string {
	if c.err != nil {
		return ""
	}
	if c.pos >= len(c.fields) {
		c.fail("missing field %s", name)
		return ""
	}
	f := c.fields[c.pos]
	c.pos++
	return f
}

// plain consumes an unquoted field.
func (c *fieldCursor) plain(name string) string {
	f := c.next(name)
	if c.err == nil && c.quoted[c.pos-1] {
		c.fail("unexpected quoted string for %s", name)
		return ""
	}
	return f
}

// literal consumes a field that must equal want.
func (c *fieldCursor) literal(want string) {
	if f := c.plain(want); c.err == nil && f != want {
		c.fail("expected %q, got %q", want, f)
	}
}

// quotedString consumes a single-quoted field.
func (c *fieldCursor) quotedString(name string) string {
	if c.err != nil {
		return ""
	}
	if c.pos >= len(c.fields) || !c.quoted[c.pos] {
		c.fail("missing quoted %s", name)
		return ""
	}
	return c.next(name)
}

func (c *fieldCursor) float(name string) float64 {
	f := c.plain(name)
	if c.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		c.fail("invalid %s %q", name, f)
		return 0
	}
	return v
}

// coord reads a length and applies the unit scale.
func (c *fieldCursor) coord(name string) float64 {
	return c.float(name) * c.scale
}

func (c *fieldCursor) point(name string) models.Point {
	x := c.coord(name + " x")
	y := c.coord(name + " y")
	return models.Point{X: x, Y: y}
}

func (c *fieldCursor) integer(name string) int {
	f := c.plain(name)
	if c.err != nil {
		return 0
	}
	v, err := strconv.Atoi(f)
	if err != nil {
		c.fail("invalid %s %q", name, f)
		return 0
	}
	return v
}

func (c *fieldCursor) polarity() models.Polarity {
	switch f := c.plain("polarity"); {
	case c.err != nil:
		return ""
	case f == "P":
		return models.PolarityPositive
	case f == "N":
		return models.PolarityNegative
	default:
		c.fail("invalid polarity %q", f)
		return ""
	}
}

// flag reads a one-letter choice between yes and no.
func (c *fieldCursor) flag(name, yes, no string) bool {
	f := c.plain(name)
	if c.err != nil {
		return false
	}
	switch strings.ToUpper(f) {
	case yes:
		return true
	case no:
		return false
	}
	c.fail("invalid %s %q", name, f)
	return false
}

// orientation reads an orientation code and, for codes 8 and 9 only, the
// explicit rotation angle that follows it.
func (c *fieldCursor) orientation() (code int, rotation float64) {
	code = c.integer("orientation")
	if c.err != nil {
		return 0, 0
	}
	switch {
	case code >= 0 && code <= 7:
		return code, 0
	case code == 8 || code == 9:
		if c.remaining() == 0 {
			c.fail("orientation %d requires a rotation angle", code)
			return code, 0
		}
		return code, c.float("rotation")
	default:
		c.fail("invalid orientation %d", code)
		return code, 0
	}
}

// shortFormRotation reports whether the last two fields read as a free
// orientation (8 or 9) with its angle rather than dcode and orientation:
// the second field is not an orientation code 0..9.
func (c *fieldCursor) shortFormRotation() bool {
	if c.err != nil || c.remaining() != 2 {
		return false
	}
	first, second := c.fields[c.pos], c.fields[c.pos+1]
	if first != "8" && first != "9" {
		return false
	}
	code, err := strconv.Atoi(second)
	return err != nil || code < 0 || code > 9
}

// done fails when unconsumed fields remain.
func (c *fieldCursor) done() {
	if c.err == nil && c.pos < len(c.fields) {
		c.fail("unexpected trailing field %q", c.fields[c.pos])
	}
}
