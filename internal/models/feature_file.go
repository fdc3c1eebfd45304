package models

// FileKind selects the record set a file may contain.
type FileKind string

const (
	// FileKindFeatures is a layer features file: symbols, point features and surfaces.
	FileKindFeatures FileKind = "features"
	// FileKindProfile is a step/layer profile file: surfaces only (board outline).
	FileKindProfile FileKind = "profile"
)

// FeatureFile is the result of parsing one features or profile file.
type FeatureFile struct {
	Kind          FileKind       `json:"kind"`
	Units         string         `json:"units"`
	Scale         float64        `json:"scale"`
	ID            string         `json:"id,omitempty"`
	DeclaredCount int            `json:"declaredCount,omitempty"`
	Symbols       map[int]string `json:"symbols,omitempty"`
	AttrNames     map[int]string `json:"attrNames,omitempty"`
	AttrTexts     map[int]string `json:"attrTexts,omitempty"`
	Features      []Feature      `json:"features"`
	LineCount     int            `json:"lineCount"`
}

// CountByKind tallies the parsed features per variant.
func (f *FeatureFile) CountByKind() map[FeatureKind]int {
	counts := make(map[FeatureKind]int)
	for _, feat := range f.Features {
		counts[feat.Kind()]++
	}
	return counts
}

// Surfaces returns the surface features in file order.
func (f *FeatureFile) Surfaces() []*Surface {
	var out []*Surface
	for _, feat := range f.Features {
		if s, ok := feat.(*Surface); ok {
			out = append(out, s)
		}
	}
	return out
}

// WarningKind classifies a recoverable, record-level problem.
type WarningKind string

const (
	WarningUnrecognized     WarningKind = "unrecognized"
	WarningMalformed        WarningKind = "malformed"
	WarningUnknownUnit      WarningKind = "unknown_unit"
	WarningUnitRedeclared   WarningKind = "unit_redeclared"
	WarningUnresolvedSymbol WarningKind = "unresolved_symbol"
	WarningNotInProfile     WarningKind = "not_in_profile"
	WarningCountMismatch    WarningKind = "feature_count_mismatch"
)

// ParseWarning is a non-fatal problem found on one line. The line is skipped
// (or, for unresolved symbols, kept) and parsing continues.
type ParseWarning struct {
	Kind    WarningKind `json:"kind"`
	Line    int         `json:"line"`
	Raw     string      `json:"raw"`
	Message string      `json:"message"`
}

// FeatureRecord is a stored feature together with its origin, as returned
// by paged queries.
type FeatureRecord struct {
	FileID  string      `json:"fileId" msgpack:"fileId"`
	Seq     int         `json:"seq" msgpack:"seq"`
	Kind    FeatureKind `json:"kind" msgpack:"kind"`
	Feature Feature     `json:"feature" msgpack:"feature"`
}
