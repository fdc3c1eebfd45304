package parser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odb-viewer/backend/internal/models"
)

// sampleFeatures is a small layer touching every record kind.
var sampleFeatures = []string{
	"# layer: top",
	"UNITS=INCH",
	"ID=1001",
	"F 7",
	"",
	"$0 r10",
	"$1 rect20x40 M",
	"@0 .smd",
	"&0 component side",
	"P 1 1 0 P 0;0=0;ID=1",
	"P 2 1 1 N 0 8 45",
	"L 0 0 1 0 0 P 0",
	"A 1 0 0 1 0 0 0 P 0 N",
	"T 0 2 standard P 0 0.1 0.1 1 'REV A'",
	"B 0 3 UPC39 standard P 0 E 0.01 0.2 N Y N Y B 'SN1'",
	"S P 0",
	"OB 0 0 I",
	"OS 1 0",
	"OC 0 0 0.5 0 Y",
	"OE",
	"SE",
}

func TestParseLinesSample(t *testing.T) {
	file, warnings, err := ParseLines(models.FileKindFeatures, sampleFeatures)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", warnings)
	}

	if file.Units != "INCH" || file.Scale != 25.4 {
		t.Errorf("units = %s/%v", file.Units, file.Scale)
	}
	if file.ID != "1001" || file.DeclaredCount != 7 {
		t.Errorf("header = %q/%d", file.ID, file.DeclaredCount)
	}
	if file.LineCount != len(sampleFeatures) {
		t.Errorf("line count = %d, want %d", file.LineCount, len(sampleFeatures))
	}
	if diff := cmp.Diff(map[int]string{0: "r10", 1: "rect20x40"}, file.Symbols); diff != "" {
		t.Errorf("symbols (-want +got):\n%s", diff)
	}
	if file.AttrNames[0] != ".smd" || file.AttrTexts[0] != "component side" {
		t.Errorf("attribute tables = %v / %v", file.AttrNames, file.AttrTexts)
	}

	var kinds []models.FeatureKind
	for _, f := range file.Features {
		kinds = append(kinds, f.Kind())
	}
	wantKinds := []models.FeatureKind{
		models.FeatureKindPad, models.FeatureKindPad, models.FeatureKindLine, models.FeatureKindArc,
		models.FeatureKindText, models.FeatureKindBarcode, models.FeatureKindSurface,
	}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("feature order (-want +got):\n%s", diff)
	}

	counts := file.CountByKind()
	if counts[models.FeatureKindPad] != 2 || counts[models.FeatureKindSurface] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestParseLinesIdempotent(t *testing.T) {
	lines := append([]string{"XYZ unknown", "P 1 2 9 P 0", "L 0 0 bad"}, sampleFeatures...)

	f1, w1, err1 := ParseLines(models.FileKindFeatures, lines)
	f2, w2, err2 := ParseLines(models.FileKindFeatures, lines)
	if err1 != nil || err2 != nil {
		t.Fatalf("ParseLines: %v / %v", err1, err2)
	}
	if diff := cmp.Diff(f1, f2); diff != "" {
		t.Errorf("features differ between runs:\n%s", diff)
	}
	if diff := cmp.Diff(w1, w2); diff != "" {
		t.Errorf("warnings differ between runs:\n%s", diff)
	}
	if len(w1) == 0 {
		t.Error("expected warnings from the injected bad lines")
	}
}

func TestScaleAppliesToEveryRecordKind(t *testing.T) {
	body := []string{
		"P 1 2 0 P 0",
		"L 1 2 3 4 0 P 0",
		"A 1 2 3 4 5 6 0 P 0 Y",
		"T 1 2 standard P 0 3 4 1 'x'",
		"B 1 2 UPC39 standard P 0 E 3 4 Y Y Y Y T 'x'",
		"S P 0",
		"OB 1 2 I",
		"OS 3 4",
		"OC 1 2 5 6 N",
		"OE",
		"SE",
	}

	// coords flattens every length-valued field in record order.
	coords := func(features []models.Feature) []float64 {
		var out []float64
		for _, f := range features {
			switch v := f.(type) {
			case *models.Pad:
				out = append(out, v.Center.X, v.Center.Y)
			case *models.Line:
				out = append(out, v.Start.X, v.Start.Y, v.End.X, v.End.Y)
			case *models.Arc:
				out = append(out, v.Start.X, v.Start.Y, v.End.X, v.End.Y, v.Center.X, v.Center.Y)
			case *models.Text:
				out = append(out, v.Position.X, v.Position.Y, v.Width, v.Height)
			case *models.Barcode:
				out = append(out, v.Position.X, v.Position.Y, v.ElementWidth, v.Height)
			case *models.Surface:
				for _, p := range v.Polygons {
					out = append(out, p.Start.X, p.Start.Y)
					for _, part := range p.Parts {
						out = append(out, part.End.X, part.End.Y)
						if part.Kind == models.PartArc {
							out = append(out, part.Center.X, part.Center.Y)
						}
					}
				}
			default:
				t.Fatalf("unhandled feature %T", f)
			}
		}
		return out
	}

	raw := []float64{
		1, 2,
		1, 2, 3, 4,
		1, 2, 3, 4, 5, 6,
		1, 2, 3, 4,
		1, 2, 3, 4,
		1, 2, 3, 4, 1, 2, 5, 6,
	}

	for unit, scale := range map[string]float64{"MM": 1.0, "INCH": 25.4, "MIL": 0.0254} {
		t.Run(unit, func(t *testing.T) {
			file, warnings, err := ParseLines(models.FileKindFeatures, append([]string{"U " + unit}, body...))
			if err != nil {
				t.Fatalf("ParseLines: %v", err)
			}
			for _, w := range warnings {
				if w.Kind != models.WarningUnresolvedSymbol {
					t.Errorf("unexpected warning %+v", w)
				}
			}
			got := coords(file.Features)
			if len(got) != len(raw) {
				t.Fatalf("got %d coordinates, want %d", len(got), len(raw))
			}
			for i := range raw {
				if got[i] != raw[i]*scale {
					t.Errorf("coordinate %d = %v, want %v", i, got[i], raw[i]*scale)
				}
			}
		})
	}
}

func TestParseLinesWarnings(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.FileKind
		lines    []string
		warnings []models.WarningKind
		lineNums []int
		features int
	}{
		{
			name:     "unrecognized record",
			kind:     models.FileKindFeatures,
			lines:    []string{"# comment", "", "CMP 0 1 2", "$0 r1", "P 0 0 0 P 0"},
			warnings: []models.WarningKind{models.WarningUnrecognized},
			lineNums: []int{3},
			features: 1,
		},
		{
			name:     "malformed record is skipped",
			kind:     models.FileKindFeatures,
			lines:    []string{"$0 r1", "L 0 0 abc 1 0 P", "P 0 0 0 P 0"},
			warnings: []models.WarningKind{models.WarningMalformed},
			lineNums: []int{2},
			features: 1,
		},
		{
			name:     "missing rotation is record level",
			kind:     models.FileKindFeatures,
			lines:    []string{"$0 r1", "P 1 2 0 P 0 8", "P 1 2 0 P 0 8 90"},
			warnings: []models.WarningKind{models.WarningMalformed},
			lineNums: []int{2},
			features: 1,
		},
		{
			name:     "unknown unit",
			kind:     models.FileKindFeatures,
			lines:    []string{"UNITS=FURLONG", "$0 r1", "P 1 1 0 P 0"},
			warnings: []models.WarningKind{models.WarningUnknownUnit},
			lineNums: []int{1},
			features: 1,
		},
		{
			name:     "unresolved symbol keeps the feature",
			kind:     models.FileKindFeatures,
			lines:    []string{"$0 r1", "P 1 1 4 P 0", "L 0 0 1 1 0 P 0"},
			warnings: []models.WarningKind{models.WarningUnresolvedSymbol},
			lineNums: []int{2},
			features: 2,
		},
		{
			name:     "point feature in profile",
			kind:     models.FileKindProfile,
			lines:    []string{"P 1 1 0 P 0", "S P 0", "OB 0 0 I", "OS 1 0", "OS 0 0", "OE", "SE"},
			warnings: []models.WarningKind{models.WarningNotInProfile},
			lineNums: []int{1},
			features: 1,
		},
		{
			name:     "declared count mismatch",
			kind:     models.FileKindFeatures,
			lines:    []string{"F 3", "$0 r1", "P 1 1 0 P 0"},
			warnings: []models.WarningKind{models.WarningCountMismatch},
			lineNums: []int{1},
			features: 1,
		},
		{
			name:     "malformed header",
			kind:     models.FileKindFeatures,
			lines:    []string{"F many", "$x r1", "@0"},
			warnings: []models.WarningKind{models.WarningMalformed, models.WarningMalformed, models.WarningMalformed},
			lineNums: []int{1, 2, 3},
			features: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, warnings, err := ParseLines(tt.kind, tt.lines)
			if err != nil {
				t.Fatalf("ParseLines: %v", err)
			}
			if len(file.Features) != tt.features {
				t.Errorf("features = %d, want %d", len(file.Features), tt.features)
			}
			var kinds []models.WarningKind
			var lines []int
			for _, w := range warnings {
				kinds = append(kinds, w.Kind)
				lines = append(lines, w.Line)
			}
			if diff := cmp.Diff(tt.warnings, kinds); diff != "" {
				t.Errorf("warning kinds (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.lineNums, lines); diff != "" {
				t.Errorf("warning lines (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnitChangeAppliesToLaterRecordsOnly(t *testing.T) {
	file, warnings, err := ParseLines(models.FileKindFeatures, []string{
		"$0 r1",
		"P 1 1 0 P 0",
		"UNITS=INCH",
		"P 1 1 0 P 0",
	})
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	first := file.Features[0].(*models.Pad)
	second := file.Features[1].(*models.Pad)
	if first.Center.X != 1 || second.Center.X != 25.4 {
		t.Errorf("centers = %v / %v", first.Center, second.Center)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningUnitRedeclared || warnings[0].Line != 3 {
		t.Errorf("warnings = %+v", warnings)
	}
	if file.Units != "INCH" {
		t.Errorf("final units = %s", file.Units)
	}
}

func TestUnknownUnitFallsBackToMillimeters(t *testing.T) {
	file, _, err := ParseLines(models.FileKindFeatures, []string{"UNITS=INCH", "U PARSEC", "$0 r1", "P 2 3 0 P 0"})
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	pad := file.Features[0].(*models.Pad)
	if pad.Center != (models.Point{X: 2, Y: 3}) || file.Units != "MM" {
		t.Errorf("pad = %+v, units = %s", pad.Center, file.Units)
	}
}

func TestParseReaderDecodesLatin1(t *testing.T) {
	input := "T 0 0 standard P 0 1 1 1 '25\xb5m'\n"
	file, _, err := ParseReader(models.FileKindFeatures, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	text := file.Features[0].(*models.Text)
	if text.Value != "25µm" {
		t.Errorf("value = %q, want %q", text.Value, "25µm")
	}
}

func TestParseReaderWithProgress(t *testing.T) {
	input := strings.Join(sampleFeatures, "\n") + "\n"

	var calls, lastLines int
	var lastBytes, lastTotal int64
	_, _, err := ParseReaderWithProgress(models.FileKindFeatures, strings.NewReader(input), int64(len(input)),
		func(lines int, bytes, total int64) {
			calls++
			lastLines, lastBytes, lastTotal = lines, bytes, total
		})
	if err != nil {
		t.Fatalf("ParseReaderWithProgress: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want a single final update", calls)
	}
	if lastLines != len(sampleFeatures) || lastBytes != int64(len(input)) || lastTotal != int64(len(input)) {
		t.Errorf("final progress = %d lines, %d/%d bytes", lastLines, lastBytes, lastTotal)
	}
}

func TestParseReaderStructuralErrorKeepsWarnings(t *testing.T) {
	input := "XYZ\nS P 0\nOB 0 0 I\n"
	file, warnings, err := ParseReader(models.FileKindFeatures, strings.NewReader(input))
	if err == nil || file != nil {
		t.Fatalf("expected structural error, got file=%v err=%v", file, err)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningUnrecognized {
		t.Errorf("warnings = %+v", warnings)
	}
}
