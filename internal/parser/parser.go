package parser

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
)

// ProgressCallback is called periodically during parsing to report progress.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// progressInterval is the number of lines between progress callbacks.
const progressInterval = 10000

// sniffLines is how many records CanParse inspects.
const sniffLines = 20

// Parser defines the interface for ODB++ graphic feature file parsers.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// Kind returns the file kind the parser produces.
	Kind() models.FileKind
	// CanParse returns true if this parser can handle the given file.
	CanParse(filePath string) (bool, error)
	// Parse parses the entire file and returns the result.
	Parse(filePath string) (*models.FeatureFile, []*models.ParseWarning, error)
	// ParseWithProgress parses with progress callbacks for large files.
	ParseWithProgress(filePath string, onProgress ProgressCallback) (*models.FeatureFile, []*models.ParseWarning, error)
}

// FeatureFileParser parses one kind of graphic feature file. The features
// and profile variants share the grammar; a profile rejects point features.
type FeatureFileParser struct {
	kind   models.FileKind
	intern *StringIntern
}

// sharedIntern is the string pool every registered parser feeds, so the
// files of a multi-layer session share attribute and font strings.
var sharedIntern = NewStringIntern()

// NewFeaturesParser handles layer `features` files.
func NewFeaturesParser() *FeatureFileParser {
	return &FeatureFileParser{kind: models.FileKindFeatures, intern: sharedIntern}
}

// NewProfileParser handles `profile` files (board, step and layer outlines).
func NewProfileParser() *FeatureFileParser {
	return &FeatureFileParser{kind: models.FileKindProfile, intern: sharedIntern}
}

func (p *FeatureFileParser) Name() string {
	return string(p.kind)
}

func (p *FeatureFileParser) Kind() models.FileKind {
	return p.kind
}

// CanParse accepts a file named after the parser kind. Otherwise it looks at
// the first records: a profile holds only surfaces, a features file holds
// at least one point feature or symbol table entry.
func (p *FeatureFileParser) CanParse(filePath string) (bool, error) {
	if kind, ok := KindFromName(filePath); ok {
		return kind == p.kind, nil
	}

	f, _, err := openFeatureFile(filePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	checked, recognized, pointRecords := 0, 0, 0
	for scanner.Scan() && checked < sniffLines {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		checked++
		kind := Classify(line)
		if kind == RecordUnknown {
			continue
		}
		recognized++
		if kind.IsFeature() || kind == RecordSymbol {
			pointRecords++
		}
	}
	if checked == 0 || float64(recognized)/float64(checked) < 0.6 {
		return false, nil
	}
	if p.kind == models.FileKindProfile {
		return pointRecords == 0, nil
	}
	return pointRecords > 0, nil
}

func (p *FeatureFileParser) Parse(filePath string) (*models.FeatureFile, []*models.ParseWarning, error) {
	return p.ParseWithProgress(filePath, nil)
}

func (p *FeatureFileParser) ParseWithProgress(filePath string, onProgress ProgressCallback) (*models.FeatureFile, []*models.ParseWarning, error) {
	f, totalBytes, err := openFeatureFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	b := NewFeatureBuilder(p.kind)
	b.UseIntern(p.intern)
	return ParseStream(b, f, totalBytes, onProgress)
}

// KindFromName maps the conventional ODB++ file names to a kind, ignoring
// directories and a trailing .z or .gz.
func KindFromName(filePath string) (models.FileKind, bool) {
	base := strings.ToLower(filepath.Base(filePath))
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".z")
	switch base {
	case "features":
		return models.FileKindFeatures, true
	case "profile":
		return models.FileKindProfile, true
	}
	return "", false
}

// openFeatureFile opens filePath and returns its size for progress reporting.
// Uploads are decompressed before they reach the parser.
func openFeatureFile(filePath string) (*os.File, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
