package parser

import (
	"fmt"
	"io"
	"os"

	"github.com/odb-viewer/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// ParseLayerRules parses a YAML rules file mapping file names to a file kind
// and an outline colour.
func ParseLayerRules(filePath string) (*models.LayerRules, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseLayerRulesFromReader(file)
}

// ParseLayerRulesFromReader parses rules from an io.Reader.
func ParseLayerRulesFromReader(r io.Reader) (*models.LayerRules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rules models.LayerRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}

	if err := checkKind(rules.DefaultKind, "default_kind"); err != nil {
		return nil, err
	}
	for i, l := range rules.Layers {
		if l.Pattern == "" {
			return nil, fmt.Errorf("layers[%d]: empty pattern", i)
		}
		if err := checkKind(l.Kind, fmt.Sprintf("layers[%d].kind", i)); err != nil {
			return nil, err
		}
	}
	return &rules, nil
}

func checkKind(kind models.FileKind, field string) error {
	switch kind {
	case "", models.FileKindFeatures, models.FileKindProfile:
		return nil
	}
	return fmt.Errorf("%s: unknown file kind %q", field, kind)
}
