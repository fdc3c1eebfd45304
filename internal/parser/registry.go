package parser

import (
	"fmt"
	"strings"

	"github.com/odb-viewer/backend/internal/models"
)

// Registry holds all available parsers and provides auto-detection.
type Registry struct {
	parsers []Parser
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewProfileParser(),
			NewFeaturesParser(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new parser to the registry.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser detects the correct parser for a file.
func (r *Registry) FindParser(filePath string) (Parser, error) {
	for _, p := range r.parsers {
		can, err := p.CanParse(filePath)
		if err != nil {
			return nil, fmt.Errorf("probing %s: %w", filePath, err)
		}
		if can {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no suitable parser found for file: %s", filePath)
}

// GetParserByName returns a parser by its name.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	name = strings.ToLower(name)
	for _, p := range r.parsers {
		if strings.ToLower(p.Name()) == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("parser not found: %s", name)
}

// GetParserByKind returns the parser producing the given file kind.
func (r *Registry) GetParserByKind(kind models.FileKind) (Parser, error) {
	for _, p := range r.parsers {
		if p.Kind() == kind {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser for file kind: %s", kind)
}

// Resolve picks a parser for a file. An explicit kind from the layer rules
// wins; otherwise the file is probed.
func (r *Registry) Resolve(filePath, displayName string, rules *models.LayerRules) (Parser, error) {
	if rules != nil {
		if kind, ok := rules.KindFor(displayName); ok {
			return r.GetParserByKind(kind)
		}
	}
	if kind, ok := KindFromName(displayName); ok {
		return r.GetParserByKind(kind)
	}
	return r.FindParser(filePath)
}
