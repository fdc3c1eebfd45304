package parser

import (
	"fmt"

	"github.com/odb-viewer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// codecVersion is bumped whenever the encoded layout changes; older blobs
// are rejected and the file is parsed again.
const codecVersion = 1

type encodedFeature struct {
	Kind    models.FeatureKind `msgpack:"k"`
	Payload []byte             `msgpack:"p"`
}

type encodedFile struct {
	Version       int                    `msgpack:"v"`
	Kind          models.FileKind        `msgpack:"kind"`
	Units         string                 `msgpack:"units"`
	Scale         float64                `msgpack:"scale"`
	ID            string                 `msgpack:"id,omitempty"`
	DeclaredCount int                    `msgpack:"declared,omitempty"`
	Symbols       map[int]string         `msgpack:"symbols,omitempty"`
	AttrNames     map[int]string         `msgpack:"attrNames,omitempty"`
	AttrTexts     map[int]string         `msgpack:"attrTexts,omitempty"`
	LineCount     int                    `msgpack:"lines"`
	Features      []encodedFeature       `msgpack:"features"`
	Warnings      []*models.ParseWarning `msgpack:"warnings,omitempty"`
}

// MarshalFeatureFile encodes a parsed file and its warnings with msgpack.
func MarshalFeatureFile(file *models.FeatureFile, warnings []*models.ParseWarning) ([]byte, error) {
	enc := encodedFile{
		Version:       codecVersion,
		Kind:          file.Kind,
		Units:         file.Units,
		Scale:         file.Scale,
		ID:            file.ID,
		DeclaredCount: file.DeclaredCount,
		Symbols:       file.Symbols,
		AttrNames:     file.AttrNames,
		AttrTexts:     file.AttrTexts,
		LineCount:     file.LineCount,
		Features:      make([]encodedFeature, len(file.Features)),
		Warnings:      warnings,
	}
	for i, f := range file.Features {
		payload, err := msgpack.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encoding feature %d: %w", i, err)
		}
		enc.Features[i] = encodedFeature{Kind: f.Kind(), Payload: payload}
	}
	return msgpack.Marshal(&enc)
}

// UnmarshalFeatureFile is the inverse of MarshalFeatureFile.
func UnmarshalFeatureFile(data []byte) (*models.FeatureFile, []*models.ParseWarning, error) {
	var enc encodedFile
	if err := msgpack.Unmarshal(data, &enc); err != nil {
		return nil, nil, err
	}
	if enc.Version != codecVersion {
		return nil, nil, fmt.Errorf("unsupported encoding version %d", enc.Version)
	}

	file := &models.FeatureFile{
		Kind:          enc.Kind,
		Units:         enc.Units,
		Scale:         enc.Scale,
		ID:            enc.ID,
		DeclaredCount: enc.DeclaredCount,
		Symbols:       enc.Symbols,
		AttrNames:     enc.AttrNames,
		AttrTexts:     enc.AttrTexts,
		LineCount:     enc.LineCount,
		Features:      make([]models.Feature, len(enc.Features)),
	}
	for i, ef := range enc.Features {
		f, err := decodeFeature(ef.Kind, ef.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding feature %d: %w", i, err)
		}
		file.Features[i] = f
	}
	return file, enc.Warnings, nil
}
