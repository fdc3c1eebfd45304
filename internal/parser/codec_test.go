package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

func TestFeatureFileCodec(t *testing.T) {
	lines := append([]string{"XYZ unknown record"}, sampleFeatures...)
	file, warnings, err := ParseLines(models.FileKindFeatures, lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for the unknown record")
	}

	data, err := MarshalFeatureFile(file, warnings)
	if err != nil {
		t.Fatalf("MarshalFeatureFile: %v", err)
	}
	gotFile, gotWarnings, err := UnmarshalFeatureFile(data)
	if err != nil {
		t.Fatalf("UnmarshalFeatureFile: %v", err)
	}

	if diff := cmp.Diff(file, gotFile, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("file (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(warnings, gotWarnings); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestFeatureFileCodecRejectsOtherVersions(t *testing.T) {
	data, err := msgpack.Marshal(&encodedFile{Version: codecVersion + 1})
	if err != nil {
		t.Fatalf("msgpack.Marshal: %v", err)
	}
	if _, _, err := UnmarshalFeatureFile(data); err == nil {
		t.Error("expected version error")
	}
	if _, _, err := UnmarshalFeatureFile([]byte{0xc1}); err == nil {
		t.Error("expected decode error")
	}
}
