package parser

import (
	"errors"
	"testing"
)

func TestUnitScale(t *testing.T) {
	u := NewUnitScale()
	if u.Scale() != 1.0 || u.Unit() != "MM" {
		t.Fatalf("default = %s/%v, want MM/1", u.Unit(), u.Scale())
	}

	tests := []struct {
		token string
		unit  string
		scale float64
	}{
		{"MM", "MM", 1.0},
		{"millimeters", "MM", 1.0},
		{"INCH", "INCH", 25.4},
		{"in", "INCH", 25.4},
		{"MIL", "MIL", 0.0254},
		{" inch ", "INCH", 25.4},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			u := NewUnitScale()
			if err := u.Set(tt.token); err != nil {
				t.Fatalf("Set(%q): %v", tt.token, err)
			}
			if u.Unit() != tt.unit || u.Scale() != tt.scale {
				t.Errorf("Set(%q) = %s/%v, want %s/%v", tt.token, u.Unit(), u.Scale(), tt.unit, tt.scale)
			}
		})
	}
}

func TestUnitScaleUnknownFallsBack(t *testing.T) {
	u := NewUnitScale()
	u.Set("INCH")

	err := u.Set("CUBIT")
	var ue *UnknownUnitError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownUnitError, got %v", err)
	}
	if ue.Token != "CUBIT" {
		t.Errorf("token = %q", ue.Token)
	}
	if u.Scale() != 1.0 || u.Unit() != "MM" {
		t.Errorf("after unknown unit: %s/%v, want MM/1", u.Unit(), u.Scale())
	}
}

func TestSymbolTable(t *testing.T) {
	st := NewSymbolTable()
	if _, ok := st.Lookup(0); ok {
		t.Fatal("empty table resolved index 0")
	}

	st.Define(0, "r10")
	st.Define(1, "s20")
	st.Define(0, "r12")

	if name, ok := st.Lookup(0); !ok || name != "r12" {
		t.Errorf("Lookup(0) = %q, %v; want last definition r12", name, ok)
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}

	snap := st.Snapshot()
	snap[5] = "x"
	if _, ok := st.Lookup(5); ok {
		t.Error("snapshot must not alias the table")
	}
}
