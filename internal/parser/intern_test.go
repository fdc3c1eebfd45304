package parser

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"
)

func TestStringIntern(t *testing.T) {
	si := NewStringIntern()

	a := si.Intern(string([]byte("standard")))
	b := si.Intern(string([]byte("standard")))
	if unsafe.StringData(a) != unsafe.StringData(b) {
		t.Error("Expected interned strings to share storage")
	}
	if si.Intern("") != "" {
		t.Error("Expected empty string to pass through")
	}
	si.Intern("other")
	if si.Len() != 2 {
		t.Errorf("Expected pool size 2, got %d", si.Len())
	}
}

func TestStringInternConcurrent(t *testing.T) {
	si := NewStringIntern()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				si.Intern(fmt.Sprintf("attr-%d", i))
			}
		}()
	}
	wg.Wait()

	if si.Len() != 100 {
		t.Errorf("Expected 100 pooled strings, got %d", si.Len())
	}
}
