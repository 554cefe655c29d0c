package testkit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteCorpus(t *testing.T) {
	dir := WriteCorpus(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})
	b, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	if err != nil || string(b) != "beta" {
		t.Fatalf("nested file not written: %q %v", b, err)
	}
}

func TestSwapRestores(t *testing.T) {
	v := 1
	t.Run("inner", func(t *testing.T) {
		Swap(t, &v, 2)
		if v != 2 {
			t.Fatalf("swap not applied")
		}
	})
	if v != 1 {
		t.Fatalf("swap not restored, v=%d", v)
	}
}

func TestMustPanic(t *testing.T) {
	MustPanic(t, func() { panic("boom") })
}
