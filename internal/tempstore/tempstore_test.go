package tempstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := s.Save("receipt.jpg", strings.NewReader("jpegdata"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != s.Dir() {
		t.Fatalf("asset written outside store dir: %s", path)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Fatalf("extension not preserved: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "jpegdata" {
		t.Fatalf("content mismatch: %q", data)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present after Remove")
	}

	// Removing twice must stay silent: cleanup runs unconditionally.
	if err := s.Remove(path); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestSaveGeneratesUniqueNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p1, err := s.Save("a.png", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	p2, err := s.Save("a.png", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("same path for two saves: %s", p1)
	}
}

func TestSafeExt(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"photo.JPG", ".jpg"},
		{"scan.png", ".png"},
		{"noext", ""},
		{"weird.j!pg", ""},
		{"dotfile.", ""},
		{"trailing.verylongext", ""},
		{"../../../etc/passwd", ""},
	}
	for _, tc := range cases {
		if got := safeExt(tc.in); got != tc.out {
			t.Fatalf("safeExt(%q) = %q, want %q", tc.in, got, tc.out)
		}
	}
}
