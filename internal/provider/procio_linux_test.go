package provider

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadProcIOFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "io")
	content := "rchar: 12345\nwchar: 678\nsyscr: 10\nsyscw: 4\nread_bytes: 4096\nwrite_bytes: 8192\ncancelled_write_bytes: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, w, found := readProcIOFrom(path)
	if !found || r != 4096 || w != 8192 {
		t.Errorf("readProcIOFrom = %d, %d, %v", r, w, found)
	}
	if _, _, found := readProcIOFrom(filepath.Join(t.TempDir(), "missing")); found {
		t.Error("missing file reported found")
	}
}

func TestReadProcIOSelf(t *testing.T) {
	if _, _, found := readProcIO(int32(os.Getpid())); !found {
		t.Skip("/proc/self/io not readable here")
	}
}
