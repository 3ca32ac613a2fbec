package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

var _ FileSystem = OSFileSystem{}
var _ FileSystem = (*MemoryFileSystem)(nil)

func TestOSFileSystem_CreateReadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")
	fsys := OSFileSystem{}

	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Error("directory should exist")
	}

	w, err := fsys.Create(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("packet")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := fsys.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	w, _ = fsys.Create(filepath.Join(dir, "a.txt"))
	w.Close()

	data, err := fsys.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil || string(data) != "packet" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	names, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Errorf("ReadDir = %v, want [a.txt b.txt]", names)
	}

	if fsys.Exists(filepath.Join(dir, "missing")) {
		t.Error("missing file should not exist")
	}
}

func TestMemoryFileSystem_WritesVisibleBeforeClose(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("logs", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	w, err := m.Create("logs/log.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("AB"))
	w.Write([]byte("C"))

	data, err := m.ReadFile("logs/log.txt")
	if err != nil || string(data) != "ABC" {
		t.Errorf("ReadFile = %q, %v; want ABC", data, err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close = %v, want fs.ErrClosed", err)
	}
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close = %v, want fs.ErrClosed", err)
	}
}

func TestMemoryFileSystem_CreateTruncates(t *testing.T) {
	m := NewMemoryFileSystem()
	w, _ := m.Create("a.bin")
	w.Write([]byte("old"))
	w.Close()

	w, _ = m.Create("a.bin")
	defer w.Close()
	data, _ := m.ReadFile("a.bin")
	if len(data) != 0 {
		t.Errorf("Create should truncate, got %q", data)
	}
}

func TestMemoryFileSystem_CreateMissingDir(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.Create("packets/pkt.pcap"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Create without parent = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_ReadDirAndExists(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll("out/packets", 0755)
	for _, name := range []string{"out/packets/b", "out/packets/a", "out/top"} {
		w, err := m.Create(name)
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
		w.Close()
	}

	names, err := m.ReadDir("out/packets")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ReadDir = %v, want [a b]", names)
	}

	if _, err := m.ReadDir("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir(missing) = %v, want fs.ErrNotExist", err)
	}

	for _, p := range []string{"out", "out/packets", "out/top", "./out/packets/a"} {
		if !m.Exists(p) {
			t.Errorf("Exists(%q) = false", p)
		}
	}
	if m.Exists("out/missing") {
		t.Error("Exists(out/missing) = true")
	}

	files := m.Files()
	if len(files) != 3 || files[0] != "out/packets/a" {
		t.Errorf("Files() = %v", files)
	}
}

func TestMemoryFileSystem_ReadNonExistent(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.ReadFile("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	m := NewMemoryFileSystem()
	w, _ := m.Create("f")
	w.Write([]byte("abc"))

	data, _ := m.ReadFile("f")
	data[0] = 'X'

	again, _ := m.ReadFile("f")
	if string(again) != "abc" {
		t.Errorf("ReadFile result should be a copy, got %q", again)
	}
}
