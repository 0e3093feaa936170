package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteFileIsAtomic(t *testing.T) {
	fsys := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "out.png")

	if err := fsys.WriteFile(path, []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.WriteFile(path, []byte("second"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no temporary files to remain, got %d entries", len(entries))
	}
}

func TestOSFileSystem_WalkDir(t *testing.T) {
	dir := t.TempDir()
	fsys := OSFileSystem{}
	for _, name := range []string{"a/1.png", "a/2.png", "b/3.png"} {
		p := filepath.Join(dir, name)
		if err := fsys.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := fsys.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var files []string
	err := fsys.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a/1.png", "a/2.png", "b/3.png"}, files); diff != "" {
		t.Errorf("unexpected files (-want +got):\n%s", diff)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	err := mfs.WriteFile("/test.txt", testData, 0644)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// the returned slice is a copy
	data[0] = 'H'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != string(testData) {
		t.Errorf("modifying ReadFile result changed the stored file")
	}
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/data/shot1.raw", []byte("raw bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := mfs.Open("/data/shot1.raw")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "raw bytes" {
		t.Errorf("expected %q, got %q", "raw bytes", data)
	}

	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Name() != "shot1.raw" || info.Size() != 9 {
		t.Errorf("unexpected stat: %s %d", info.Name(), info.Size())
	}

	_, err = mfs.Open("/data/missing.raw")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_Dirs(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(d) {
			t.Errorf("expected %s to exist", d)
		}
		info, err := mfs.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to be a directory", d)
		}
	}

	if err := mfs.WriteFile("/x/y/file", nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !mfs.Exists("/x/y") {
		t.Error("WriteFile should create parent directories")
	}
}

func TestMemoryFileSystem_WalkDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	for _, name := range []string{"/data/b/3.png", "/data/a/2.png", "/data/a/1.png", "/data/c/skip/4.png", "/other/5.png"} {
		if err := mfs.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var visited []string
	err := mfs.WalkDir("/data", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "skip" {
			return fs.SkipDir
		}
		visited = append(visited, path)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir failed: %v", err)
	}

	want := []string{
		"/data",
		"/data/a",
		"/data/a/1.png",
		"/data/a/2.png",
		"/data/b",
		"/data/b/3.png",
		"/data/c",
	}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("unexpected walk order (-want +got):\n%s", diff)
	}

	err = mfs.WalkDir("/missing", func(path string, d fs.DirEntry, err error) error {
		return err
	})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing root, got %v", err)
	}
}
