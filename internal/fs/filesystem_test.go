package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dsync-go/internal/dsync"
)

func TestOSFilesystemManager_CopyFile(t *testing.T) {
	t.Run("replaces target and keeps permissions", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		src := filepath.Join(dir, "src.sh")
		dst := filepath.Join(dir, "dst.sh")
		if err := os.WriteFile(src, []byte("echo new"), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(dst, []byte("echo old and longer"), 0644); err != nil {
			t.Fatal(err)
		}

		m := NewOSFilesystemManager()
		if err := m.CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}

		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "echo new" {
			t.Errorf("content = %q, want %q", got, "echo new")
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0750 {
			t.Errorf("mode = %v, want %v", info.Mode().Perm(), iofs.FileMode(0750))
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		src := filepath.Join(dir, "a")
		if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		m := NewOSFilesystemManager()
		if err := m.CopyFile(src, filepath.Join(dir, "b")); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), dsync.TempFilePrefix) {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := NewOSFilesystemManager()
		err := m.CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "b"))
		if !errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("CopyFile() error = %v, want not-exist", err)
		}
	})

	t.Run("directory source is rejected", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := NewOSFilesystemManager()
		if err := m.CopyFile(dir, filepath.Join(dir, "b")); err == nil {
			t.Error("CopyFile() expected error for directory source")
		}
	})
}

func TestOSFilesystemManager_WriteFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	m := NewOSFilesystemManager()
	if err := m.WriteFile(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := m.WriteFile(path, []byte(`{}`)); err != nil {
		t.Fatalf("WriteFile() second call error = %v", err)
	}

	got, err := m.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != `{}` {
		t.Errorf("content = %q, want %q", got, `{}`)
	}
}

func TestOSFilesystemManager_RealPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	m := NewOSFilesystemManager()
	got, err := m.RealPath(link)
	if err != nil {
		t.Fatalf("RealPath() error = %v", err)
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("RealPath() = %q, want %q", got, want)
	}
}

func TestOSFilesystemManager_Chtimes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	when := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewOSFilesystemManager()
	if err := m.Chtimes(path, when); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	info, err := m.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(when) {
		t.Errorf("ModTime() = %v, want %v", info.ModTime(), when)
	}
}

func TestOSFilesystemManager_Open_directory(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystemManager()
	if _, err := m.Open(t.TempDir()); err == nil {
		t.Error("Open() expected error for directory")
	}
}
