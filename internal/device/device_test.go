// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/asch/dmp/internal/device/object"
)

func newImage(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func TestOpenFile(t *testing.T) {
	path := newImage(t, 8192)
	o := NewOpener(Options{})

	d, err := o.Open(path, ReadWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if d.Name() != path {
		t.Errorf("Name() = %q, want %q", d.Name(), path)
	}

	size, err := d.Size()
	if err != nil || size != 8192 {
		t.Errorf("Size() = %d, %v, want 8192", size, err)
	}

	if _, err := d.WriteAt([]byte("proxy"), 4096); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := d.ReadAt(buf, 4096); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, []byte("proxy")) {
		t.Errorf("ReadAt = %q, want %q", buf, "proxy")
	}
}

func TestOpenMissing(t *testing.T) {
	o := NewOpener(Options{})

	_, err := o.Open(filepath.Join(t.TempDir(), "nonexistent-device"), ReadWrite)
	if err == nil {
		t.Fatal("expected error for missing device")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open error = %v, want wrapped ErrNotExist", err)
	}
}

func TestReadOnly(t *testing.T) {
	path := newImage(t, 4096)
	o := NewOpener(Options{})

	d, err := o.Open(path, ReadOnly)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if _, err := d.WriteAt([]byte{1}, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteAt = %v, want ErrReadOnly", err)
	}
	if _, err := d.ReadAt(make([]byte, 512), 0); err != nil {
		t.Errorf("ReadAt: %v", err)
	}
}

func TestNull(t *testing.T) {
	o := NewOpener(Options{Size: 1 << 20})

	d, err := o.Open("null", ReadWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if n, err := d.WriteAt(make([]byte, 4096), 0); err != nil || n != 4096 {
		t.Errorf("WriteAt = %d, %v", n, err)
	}

	buf := bytes.Repeat([]byte{0xaa}, 512)
	if _, err := d.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, 512)) {
		t.Error("null device should read zeroes")
	}

	if size, _ := d.Size(); size != 1<<20 {
		t.Errorf("Size() = %d, want %d", size, 1<<20)
	}
}

func TestOpenS3WithoutBucket(t *testing.T) {
	if _, err := NewOpener(Options{}).Open("s3://", ReadWrite); err == nil {
		t.Error("expected error for empty bucket")
	}
}

// Geometry is checked before any connection or worker is set up.
func TestOpenS3InvalidGeometry(t *testing.T) {
	for _, opts := range []Options{
		{Size: 0, ChunkSize: 1024},
		{Size: 1 << 20, ChunkSize: 0},
	} {
		_, err := NewOpener(opts).Open("s3://bucket", ReadWrite)
		if !errors.Is(err, object.ErrGeometry) {
			t.Errorf("Open with %+v = %v, want ErrGeometry", opts, err)
		}
	}
}

func TestModeString(t *testing.T) {
	if ReadOnly.String() != "r" || ReadWrite.String() != "rw" {
		t.Errorf("mode strings = %q, %q", ReadOnly, ReadWrite)
	}
}
