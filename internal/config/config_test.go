// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func reset(t *testing.T, path string) {
	t.Helper()

	Cfg = Config{ConfigPath: path}
	t.Cleanup(func() { Cfg = Config{} })
}

func TestDefaultsWithoutFile(t *testing.T) {
	reset(t, filepath.Join(t.TempDir(), "missing.toml"))

	if err := parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if Cfg.Size != 8*1024*1024*1024 {
		t.Errorf("Size = %d, want 8GB", Cfg.Size)
	}
	if Cfg.BlockSize != 4096 {
		t.Errorf("BlockSize = %d, want 4096", Cfg.BlockSize)
	}
	if Cfg.Write.ChunkSize != 4*1024*1024 {
		t.Errorf("Write.ChunkSize = %d, want 4MB", Cfg.Write.ChunkSize)
	}
	if Cfg.S3.ChunkSize != 1024*1024 {
		t.Errorf("S3.ChunkSize = %d, want 1MB", Cfg.S3.ChunkSize)
	}
	if Cfg.ControlPlane.Listen != "localhost:7070" {
		t.Errorf("ControlPlane.Listen = %q", Cfg.ControlPlane.Listen)
	}
	if len(Cfg.Table) != 0 {
		t.Errorf("Table = %q, want empty", Cfg.Table)
	}
}

func TestTableFromEnv(t *testing.T) {
	reset(t, filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("DMP_TABLE", "dmp /dev/sdb 0;dmp /dev/sdc 2048")
	t.Setenv("DMP_CONTROLPLANE_LISTEN", "127.0.0.1:9999")
	t.Setenv("DMP_BLOCKSIZE", "512")

	if err := parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []string{"dmp /dev/sdb 0", "dmp /dev/sdc 2048"}
	if !reflect.DeepEqual(Cfg.Table, want) {
		t.Errorf("Table = %q, want %q", Cfg.Table, want)
	}
	if Cfg.ControlPlane.Listen != "127.0.0.1:9999" {
		t.Errorf("ControlPlane.Listen = %q", Cfg.ControlPlane.Listen)
	}
	if Cfg.BlockSize != 512 {
		t.Errorf("BlockSize = %d, want 512", Cfg.BlockSize)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
table = ["dmp /dev/sdb 0", "dmp null 0"]
read_only = true

[s3]
region = "eu-central-1"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	reset(t, path)
	t.Setenv("DMP_MAXTARGETS", "3")

	if err := parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !reflect.DeepEqual(Cfg.Table, []string{"dmp /dev/sdb 0", "dmp null 0"}) {
		t.Errorf("Table = %q", Cfg.Table)
	}
	if !Cfg.ReadOnly {
		t.Error("ReadOnly not read from file")
	}
	if Cfg.S3.Region != "eu-central-1" {
		t.Errorf("S3.Region = %q", Cfg.S3.Region)
	}
	if Cfg.MaxTargets != 3 {
		t.Errorf("MaxTargets = %d, environment should override", Cfg.MaxTargets)
	}
}

func TestOddBlockSizeFallsBack(t *testing.T) {
	reset(t, filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("DMP_BLOCKSIZE", "1000")

	if err := parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Cfg.BlockSize != 4096 {
		t.Errorf("BlockSize = %d, want 4096", Cfg.BlockSize)
	}
}
