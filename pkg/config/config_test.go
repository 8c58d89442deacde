package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	in := &Config{
		Project:      ProjectConfig{Name: "demo"},
		Requirements: []string{"requests>=2.6", "-e ./sub", "git+https://github.com/test-root/demo.git@main#egg=demo"},
	}
	if err := SaveFile(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("LoadFile() = %+v, want %+v", out, in)
	}
}

func TestLockFile(t *testing.T) {
	dir := t.TempDir()

	empty, err := LoadLockFile(dir)
	if err != nil {
		t.Fatalf("LoadLockFile() on a missing file: %v", err)
	}
	if len(empty.Packages) != 0 {
		t.Errorf("missing lockfile has %d packages", len(empty.Packages))
	}

	lf := &LockFile{Packages: []LockPackage{
		{Name: "requests", Version: "2.19.1"},
		{Name: "demo", Version: "0.0.1", Git: "https://github.com/test-root/demo.git", Ref: "main", Revision: strings.Repeat("a", 40)},
		{Name: "local", Version: "1.0", Path: "./sub", Editable: true, Extras: []string{"tests"}},
	}}
	if err := SaveLockFile(dir, lf); err != nil {
		t.Fatal(err)
	}
	got, err := LoadLockFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range got.Packages {
		names = append(names, p.Name)
	}
	if want := []string{"demo", "local", "requests"}; !reflect.DeepEqual(names, want) {
		t.Errorf("package order = %v, want %v", names, want)
	}
	if !reflect.DeepEqual(got.Packages[1], lf.Packages[1]) {
		t.Errorf("package = %+v, want %+v", got.Packages[1], lf.Packages[1])
	}
}
