package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quoll-lang/quoll/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "quoll.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[engine]
registers = 64
objects = 32
upvalues = 16
call-depth = 128
trace = true

[log]
verbosity = 2
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l := c.Limits()
	if l.Registers != 64 || l.Objects != 32 || l.Upvalues != 16 || l.CallDepth != 128 {
		t.Errorf("Limits = %+v, want 64/32/16/128", l)
	}
	if !l.Trace {
		t.Error("trace flag lost")
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Dir == "" || !filepath.IsAbs(c.Dir) {
		t.Errorf("Dir = %q, want an absolute path", c.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a missing quoll.toml")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[engine\nregisters =")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[engine]\ncall-depth = 99\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c == nil {
		t.Fatal("configuration not found from nested directory")
	}
	if c.Engine.CallDepth != 99 {
		t.Errorf("call-depth = %d, want 99", c.Engine.CallDepth)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	// A bare temp dir has no quoll.toml anywhere up to the filesystem root.
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c != nil {
		t.Errorf("found unexpected configuration at %s", c.Dir)
	}
}

func TestDefaultsFlowIntoVM(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := c.NewVM()
	// Zero limits defer to the VM defaults; the machine must be usable.
	m.Push(vm.IntValue(1))
	if got := m.Pop(); !got.IsInt() || got.Int() != 1 {
		t.Errorf("probe value = %v, want 1", got)
	}
}
