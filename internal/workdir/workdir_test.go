package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnterRestore(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	scope, err := Enter(dir)
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })

	cwd, _ := os.Getwd()
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(cwd)
	if got != want {
		t.Errorf("Expected cwd %s, got %s", want, got)
	}

	for i := 0; i < 3; i++ {
		if err := scope.Restore(); err != nil {
			t.Fatalf("Restore %d failed: %v", i, err)
		}
	}
	cwd, _ = os.Getwd()
	if cwd != orig {
		t.Errorf("Expected cwd %s after restore, got %s", orig, cwd)
	}
}

func TestEnterMissing(t *testing.T) {
	if _, err := Enter(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error entering a missing directory")
	}
}

func TestNilScopeRestore(t *testing.T) {
	var s *Scope
	if err := s.Restore(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
