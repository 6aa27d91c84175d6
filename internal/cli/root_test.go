package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmd_Subcommands(t *testing.T) {
	rootCmd := NewRootCmd()
	AddCommands(rootCmd)

	expected := []string{"run", "plot", "params", "config", "version"}
	found := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("Subcommand '%s' not found", name)
		}
	}

	for _, name := range []string{"config", "verbose", "debug"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Persistent flag --%s not found", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	if !strings.Contains(out.String(), Version) {
		t.Errorf("Expected version %s in output, got %q", Version, out.String())
	}
}

func TestGetters_Defaults(t *testing.T) {
	if GetContext() == nil {
		t.Error("GetContext() returned nil")
	}
	if GetLogger() == nil {
		t.Error("GetLogger() returned nil")
	}
	if h := GetHarness(); h == nil || h.Run.Threads < 1 {
		t.Errorf("Expected built-in defaults, got %+v", h)
	}
}
