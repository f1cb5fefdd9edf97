package main

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestRunScriptPassesOnMatchingExpectation(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "scenario.marble", []byte("source: ab|\nexpect: ab|\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if err := runScript(fs, "scenario.marble", false, false); err != nil {
		t.Errorf("runScript: %v", err)
	}
}

func TestRunScriptFailsOnMismatchedExpectation(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "scenario.marble", []byte("source: ab|\nexpect: ba|\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	err := runScript(fs, "scenario.marble", false, false)
	if err == nil {
		t.Fatal("expected mismatched expectation to return an error")
	}
	if !strings.Contains(err.Error(), "marble expectation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunScriptPropagatesLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := runScript(fs, "missing.marble", false, false); err == nil {
		t.Error("expected an error for a missing script file")
	}
}
