package vtime

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// Script is a marble-diagram fixture loaded from a `.marble` file: a
// source marble string and the marble the resulting stream is expected
// to produce, plus whether comparison requires exact tick alignment.
// Grounded on internal/vtime's own ParseMarble/ExpectStream pair — a
// Script is just that pair's two string arguments given a file format so
// cmd/fluxctl can run them without being recompiled per scenario.
type Script struct {
	Source string
	Expect string
	Strict bool
}

// LoadScript reads a marble script from fs at path. The file format is
// line-oriented key: value pairs:
//
//	source: abcdef----|
//	expect: -------f---|
//	strict: false
//
// Blank lines and lines starting with # are ignored. "source" and
// "expect" are required; "strict" defaults to false.
func LoadScript(fs afero.Fs, path string) (Script, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return Script{}, fmt.Errorf("reading marble script %s: %w", path, err)
	}

	var script Script
	haveSource, haveExpect := false, false

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Script{}, fmt.Errorf("marble script %s: malformed line %q", path, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "source":
			script.Source = value
			haveSource = true
		case "expect":
			script.Expect = value
			haveExpect = true
		case "strict":
			script.Strict = value == "true"
		default:
			return Script{}, fmt.Errorf("marble script %s: unknown key %q", path, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return Script{}, fmt.Errorf("reading marble script %s: %w", path, err)
	}
	if !haveSource {
		return Script{}, fmt.Errorf("marble script %s: missing required \"source\" line", path)
	}
	if !haveExpect {
		return Script{}, fmt.Errorf("marble script %s: missing required \"expect\" line", path)
	}
	return script, nil
}

// IdentityValues builds a symbol->value map for a string-typed marble,
// mapping every letter/digit in marble to itself. Scripts that need
// non-identity values fall outside cmd/fluxctl's scope and are exercised
// directly through package tests instead.
func IdentityValues(marble string) map[string]string {
	values := make(map[string]string)
	for i := 0; i < len(marble); i++ {
		c := marble[i]
		if isAlphaNum(c) {
			values[string(c)] = string(c)
		}
	}
	return values
}
