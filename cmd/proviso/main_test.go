package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProgram = `{
  "name": "div",
  "members": [
    {
      "name": "div",
      "type": {"kind": "ref", "name": "T"},
      "skeleton": {
        "kind": "app",
        "fn": {"kind": "ref", "name": "div_body"},
        "arg": {"kind": "hole", "name": "div_obligation_1"}
      }
    }
  ],
  "obligations": [
    {"goal": {"kind": "ref", "name": "A"}}
  ]
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "div.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleProgram), 0o644))
	return path
}

func TestRunNoArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(nil, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
}

func TestRunProgramsSolve(t *testing.T) {
	path := writeSample(t)

	var out, errOut bytes.Buffer
	code := run([]string{"run", "-solve", "-tactic", "trivial", "-check", path}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	// Completed programs leave the open set, so no rows remain.
	assert.Contains(t, out.String(), "Remain 1")
	assert.NotContains(t, out.String(), "[open]")
}

func TestRunProgramsCheckFails(t *testing.T) {
	path := writeSample(t)

	var out, errOut bytes.Buffer
	code := run([]string{"run", "-check", path}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "unsolved obligations")
}

func TestRunProgramsJSON(t *testing.T) {
	path := writeSample(t)

	var out, errOut bytes.Buffer
	code := run([]string{"run", "-json", path}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), `"div_obligation_1"`)
}

func TestRunObligations(t *testing.T) {
	path := writeSample(t)

	var out, errOut bytes.Buffer
	code := run([]string{"obligations", path}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "div/div_obligation_1 [open]: A")
}

func TestRunLibrariesRequiresProfile(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"libraries"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "-profile is required")
}

func TestRunLibrariesMissingLibrary(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("name: ci\nlibraries:\n  - name: stdlib\n"), 0o644))

	var out, errOut bytes.Buffer
	code := run([]string{"libraries", "-profile", profile}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "required support library not loaded")
}
