package calculator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner builds an executable that answers the line-delimited JSON
// protocol and records every request it receives.
func fakeRunner(t *testing.T, reqLog string) string {
	t.Helper()
	script := fmt.Sprintf(`#!/bin/sh
while read line; do
  printf '%%s\n' "$line" >> %s
  echo '{"energy":-1.5,"forces":[[0,0,0],[0,0,0]]}'
done
`, reqLog)
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestNeural_RequestCarriesElectronicState(t *testing.T) {
	reqLog := filepath.Join(t.TempDir(), "requests.jsonl")
	calc, err := New(Spec{
		Backend:    "leftnet",
		Device:     DeviceCPU,
		RunnerPath: fakeRunner(t, reqLog),
	})
	require.NoError(t, err)
	defer calc.Close()

	anion := diatomic(0.8)
	anion.Charge, anion.Multiplicity = -1, 3
	res, err := calc.Evaluate(context.Background(), anion)
	require.NoError(t, err)
	assert.Equal(t, -1.5, res.Energy)

	// Unset multiplicity is sent as a singlet.
	_, err = calc.Evaluate(context.Background(), diatomic(0.8))
	require.NoError(t, err)

	b, err := os.ReadFile(reqLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"charge":-1`)
	assert.Contains(t, lines[0], `"multiplicity":3`)
	assert.Contains(t, lines[1], `"charge":0`)
	assert.Contains(t, lines[1], `"multiplicity":1`)
}
