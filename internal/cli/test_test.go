package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

const failingScenario = `name: wrong_expectation
description: "Expectations that do not hold"
steps:
  - event: {name: CustomerCreated, seq: 1, customer: c1}
    expect: out_of_order
assertions:
  - type: not_found
    customer: c1
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandInvalidBackend(t *testing.T) {
	_, err := execute(t, "test", scenariosDir, "--backend", "postgres")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandRunsScenarios(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			out, err := execute(t, "--format", "json", "test", scenariosDir, "--golden", goldenDir, "--backend", backend)
			require.NoError(t, err, out)

			var result TestResult
			assert.Equal(t, "ok", decodeData(t, out, &result))
			assert.Equal(t, 10, result.Total)
			assert.Equal(t, 10, result.Passed)

			golden := map[string]string{}
			for _, sr := range result.Scenarios {
				if sr.Golden != "" {
					golden[sr.Name] = sr.Golden
				}
			}
			assert.Equal(t, map[string]string{
				"scenario_a":             "match",
				"partial_consume_return": "match",
			}, golden)
		})
	}
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, "test", scenariosDir, "--golden", goldenDir, "--filter", "scenario_*")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS scenario_a")
	assert.Contains(t, out, "PASS scenario_e")
	assert.NotContains(t, out, "expiry")
	assert.Contains(t, out, "5 passed, 0 failed, 5 total")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := execute(t, "test", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "test", scenariosDir, "--golden", dir, "--filter", "scenario_a", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS scenario_a")
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "scenario_a.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "scenario_a.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scenario_a.golden"), "{}\n")

	out, err := execute(t, "test", scenariosDir, "--golden", dir, "--filter", "scenario_a")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL scenario_a")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "wrong.yaml"), failingScenario)
	writeFile(t, filepath.Join(dir, "broken.yml"), "name: [\n")

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	assert.Equal(t, "error", decodeData(t, out, &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Scenarios, 2)

	broken, wrong := result.Scenarios[0], result.Scenarios[1]
	assert.Equal(t, "broken.yml", broken.Name)
	assert.Contains(t, broken.Errors[0], "failed to load scenario")
	assert.Equal(t, "wrong_expectation", wrong.Name)
	assert.Len(t, wrong.Errors, 2)
}
