package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mercury/internal/store"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with testdata/golden/<name>.golden.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file")

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	n := 3
	data, err := TraceSnapshot{
		ScenarioName: "s",
		Trace: []store.TraceEntry{
			{Seq: 1, Kind: store.TraceExecution, CellID: "c", Phase: store.PhaseExecuted, ExecutionCount: &n},
		},
	}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{
  "scenario_name": "s",
  "trace": [
    {
      "seq": 1,
      "kind": "execution",
      "cell_id": "c",
      "phase": "executed",
      "execution_count": 3
    }
  ]
}
`, string(data))

	empty, err := TraceSnapshot{ScenarioName: "e"}.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"trace": []`)
}
