package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// events places o2 before its predecessor and leaves c2's order waiting for
// a customer that never arrives.
const events = `# out-of-order placement
{"EventTime":"2025-01-10T12:05:00Z","EventName":"OrderPlaced","EntityName":"Order","Sequence":2,"Payload":{"OrderId":"o2","CustomerId":"c1","TotalOrderAmount":100}}
{"EventTime":"2025-01-10T12:00:00Z","EventName":"CustomerCreated","EntityName":"Customer","Sequence":1,"Payload":{"CustomerId":"c1"}}
{"EventTime":"2025-01-10T12:01:00Z","EventName":"OrderPlaced","EntityName":"Order","Sequence":1,"Payload":{"OrderId":"o1","CustomerId":"c1","TotalOrderAmount":200}}
{"EventTime":"2025-01-10T12:02:00Z","EventName":"OrderPlaced","EntityName":"Order","Sequence":1,"Payload":{"OrderId":"o9","CustomerId":"c2","TotalOrderAmount":500}}
`

const asOf = "2025-02-01T00:00:00Z"

// ingested returns a database path with events already ingested.
func ingested(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(events), 0o644))

	out, err := execute(t, "--db", db, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 4 line(s): 2 applied, 2 buffered, 0 duplicate, 0 dropped")
	assert.Contains(t, out, "replayed from buffer: 1")
	return db
}

// decodeData unmarshals the data field of a JSON CLI response into v.
func decodeData(t *testing.T, out string, v any) string {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if v != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
	return resp.Status
}

func TestIngest_MissingFile(t *testing.T) {
	_, err := execute(t, "ingest", "/nonexistent/events.jsonl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngest_StrictRejectsInvalidLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(events+"not json\n"), 0o644))

	out, err := execute(t, "--format", "json", "ingest", "--strict", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var stats struct {
		Lines   int `json:"lines"`
		Applied int `json:"applied"`
	}
	assert.Equal(t, "error", decodeData(t, out, &stats))
	assert.Equal(t, 5, stats.Lines)
	assert.Equal(t, 2, stats.Applied)
}

func TestPoints(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "points", "c1", "--as-of", asOf)
	require.NoError(t, err)
	assert.Equal(t, "c1: 6 point(s) available\n", out)

	out, err = execute(t, "--db", db, "--format", "json", "points", "c1", "--as-of", asOf)
	require.NoError(t, err)
	var result PointsResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.Equal(t, int64(6), result.PointsAvailable)
	assert.Equal(t, "c1", result.Customer)
}

func TestPoints_UnknownCustomer(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "points", "c2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestPoints_InvalidAsOf(t *testing.T) {
	_, err := execute(t, "points", "c1", "--as-of", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConsume(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "consume", "c1", "5", "--as-of", asOf)
	require.NoError(t, err)
	assert.Equal(t, "c1: redeemed 5 point(s), 1 available\n", out)

	out, err = execute(t, "--db", db, "--format", "json", "consume", "c1", "2", "--as-of", asOf)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", decodeData(t, out, nil))
	assert.Contains(t, out, CodeInsufficient)

	out, err = execute(t, "--db", db, "points", "c1", "--as-of", asOf)
	require.NoError(t, err)
	assert.Equal(t, "c1: 1 point(s) available\n", out)
}

func TestConsume_InvalidPoints(t *testing.T) {
	for _, amount := range []string{"0", "-3", "1.5", "ten"} {
		t.Run(amount, func(t *testing.T) {
			out, err := execute(t, "consume", "c1", amount)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "Error [E_INVALID_POINTS]")
		})
	}
}

func TestPending(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "1 buffered event(s)")
	assert.Contains(t, out, "placement: 1")
	assert.Contains(t, out, "placement:c2 #1 OrderPlaced#1(placement:c2)")

	out, err = execute(t, "--db", db, "--format", "json", "pending")
	require.NoError(t, err)
	var result PendingResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.Equal(t, 1, result.Stats.Total)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "placement:c2", result.Events[0].Key)
}

func TestPending_SweepWithoutRetentionKeepsEvents(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "--format", "json", "pending", "--sweep")
	require.NoError(t, err)
	var result PendingResult
	decodeData(t, out, &result)
	assert.Equal(t, 0, result.Evicted)
	assert.Equal(t, 1, result.Stats.Total)
}

func TestPending_SweepEvictsExpired(t *testing.T) {
	db := ingested(t)
	cfg := filepath.Join(t.TempDir(), "loyalty.cue")
	require.NoError(t, os.WriteFile(cfg, []byte(`buffer: retention: "1ns"`+"\n"), 0o644))

	out, err := execute(t, "--db", db, "--config", cfg, "pending", "--sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Evicted 1 expired event(s)")
	assert.Contains(t, out, "No buffered events.")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
