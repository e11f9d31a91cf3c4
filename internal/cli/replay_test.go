package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loyalty/internal/store"
)

func TestReplayEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--db", db, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 0 event(s)")
	assert.Contains(t, out, "OK: rebuild is deterministic")
	assert.Contains(t, out, "OK: rebuilt ledger matches the persisted ledger")
}

func TestReplayMatchesLedger(t *testing.T) {
	db := ingested(t)

	out, err := execute(t, "--db", db, "--format", "json", "replay", "--strict")
	require.NoError(t, err)

	var result ReplayResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.True(t, result.Deterministic)
	assert.True(t, result.MatchesLedger)
	assert.Equal(t, 4, result.Stats.Events)
	assert.Equal(t, 2, result.Stats.Applied)
	assert.Equal(t, 2, result.Stats.Buffered)
	assert.Equal(t, 1, result.Stats.Replayed)
}

func TestReplayAfterRedemption(t *testing.T) {
	db := ingested(t)
	_, err := execute(t, "--db", db, "consume", "c1", "5", "--as-of", asOf)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "Warning: rebuilt ledger differs")

	out, err = execute(t, "--db", db, "--format", "json", "replay", "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ReplayResult
	assert.Equal(t, "error", decodeData(t, out, &result))
	assert.True(t, result.Deterministic)
	assert.False(t, result.MatchesLedger)
	assert.Contains(t, out, CodeDeterminism)
}

func TestReplayResumesReceipts(t *testing.T) {
	db := ingested(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	last, err := st.LastReceipt(t.Context())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Equal(t, int64(4), last)

	path := filepath.Join(t.TempDir(), "more.jsonl")
	writeFile(t, path, `{"EventTime":"2025-01-11T09:00:00Z","EventName":"CustomerCreated","EntityName":"Customer","Sequence":1,"Payload":{"CustomerId":"c2"}}`+"\n")
	_, err = execute(t, "--db", db, "ingest", path)
	require.NoError(t, err)

	st, err = store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	entries, err := st.ReadInbox(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, int64(5), entries[4].Receipt)
}
