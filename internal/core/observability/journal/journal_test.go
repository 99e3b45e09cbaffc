package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crowdsim/internal/core/events/bus"
)

type testEntry struct {
	EventKind string `json:"kind"`
	AgentID   string `json:"agent_id"`
	Tick      uint64 `json:"tick"`
}

func (e testEntry) Kind() string         { return e.EventKind }
func (e testEntry) Source() string       { return e.AgentID }
func (e testEntry) Timestamp() time.Time { return time.Time{} }

func readBack(t *testing.T, dir string) []testEntry {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no journal segments written")

	var entries []testEntry
	for _, path := range paths {
		f, err := os.Open(path)
		require.NoError(t, err)
		dec, err := zstd.NewReader(f)
		require.NoError(t, err)
		scanner := bufio.NewScanner(dec)
		for scanner.Scan() {
			var e testEntry
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			entries = append(entries, e)
		}
		require.NoError(t, scanner.Err())
		dec.Close()
		require.NoError(t, f.Close())
	}
	return entries
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(testEntry{
			EventKind: "agent.state",
			AgentID:   "a-000001",
			Tick:      uint64(i),
		}))
	}
	require.NoError(t, w.Close())

	entries := readBack(t, dir)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, "agent.state", e.EventKind)
		assert.Equal(t, "a-000001", e.AgentID)
		assert.Equal(t, uint64(i), e.Tick)
	}
}

func TestWriterCloseWithoutWrites(t *testing.T) {
	w := NewWriter(t.TempDir(), "events")
	require.NoError(t, w.Close())
}

func TestRecorderJournalsBusTraffic(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()

	r, err := NewRecorder(b, dir)
	require.NoError(t, err)

	require.NoError(t, b.Publish(testEntry{EventKind: "agent.spawned", AgentID: "a-000000"}))
	require.NoError(t, b.Publish(testEntry{EventKind: "venue.entered", AgentID: "a-000000", Tick: 40}))
	require.NoError(t, r.Close())

	// closed recorders must not observe later traffic
	require.NoError(t, b.Publish(testEntry{EventKind: "agent.despawned", AgentID: "a-000000"}))

	entries := readBack(t, filepath.Join(dir, "events"))
	require.Len(t, entries, 2)
	assert.Equal(t, "agent.spawned", entries[0].EventKind)
	assert.Equal(t, "venue.entered", entries[1].EventKind)
	assert.Equal(t, uint64(40), entries[1].Tick)
}
