package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sluice/pkg/ledger"
	"github.com/Sumatoshi-tech/sluice/pkg/persist"
	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// testQueryIDs is the query set used by manager tests.
var testQueryIDs = []string{"client_totals", "sales_summary"}

func testSnapshot(batchID uint64) *Snapshot {
	led := ledger.New()
	led.MarkCommitted([]string{"/data/a.csv"}, batchID)

	acc := query.NewAccumulator()
	acc.Sums["total"] = 250
	acc.Count = 2

	return &Snapshot{
		BatchID: batchID,
		Variant: "compact",
		Ledger:  led,
		States: map[string]query.GroupState{
			"client_totals": {"c1": acc},
			"sales_summary": {},
		},
	}
}

func newTestManager(t *testing.T, codec persist.Codec) *Manager {
	t.Helper()

	return NewManager(t.TempDir(), "/data", codec)
}

func TestManager_SaveRestore(t *testing.T) {
	t.Parallel()

	codecs := map[string]persist.Codec{
		"json":    persist.NewJSONCodec(),
		"gob":     persist.NewGobCodec(),
		"gob.lz4": persist.NewLZ4Codec(persist.NewGobCodec()),
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(t, codec)

			err := mgr.Save(testSnapshot(4))

			require.NoError(t, err)
			require.True(t, mgr.Exists())

			snap, err := mgr.Restore("compact", testQueryIDs)

			require.NoError(t, err)
			require.NotNil(t, snap)

			assert.EqualValues(t, 4, snap.BatchID)
			assert.True(t, snap.Ledger.Excluded("/data/a.csv"))

			part := snap.States["client_totals"]

			require.Contains(t, part, "c1")
			assert.InDelta(t, 250.0, part["c1"].Sums["total"], 1e-9)
			assert.EqualValues(t, 2, part["c1"].Count)
		})
	}
}

func TestManager_RestoreNoCheckpoint(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	snap, err := mgr.Restore("compact", testQueryIDs)

	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestManager_RestoreSurvivesCodecChange(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	saver := NewManager(base, "/data", persist.NewGobCodec())

	require.NoError(t, saver.Save(testSnapshot(1)))

	// The manifest records the codec; a manager configured differently
	// still restores.
	loader := NewManager(base, "/data", persist.NewJSONCodec())

	snap, err := loader.Restore("compact", testQueryIDs)

	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.EqualValues(t, 1, snap.BatchID)
}

func TestManager_RestoreVariantMismatch(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	_, err := mgr.Restore("detailed", testQueryIDs)

	require.ErrorIs(t, err, ErrVariantMismatch)
}

func TestManager_RestoreQuerySetMismatch(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	_, err := mgr.Restore("compact", []string{"client_totals"})

	require.ErrorIs(t, err, ErrQuerySetMismatch)

	_, err = mgr.Restore("compact", []string{"client_totals", "other"})

	require.ErrorIs(t, err, ErrQuerySetMismatch)
}

func TestManager_RestoreQueryOrderIrrelevant(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	snap, err := mgr.Restore("compact", []string{"sales_summary", "client_totals"})

	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestManager_RestoreCorruptManifest(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	raw, err := os.ReadFile(filepath.Join(mgr.Root(), "CURRENT"))
	require.NoError(t, err)

	cpDir := filepath.Join(mgr.Root(), strings.TrimSpace(string(raw)))

	err = os.WriteFile(filepath.Join(cpDir, "manifest.json"), []byte(`{"version":1}`), 0o600)
	require.NoError(t, err)

	_, err = mgr.Restore("compact", testQueryIDs)

	require.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_RestoreCorruptPointer(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	err := os.WriteFile(filepath.Join(mgr.Root(), "CURRENT"), []byte("  \n"), 0o600)
	require.NoError(t, err)

	_, err = mgr.Restore("compact", testQueryIDs)

	require.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_RestoreMissingStateFile(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))

	raw, err := os.ReadFile(filepath.Join(mgr.Root(), "CURRENT"))
	require.NoError(t, err)

	cpDir := filepath.Join(mgr.Root(), strings.TrimSpace(string(raw)))

	err = os.Remove(filepath.Join(cpDir, "state_client_totals.json"))
	require.NoError(t, err)

	_, err = mgr.Restore("compact", testQueryIDs)

	require.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_SaveKeepsLatestAfterMultipleCommits(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	for batch := uint64(1); batch <= 3; batch++ {
		require.NoError(t, mgr.Save(testSnapshot(batch)))
	}

	snap, err := mgr.Restore("compact", testQueryIDs)

	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.EqualValues(t, 3, snap.BatchID)
}

func TestManager_PruneBySize(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())
	mgr.MaxSize = 1 // Every superseded checkpoint exceeds this.

	for batch := uint64(1); batch <= 3; batch++ {
		require.NoError(t, mgr.Save(testSnapshot(batch)))
	}

	entries, err := os.ReadDir(mgr.Root())
	require.NoError(t, err)

	dirs := 0

	for _, entry := range entries {
		if entry.IsDir() {
			dirs++
		}
	}

	// Only the live checkpoint directory remains.
	assert.Equal(t, 1, dirs)

	snap, err := mgr.Restore("compact", testQueryIDs)

	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.EqualValues(t, 3, snap.BatchID)
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewJSONCodec())

	require.NoError(t, mgr.Save(testSnapshot(1)))
	require.True(t, mgr.Exists())

	require.NoError(t, mgr.Clear())
	assert.False(t, mgr.Exists())

	// Clearing again is a no-op.
	require.NoError(t, mgr.Clear())
}

func TestManager_LoadManifest(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, persist.NewGobCodec())

	require.NoError(t, mgr.Save(testSnapshot(7)))

	manifest, err := mgr.LoadManifest()

	require.NoError(t, err)
	assert.EqualValues(t, 7, manifest.BatchID)
	assert.Equal(t, "compact", manifest.Variant)
	assert.Equal(t, ".gob", manifest.StateCodec)
	assert.Equal(t, []string{"client_totals", "sales_summary"}, manifest.Queries)
}

func TestWatchHash_StableAndDistinct(t *testing.T) {
	t.Parallel()

	assert.Equal(t, WatchHash("/data"), WatchHash("/data"))
	assert.NotEqual(t, WatchHash("/data"), WatchHash("/other"))
	assert.Len(t, WatchHash("/data"), 16)
}
