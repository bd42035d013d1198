package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sluice/pkg/ledger"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)

	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestMonitor_DiscoverSortedAndFiltered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "h\n")
	writeFile(t, dir, "a.csv", "h\n")
	writeFile(t, dir, "notes.txt", "ignored")

	err := os.Mkdir(filepath.Join(dir, "sub.csv"), 0o750)
	require.NoError(t, err)

	m := NewMonitor(dir, time.Second)

	files, err := m.Discover(ledger.New())

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.csv"), files[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.csv"), files[1].Path)
}

func TestMonitor_DiscoverExcludesLedgerEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	committed := writeFile(t, dir, "done.csv", "h\n")
	quarantined := writeFile(t, dir, "bad.csv", "h\n")
	writeFile(t, dir, "new.csv", "h\n")

	led := ledger.New()
	led.MarkCommitted([]string{committed}, 1)
	led.MarkQuarantined(quarantined, "unreadable")

	m := NewMonitor(dir, time.Second)

	files, err := m.Discover(led)

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "new.csv"), files[0].Path)
}

func TestMonitor_DiscoverMissingDir(t *testing.T) {
	t.Parallel()

	m := NewMonitor(filepath.Join(t.TempDir(), "absent"), time.Second)

	_, err := m.Discover(ledger.New())

	require.Error(t, err)
}

func TestMonitor_ReadRowsSkipsHeader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "orders.csv",
		"order_id,client_id,order_date,status,total\n"+
			"1,c1,2026-01-01,paid,50.00\n"+
			"2, c2,2026-01-02,paid,150.00\n")

	m := NewMonitor(dir, time.Second)

	rows, err := m.ReadRows(context.Background(), File{Path: path})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "c1", "2026-01-01", "paid", "50.00"}, rows[0])
	assert.Equal(t, "c2", rows[1][1])
}

func TestMonitor_ReadRowsHeaderOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "orders.csv", "order_id,client_id,order_date,status,total\n")

	m := NewMonitor(dir, time.Second)

	rows, err := m.ReadRows(context.Background(), File{Path: path})

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMonitor_ReadRowsEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "orders.csv", "")

	m := NewMonitor(dir, time.Second)

	_, err := m.ReadRows(context.Background(), File{Path: path})

	require.ErrorIs(t, err, ErrEmptyFile)
}

func TestMonitor_ReadRowsBinaryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "orders.csv", "order_id,total\n1,\x00\x01\x02\n")

	m := NewMonitor(dir, time.Second)

	_, err := m.ReadRows(context.Background(), File{Path: path})

	require.ErrorIs(t, err, ErrBinaryFile)
}

func TestMonitor_ReadRowsMissingFile(t *testing.T) {
	t.Parallel()

	m := NewMonitor(t.TempDir(), time.Second)

	_, err := m.ReadRows(context.Background(), File{Path: filepath.Join(m.Dir, "gone.csv")})

	require.Error(t, err)
}

func TestMonitor_ReadRowsCanceledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "orders.csv", "h\n1,c1,2026-01-01,paid,1\n")

	m := NewMonitor(dir, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A canceled context may or may not win the race against a tiny read;
	// either a row set or a context error is acceptable, never a hang.
	_, err := m.ReadRows(ctx, File{Path: path})
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}
