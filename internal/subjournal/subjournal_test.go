package subjournal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("BB", "IBM", 42, false))
	require.NoError(t, j.Record("BB", "AAPL", 7, true))

	rows, err := j.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRecordUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("BB", "IBM", 1, false))
	require.NoError(t, j.Record("BB", "IBM", 2, true))

	rows, err := j.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 2, rows[0].Tag)
	require.True(t, rows[0].BDS)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("BB", "IBM", 42, false))
	require.NoError(t, j.Remove("BB", "IBM"))

	rows, err := j.All()
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("BB", "IBM", 42, false))
	require.NoError(t, j.Remove("BB", "IBM"))
	require.NoError(t, j.Compact())
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record("BB", "IBM", 42, false))
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	rows, err := j2.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "IBM", rows[0].Ticker)
}
