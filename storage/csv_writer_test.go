package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complex-watch/models"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriterWritesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "changes.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	up := testChange("2", models.ChangePriceUp, day)
	up.OldPriceRaw, up.NewPriceRaw = "5억", "5억 2,000"
	up.PriceDeltaUnits, up.PriceDeltaPercent = 2000, 4
	require.NoError(t, w.WriteChanges([]models.ChangeRecord{up}))
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, changeHeader, rows[0])
	assert.Equal(t, "PRICE_UP", rows[1][2])
	assert.Equal(t, "5억 2,000", rows[1][8])
	assert.Equal(t, "2000", rows[1][9])
	assert.Equal(t, "4.00", rows[1][10])
	assert.Equal(t, "2026-10-01T09:00:00Z", rows[1][13])
}

func TestCSVWriterAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.csv")

	for _, id := range []string{"1", "2"} {
		w, err := NewCSVWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.WriteChanges([]models.ChangeRecord{testChange(id, models.ChangeNew, day)}))
		require.NoError(t, w.Close())
	}

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "2", rows[2][1])
}
