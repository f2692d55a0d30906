package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"complex-watch/models"
)

var changeHeader = []string{
	"collection_id", "listing_id", "change_type", "trade_type", "building", "floor", "area",
	"old_price", "new_price", "delta_units", "delta_percent", "from_generation", "to_generation", "detected_at",
}

// CSVWriter appends change records to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens the CSV file at path for appending. The header row is
// written only when the file is new or empty. Intermediate directories are
// created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(changeHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteChanges appends one row per change record.
func (c *CSVWriter) WriteChanges(changes []models.ChangeRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range changes {
		row := []string{
			ch.CollectionID,
			ch.ListingID,
			string(ch.ChangeType),
			ch.TradeType,
			ch.BuildingLabel,
			ch.FloorLabel,
			ch.AreaLabel,
			ch.OldPriceRaw,
			ch.NewPriceRaw,
			strconv.FormatInt(ch.PriceDeltaUnits, 10),
			strconv.FormatFloat(ch.PriceDeltaPercent, 'f', 2, 64),
			ch.FromGenerationID,
			ch.ToGenerationID,
			ch.DetectedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}
