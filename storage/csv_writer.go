package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rent591-notifier/models"
)

// CSVWriter dumps raw list cards to a CSV file for offline inspection of what
// the site actually served. One file per process, rows appended per cycle.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"scraped_at", "region", "id", "title", "raw_price", "raw_area",
		"raw_floor", "raw_layout", "kind", "address", "tags", "url",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one cycle's raw list cards.
func (c *CSVWriter) WriteRaw(items []*models.RawListItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scrapedAt := time.Now().Format(time.RFC3339)
	for _, item := range items {
		row := []string{
			scrapedAt,
			fmt.Sprintf("%d", item.Region),
			item.ID,
			item.Title,
			item.PriceRaw,
			item.AreaRaw,
			item.FloorRaw,
			item.LayoutRaw,
			item.KindName,
			item.Address,
			strings.Join(item.Tags, "|"),
			item.URL,
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
