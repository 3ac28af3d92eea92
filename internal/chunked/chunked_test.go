package chunked

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// writeCSVCandles writes rows candles with strictly increasing hourly
// timestamps starting at 2024-01-01T00:00:00Z.
func writeCSVCandles(t *testing.T, rows int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	f.WriteString("date,open,high,low,close,volume\n")
	for i := 0; i < rows; i++ {
		day := 1 + i/24
		hour := i % 24
		date := "2024-01-" + pad2(day) + "T" + pad2(hour) + ":00:00Z"
		price := 100 + i
		f.WriteString(date + "," + strconv.Itoa(price) + "," + strconv.Itoa(price+1) + "," + strconv.Itoa(price-1) + "," + strconv.Itoa(price) + ",10\n")
	}
	return path
}

func pad2(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

func TestWarmupOverlap(t *testing.T) {
	if WarmupOverlap(50) != DefaultWarmupOverlap {
		t.Fatalf("WarmupOverlap(50) = %d, want default %d", WarmupOverlap(50), DefaultWarmupOverlap)
	}
	if WarmupOverlap(500) != 500 {
		t.Fatalf("WarmupOverlap(500) = %d, want 500", WarmupOverlap(500))
	}
}

func TestIteratorChunksAndOverlap(t *testing.T) {
	path := writeCSVCandles(t, 25)
	src, err := OpenCSV(path, "BTC-USD")
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer src.Close()

	it := NewIterator(src, "BTC-USD", "1h", 10, 3)

	first, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next (chunk 1): %v", err)
	}
	if first.Len() != 10 {
		t.Fatalf("chunk 1 length = %d, want 10", first.Len())
	}

	second, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next (chunk 2): %v", err)
	}
	if second.Len() != 13 {
		t.Fatalf("chunk 2 length = %d, want 13 (10 fresh + 3 overlap)", second.Len())
	}
	if second.Candles[0].TimestampMs != first.Candles[7].TimestampMs {
		t.Fatalf("chunk 2 head should be chunk 1's overlap tail")
	}

	third, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next (chunk 3): %v", err)
	}
	if third.Len() != 8 {
		t.Fatalf("chunk 3 length = %d, want 8 (5 fresh + 3 overlap)", third.Len())
	}

	if _, err := it.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF after exhausting source, got %v", err)
	}
}

func TestLoadSeriesFlattensChunksWithoutDuplicates(t *testing.T) {
	path := writeCSVCandles(t, 25)
	src, err := OpenCSV(path, "BTC-USD")
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer src.Close()

	series, err := LoadSeries(context.Background(), src, "BTC-USD", "1h", 10, 3)
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if series.Len() != 25 {
		t.Fatalf("series length = %d, want 25 (no duplicated overlap candles)", series.Len())
	}
	for i := 1; i < series.Len(); i++ {
		if series.Candles[i].TimestampMs <= series.Candles[i-1].TimestampMs {
			t.Fatalf("candle %d timestamp not strictly increasing", i)
		}
	}
}

func TestOpenCSVMissingColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("date,open,high,low,close\n2024-01-01,1,2,0,1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenCSV(path, "BTC-USD"); err == nil {
		t.Fatalf("expected error for missing volume column")
	}
}
