// Package chunked implements bounded-memory streaming of large candle
// files (§4.10). Candles are read off disk a fixed number at a time;
// each chunk owns its own allocation and is handed to the caller before
// the next chunk is read, so memory use stays proportional to the chunk
// size rather than the file size. Grounded on the teacher's
// libs/dataset/registry.go CSV column-parsing conventions (case-
// insensitive header lookup, multi-format date parsing), adapted from an
// eager whole-file load into a streaming encoding/csv.Reader, and wrapped
// with the same circuit breaker libs/resilience grounds internal/resilience
// on, guarding against a flaky network filesystem mid-run.
package chunked

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"backsim/internal/candle"
	"backsim/internal/money"
	"backsim/internal/resilience"
	"backsim/internal/simerr"
)

// DefaultChunkSize is the spec's default chunk length.
const DefaultChunkSize = 10_000

// DefaultWarmupOverlap is this implementation's chosen default for the
// chunk-boundary warm-up overlap (§9 "Chunked indicator warm-up"): the
// longest configured indicator period across the sample strategies (the
// MA crossover's sma200), floored at 200 so any caller-supplied indicator
// set shorter than that still gets a reasonable overlap.
const DefaultWarmupOverlap = 200

// WarmupOverlap returns max(longestIndicatorPeriod, DefaultWarmupOverlap),
// the decided default documented in SPEC_FULL.md §14.
func WarmupOverlap(longestIndicatorPeriod int) int {
	if longestIndicatorPeriod > DefaultWarmupOverlap {
		return longestIndicatorPeriod
	}
	return DefaultWarmupOverlap
}

var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

// CSVSource reads OHLCV rows from a CSV file lazily, one row at a time,
// via the standard library's streaming Reader. Expected header (case-
// insensitive): date,open,high,low,close,volume.
type CSVSource struct {
	f      *os.File
	r      *csv.Reader
	colIdx map[string]int
	pair   string
}

// OpenCSV opens filePath and parses its header, leaving the cursor
// positioned at the first data row.
func OpenCSV(filePath, pair string) (*CSVSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w: %w", filePath, simerr.ErrFileNotFound, err)
	}
	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header of %q: %w: %w", filePath, simerr.ErrParseError, err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := colIdx[required]; !ok {
			f.Close()
			return nil, fmt.Errorf("%q missing column %q: %w", filePath, required, simerr.ErrParseError)
		}
	}

	return &CSVSource{f: f, r: r, colIdx: colIdx, pair: pair}, nil
}

// Close releases the underlying file handle.
func (s *CSVSource) Close() error { return s.f.Close() }

// readRow parses one CSV row into a Candle, or returns io.EOF when
// exhausted.
func (s *CSVSource) readRow() (candle.Candle, error) {
	row, err := s.r.Read()
	if err != nil {
		return candle.Candle{}, err
	}

	col := func(name string) string { return strings.TrimSpace(row[s.colIdx[name]]) }
	parseDecimal := func(name string) (money.Decimal, error) {
		return money.FromString(col(name))
	}

	ts, err := parseDate(col("date"))
	if err != nil {
		return candle.Candle{}, fmt.Errorf("date: %w", err)
	}
	o, err := parseDecimal("open")
	if err != nil {
		return candle.Candle{}, fmt.Errorf("open: %w", err)
	}
	h, err := parseDecimal("high")
	if err != nil {
		return candle.Candle{}, fmt.Errorf("high: %w", err)
	}
	l, err := parseDecimal("low")
	if err != nil {
		return candle.Candle{}, fmt.Errorf("low: %w", err)
	}
	c, err := parseDecimal("close")
	if err != nil {
		return candle.Candle{}, fmt.Errorf("close: %w", err)
	}
	vStr := col("volume")
	vInt, err := strconv.ParseInt(vStr, 10, 64)
	var v money.Decimal
	if err != nil {
		if v, err = money.FromString(vStr); err != nil {
			return candle.Candle{}, fmt.Errorf("volume: %w", err)
		}
	} else {
		v = money.FromInt(vInt)
	}

	return candle.Candle{
		TimestampMs: ts.UnixMilli(),
		Open:        o, High: h, Low: l, Close: c, Volume: v,
	}, nil
}

// Iterator reads fixed-size chunks of candles from a CSVSource, carrying
// a configurable warm-up overlap from the tail of one chunk into the
// head of the next so indicators recomputed per chunk aren't NaN at the
// chunk boundary.
type Iterator struct {
	source    *CSVSource
	chunkSize int
	overlap   int
	pair      string
	timeframe string
	breaker   *resilience.CircuitBreaker

	carry []candle.Candle
	done  bool
}

// NewIterator constructs an Iterator over source, yielding series of
// chunkSize candles (falling back to DefaultChunkSize when chunkSize<=0)
// with overlap (falling back to DefaultWarmupOverlap when negative)
// candles of context carried from the previous chunk.
func NewIterator(source *CSVSource, pair, timeframe string, chunkSize, overlap int) *Iterator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultWarmupOverlap
	}
	return &Iterator{
		source:    source,
		chunkSize: chunkSize,
		overlap:   overlap,
		pair:      pair,
		timeframe: timeframe,
		breaker:   resilience.New(resilience.ChunkLoadConfig("chunked-load")),
	}
}

// Next loads the next chunk, guarded by a circuit breaker against
// repeated I/O failures, and returns it as a candle.Series seeded with
// the previous chunk's overlap tail. Returns io.EOF once the source is
// exhausted with no remaining data.
func (it *Iterator) Next(ctx context.Context) (*candle.Series, error) {
	if it.done {
		return nil, io.EOF
	}

	result, err := it.breaker.Execute(func() (any, error) {
		return it.loadChunk()
	})
	if err != nil {
		return nil, fmt.Errorf("loading chunk: %w", err)
	}
	rows := result.([]candle.Candle)

	all := append(it.carry, rows...)
	if len(all) == 0 {
		it.done = true
		return nil, io.EOF
	}

	if len(rows) < it.chunkSize {
		it.done = true
		it.carry = nil
	} else if len(all) > it.overlap {
		it.carry = append([]candle.Candle(nil), all[len(all)-it.overlap:]...)
	} else {
		it.carry = append([]candle.Candle(nil), all...)
	}

	series, err := candle.NewSeries(it.pair, it.timeframe, all)
	if err != nil {
		return nil, fmt.Errorf("building chunk series: %w", err)
	}
	return series, nil
}

// LoadSeries drains source through an Iterator and flattens every chunk
// into a single Series, dropping each chunk's warm-up overlap candles
// that duplicate the tail of the previous chunk. Intended for callers that
// want the §4.10 bounded-memory read path but need one contiguous Series
// to hand the engine, at the cost of holding the full file in memory once
// assembled.
func LoadSeries(ctx context.Context, source *CSVSource, pair, timeframe string, chunkSize, overlap int) (*candle.Series, error) {
	it := NewIterator(source, pair, timeframe, chunkSize, overlap)
	var all []candle.Candle
	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			all = append(all, chunk.Candles...)
			continue
		}
		lastTs := all[len(all)-1].TimestampMs
		for _, c := range chunk.Candles {
			if c.TimestampMs > lastTs {
				all = append(all, c)
			}
		}
	}
	return candle.NewSeries(pair, timeframe, all)
}

func (it *Iterator) loadChunk() ([]candle.Candle, error) {
	rows := make([]candle.Candle, 0, it.chunkSize)
	for len(rows) < it.chunkSize {
		c, err := it.source.readRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", simerr.ErrParseError, err)
		}
		rows = append(rows, c)
	}
	return rows, nil
}
