package sst

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

const (
	fieldWidth = 3
	scale      = 10.0
	// Anything above this after scaling is a sentinel (99.9, 88.8), not a temperature.
	maxValid = 80.0
	units    = "degree"
)

// ParseTag parses a snapshot file for a resolution tag.
func ParseTag(path, tag string) (*models.Grid, error) {
	res, err := models.ParseResolution(tag)
	if err != nil {
		return nil, err
	}
	return Parse(path, res)
}

// Parse reads a NearGOOS fixed-width SST text file. The first line is a date header;
// every following line is one latitude row of 3-digit tenths of a degree, northernmost
// first. The returned grid has row 0 at the southernmost latitude.
func Parse(path string, res models.Resolution) (*models.Grid, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownResolution, int(res))
	}
	p := res.Profile()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	grid := &models.Grid{Resolution: res, Units: units}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: %s is empty", ErrMalformedGrid, path)
	}
	grid.Date = parseHeaderDate(scanner.Text())

	rows := make([][]float64, 0, p.LatCount)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		row, err := decodeRow(text, p.LonCount)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedGrid, path, line+1, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) != p.LatCount {
		return nil, fmt.Errorf("%w: %s has %d rows, want %d", ErrMalformedGrid, path, len(rows), p.LatCount)
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	grid.Values = rows
	grid.Latitude = p.Latitudes()
	grid.Longitude = p.Longitudes()
	return grid, nil
}

// decodeRow splits a line into 3-character integer fields, scales them to degrees and
// masks sentinels.
func decodeRow(line string, want int) ([]float64, error) {
	if len(line)%fieldWidth != 0 {
		return nil, fmt.Errorf("line length %d is not a multiple of %d", len(line), fieldWidth)
	}
	n := len(line) / fieldWidth
	if n != want {
		return nil, fmt.Errorf("%d columns, want %d", n, want)
	}
	row := make([]float64, n)
	for i := range row {
		field := line[i*fieldWidth : (i+1)*fieldWidth]
		raw, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("column %d: invalid field %q", i+1, field)
		}
		v := float64(raw) / scale
		if v > maxValid {
			v = math.NaN()
		}
		row[i] = v
	}
	return row, nil
}

// parseHeaderDate reads the YYYYMMDD date from the header line; the zero time is
// returned when the header carries no recognisable date.
func parseHeaderDate(header string) time.Time {
	header = strings.TrimSpace(header)
	if len(header) < 8 {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102", header[:8], time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
