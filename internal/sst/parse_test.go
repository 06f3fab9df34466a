package sst

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

// writeGridFile writes a snapshot for res whose field at (line, col) is field(line, col).
// line 0 is the first data line after the header.
func writeGridFile(t testing.TB, dir, name string, res models.Resolution, field func(line, col int) int) string {
	t.Helper()
	p := res.Profile()
	var b strings.Builder
	b.WriteString("20240729 header\n")
	for line := 0; line < p.LatCount; line++ {
		for col := 0; col < p.LonCount; col++ {
			fmt.Fprintf(&b, "%3d", field(line, col))
		}
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParse_CoarseShapeAndAxes(t *testing.T) {
	path := writeGridFile(t, t.TempDir(), "mgd.txt", models.Coarse, func(line, col int) int { return 250 })

	grid, err := Parse(path, models.Coarse)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rows, cols := grid.Shape()
	if rows != 720 || cols != 1440 {
		t.Fatalf("Shape() = (%d, %d), want (720, 1440)", rows, cols)
	}
	if len(grid.Latitude) != 720 || len(grid.Longitude) != 1440 {
		t.Fatalf("axis lengths = %d, %d", len(grid.Latitude), len(grid.Longitude))
	}
	if grid.Latitude[0] != -89.875 || grid.Latitude[719] != 89.875 {
		t.Errorf("latitude endpoints = %v, %v", grid.Latitude[0], grid.Latitude[719])
	}
	if grid.Longitude[0] != 0.125 || grid.Longitude[1439] != 359.875 {
		t.Errorf("longitude endpoints = %v, %v", grid.Longitude[0], grid.Longitude[1439])
	}
	for i := 1; i < len(grid.Latitude); i++ {
		if grid.Latitude[i] <= grid.Latitude[i-1] {
			t.Fatalf("latitude not ascending at %d", i)
		}
	}
	if math.Abs(grid.Latitude[1]-grid.Latitude[0]-0.25) > 1e-9 {
		t.Errorf("latitude step = %v, want 0.25", grid.Latitude[1]-grid.Latitude[0])
	}
	if grid.Units != "degree" {
		t.Errorf("Units = %q, want degree", grid.Units)
	}
	if !grid.Date.Equal(time.Date(2024, 7, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", grid.Date)
	}
}

func TestParse_FineAxes(t *testing.T) {
	path := writeGridFile(t, t.TempDir(), "him.txt", models.Fine, func(line, col int) int { return 100 })

	grid, err := ParseTag(path, "high")
	if err != nil {
		t.Fatalf("ParseTag() error = %v", err)
	}
	rows, cols := grid.Shape()
	if rows != 600 || cols != 800 {
		t.Fatalf("Shape() = (%d, %d), want (600, 800)", rows, cols)
	}
	if grid.Longitude[0] != 100.05 || grid.Longitude[799] != 179.95 {
		t.Errorf("longitude endpoints = %v, %v", grid.Longitude[0], grid.Longitude[799])
	}
	if grid.Latitude[0] != 0.05 || grid.Latitude[599] != 59.95 {
		t.Errorf("latitude endpoints = %v, %v", grid.Latitude[0], grid.Latitude[599])
	}
	if math.Abs(grid.Longitude[1]-grid.Longitude[0]-0.1) > 1e-9 {
		t.Errorf("longitude step = %v, want 0.1", grid.Longitude[1]-grid.Longitude[0])
	}
}

// TestParse_SentinelMasking checks every raw field value: above 800 is NaN, otherwise
// the value is exactly field/10.
func TestParse_SentinelMasking(t *testing.T) {
	p := models.Fine.Profile()
	field := func(line, col int) int { return (line*p.LonCount + col) % 1000 }
	path := writeGridFile(t, t.TempDir(), "him.txt", models.Fine, field)

	grid, err := Parse(path, models.Fine)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for line := 0; line < p.LatCount; line++ {
		row := grid.Values[p.LatCount-1-line]
		for col, got := range row {
			raw := field(line, col)
			if raw > 800 {
				if !math.IsNaN(got) {
					t.Fatalf("field %d at (%d,%d) = %v, want NaN", raw, line, col, got)
				}
				continue
			}
			if want := float64(raw) / 10; got != want {
				t.Fatalf("field %d at (%d,%d) = %v, want %v", raw, line, col, got, want)
			}
		}
	}
}

func TestParse_KnownSentinels(t *testing.T) {
	path := writeGridFile(t, t.TempDir(), "him.txt", models.Fine, func(line, col int) int {
		switch col {
		case 0:
			return 999
		case 1:
			return 888
		case 2:
			return 800
		}
		return 0
	})
	grid, err := Parse(path, models.Fine)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	row := grid.Values[0]
	if !math.IsNaN(row[0]) || !math.IsNaN(row[1]) {
		t.Errorf("999/888 should be NaN, got %v %v", row[0], row[1])
	}
	if row[2] != 80 || row[3] != 0 {
		t.Errorf("800/0 should be 80/0, got %v %v", row[2], row[3])
	}
}

// TestParse_RowFlip verifies that the first parsed row is the last line of the file.
func TestParse_RowFlip(t *testing.T) {
	p := models.Fine.Profile()
	path := writeGridFile(t, t.TempDir(), "him.txt", models.Fine, func(line, col int) int { return line % 800 })

	grid, err := Parse(path, models.Fine)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	last := float64((p.LatCount-1)%800) / 10
	if grid.Values[0][0] != last {
		t.Errorf("Values[0][0] = %v, want last line value %v", grid.Values[0][0], last)
	}
	if grid.Values[p.LatCount-1][0] != 0 {
		t.Errorf("top row = %v, want first line value 0", grid.Values[p.LatCount-1][0])
	}
}

func TestParse_CRLFAndTrailingBlankLine(t *testing.T) {
	p := models.Fine.Profile()
	line := strings.Repeat(" 12", p.LonCount)
	content := "20240729\r\n" + strings.Repeat(line+"\r\n", p.LatCount) + "\r\n"
	path := filepath.Join(t.TempDir(), "him.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	grid, err := Parse(path, models.Fine)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if grid.Values[10][10] != 1.2 {
		t.Errorf("value = %v, want 1.2", grid.Values[10][10])
	}
}

func TestParse_FileNotFound(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.txt"), models.Coarse)
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Parse() error = %v, want ErrFileNotFound", err)
	}
}

func TestParse_UnknownTag(t *testing.T) {
	if _, err := ParseTag("whatever.txt", "ultra"); !errors.Is(err, ErrUnknownResolution) {
		t.Errorf("ParseTag() error = %v, want ErrUnknownResolution", err)
	}
}

func TestParse_MalformedGrid(t *testing.T) {
	p := models.Fine.Profile()
	good := strings.Repeat("123", p.LonCount)
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"header only", "20240729\n"},
		{"too few rows", "20240729\n" + strings.Repeat(good+"\n", p.LatCount-1)},
		{"too many rows", "20240729\n" + strings.Repeat(good+"\n", p.LatCount+1)},
		{"too few columns", "20240729\n" + strings.Repeat(good[3:]+"\n", p.LatCount)},
		{"partial trailing field", "20240729\n" + strings.Repeat(good+"12\n", p.LatCount)},
		{"non numeric field", "20240729\n" + "abc" + good[3:] + "\n" + strings.Repeat(good+"\n", p.LatCount-1)},
		{"coarse file parsed as fine", "20240729\n" + strings.Repeat(strings.Repeat("123", 1440)+"\n", 720)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "him.txt")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := Parse(path, models.Fine); !errors.Is(err, ErrMalformedGrid) {
				t.Errorf("Parse() error = %v, want ErrMalformedGrid", err)
			}
		})
	}
}

func TestParseHeaderDate(t *testing.T) {
	if got := parseHeaderDate("20220519"); !got.Equal(time.Date(2022, 5, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseHeaderDate() = %v", got)
	}
	if got := parseHeaderDate("MGDSST"); !got.IsZero() {
		t.Errorf("parseHeaderDate(no date) = %v, want zero", got)
	}
}

func BenchmarkParse_Coarse(b *testing.B) {
	path := writeGridFile(b, b.TempDir(), "mgd.txt", models.Coarse, func(line, col int) int { return (line + col) % 1000 })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(path, models.Coarse); err != nil {
			b.Fatal(err)
		}
	}
}
