package models

import (
	"math"
	"time"
)

// DataRequest identifies one SST snapshot and where it is cached locally.
type DataRequest struct {
	Time       time.Time
	Resolution Resolution
	BaseDir    string
}

// ResolvedLocation is the remote and local location of one snapshot file.
type ResolvedLocation struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	LocalPath string `json:"localPath"`
}

// Grid is a parsed SST snapshot. Values is indexed [latitude][longitude] with row 0 at the
// southernmost latitude. Masked cells are NaN.
type Grid struct {
	Resolution Resolution
	Date       time.Time
	Values     [][]float64
	Latitude   []float64
	Longitude  []float64
	Units      string
}

// GridStats summarises the valid cells of a grid.
type GridStats struct {
	Valid   int     `json:"valid"`
	Missing int     `json:"missing"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
}

// Shape returns (rows, columns).
func (g *Grid) Shape() (int, int) {
	if len(g.Values) == 0 {
		return 0, 0
	}
	return len(g.Values), len(g.Values[0])
}

// Nearest returns the indexes of the cell closest to (lat, lon). Longitudes may be given
// in [-180, 180) or [0, 360). ok is false when the point lies outside the grid coverage.
func (g *Grid) Nearest(lat, lon float64) (i, j int, ok bool) {
	return g.Resolution.Profile().Nearest(lat, lon)
}

// Nearest is Grid.Nearest for a profile; it needs no grid values.
func (p Profile) Nearest(lat, lon float64) (i, j int, ok bool) {
	if lon < 0 {
		lon += 360
	}
	half := p.Step / 2
	if lat < p.LatStart-half || lat > p.LatEnd+half || lon < p.LonStart-half || lon > p.LonEnd+half {
		return 0, 0, false
	}
	i = clampIndex(int(math.Round((lat-p.LatStart)/p.Step)), p.LatCount)
	j = clampIndex(int(math.Round((lon-p.LonStart)/p.Step)), p.LonCount)
	return i, j, true
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Stats computes counts, extremes and mean over non-NaN cells.
func (g *Grid) Stats() GridStats {
	var s GridStats
	var sum float64
	s.Min = math.Inf(1)
	s.Max = math.Inf(-1)
	for _, row := range g.Values {
		for _, v := range row {
			if math.IsNaN(v) {
				s.Missing++
				continue
			}
			s.Valid++
			sum += v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}
	}
	if s.Valid == 0 {
		s.Min, s.Max = 0, 0
		return s
	}
	s.Mean = sum / float64(s.Valid)
	return s
}
