package models

import (
	"math"
	"testing"
)

func filledGrid(res Resolution, v float64) *Grid {
	p := res.Profile()
	values := make([][]float64, p.LatCount)
	for i := range values {
		values[i] = make([]float64, p.LonCount)
		for j := range values[i] {
			values[i][j] = v
		}
	}
	return &Grid{Resolution: res, Values: values, Latitude: p.Latitudes(), Longitude: p.Longitudes()}
}

func TestGrid_Nearest(t *testing.T) {
	coarse := filledGrid(Coarse, 0)
	fine := filledGrid(Fine, 0)
	tests := []struct {
		name   string
		grid   *Grid
		lat    float64
		lon    float64
		wantI  int
		wantJ  int
		wantOK bool
	}{
		{"coarse first cell", coarse, -89.875, 0.125, 0, 0, true},
		{"coarse last cell", coarse, 89.875, 359.875, 719, 1439, true},
		{"coarse negative longitude", coarse, 0.1, -0.1, 360, 1439, true},
		{"coarse pole clamps", coarse, 90, 0, 719, 0, true},
		{"fine tokyo bay", fine, 35.45, 139.85, 354, 398, true},
		{"fine outside west", fine, 35, 90, 0, 0, false},
		{"fine southern hemisphere", fine, -5, 150, 0, 0, false},
		{"fine negative longitude wraps", fine, 20.05, -180.05, 200, 799, true},
		{"fine negative longitude outside", fine, 20, -170, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, j, ok := tt.grid.Nearest(tt.lat, tt.lon)
			if ok != tt.wantOK {
				t.Fatalf("Nearest() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (i != tt.wantI || j != tt.wantJ) {
				t.Errorf("Nearest() = (%d, %d), want (%d, %d)", i, j, tt.wantI, tt.wantJ)
			}
			if ok {
				if d := math.Abs(tt.grid.Latitude[i] - tt.lat); d > tt.grid.Resolution.Profile().Step {
					t.Errorf("latitude %v is %v away from %v", tt.grid.Latitude[i], d, tt.lat)
				}
			}
		})
	}
}

func TestGrid_Stats(t *testing.T) {
	g := &Grid{Values: [][]float64{
		{1, 2, math.NaN()},
		{3, math.NaN(), 6},
	}}
	s := g.Stats()
	if s.Valid != 4 || s.Missing != 2 {
		t.Errorf("Valid/Missing = %d/%d, want 4/2", s.Valid, s.Missing)
	}
	if s.Min != 1 || s.Max != 6 || s.Mean != 3 {
		t.Errorf("Min/Max/Mean = %v/%v/%v, want 1/6/3", s.Min, s.Max, s.Mean)
	}
}

func TestGrid_StatsAllMasked(t *testing.T) {
	g := &Grid{Values: [][]float64{{math.NaN(), math.NaN()}}}
	s := g.Stats()
	if s.Valid != 0 || s.Missing != 2 || s.Min != 0 || s.Max != 0 || s.Mean != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestGrid_ShapeEmpty(t *testing.T) {
	var g Grid
	if r, c := g.Shape(); r != 0 || c != 0 {
		t.Errorf("Shape() = (%d, %d)", r, c)
	}
}
