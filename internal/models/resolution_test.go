package models

import (
	"errors"
	"math"
	"testing"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		tag     string
		want    Resolution
		wantErr bool
	}{
		{"low", Coarse, false},
		{"high", Fine, false},
		{"HIGH", 0, true},
		{"High", 0, true},
		{" low ", 0, true},
		{"low\n", 0, true},
		{"medium", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseResolution(tt.tag)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownResolution) {
				t.Errorf("ParseResolution(%q) error = %v, want ErrUnknownResolution", tt.tag, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseResolution(%q) = (%v, %v), want %v", tt.tag, got, err, tt.want)
		}
	}
}

func TestResolution_Properties(t *testing.T) {
	if Coarse.String() != "low" || Fine.String() != "high" || Resolution(9).String() != "unknown" {
		t.Errorf("String() = %q %q %q", Coarse, Fine, Resolution(9))
	}
	if !Coarse.Compressed() || Fine.Compressed() || Resolution(0).Compressed() {
		t.Error("only the coarse grid is compressed")
	}
	if Resolution(0).Valid() {
		t.Error("zero resolution should be invalid")
	}
	defer func() {
		if recover() == nil {
			t.Error("Profile() on invalid resolution should panic")
		}
	}()
	_ = Resolution(3).Profile()
}

func TestProfile_Axes(t *testing.T) {
	tests := []struct {
		res         Resolution
		latN, lonN  int
		lat0, latN1 float64
		lon0, lonN1 float64
	}{
		{Coarse, 720, 1440, -89.875, 89.875, 0.125, 359.875},
		{Fine, 600, 800, 0.05, 59.95, 100.05, 179.95},
	}
	for _, tt := range tests {
		p := tt.res.Profile()
		lat, lon := p.Latitudes(), p.Longitudes()
		if len(lat) != tt.latN || len(lon) != tt.lonN {
			t.Fatalf("%s: axis lengths = %d, %d", tt.res, len(lat), len(lon))
		}
		if lat[0] != tt.lat0 || lat[len(lat)-1] != tt.latN1 {
			t.Errorf("%s: latitude = [%v .. %v]", tt.res, lat[0], lat[len(lat)-1])
		}
		if lon[0] != tt.lon0 || lon[len(lon)-1] != tt.lonN1 {
			t.Errorf("%s: longitude = [%v .. %v]", tt.res, lon[0], lon[len(lon)-1])
		}
		for i := 1; i < len(lat); i++ {
			if d := lat[i] - lat[i-1]; math.Abs(d-p.Step) > 1e-9 {
				t.Fatalf("%s: latitude step at %d = %v", tt.res, i, d)
			}
		}
	}
}

func TestLinspace(t *testing.T) {
	if got := linspace(5, 9, 1); len(got) != 1 || got[0] != 5 {
		t.Errorf("linspace(n=1) = %v", got)
	}
	got := linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("linspace(0,1,5) = %v, want %v", got, want)
		}
	}
}
