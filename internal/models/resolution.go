package models

import (
	"errors"
	"fmt"
)

// ErrUnknownResolution is returned for a resolution tag other than "low" or "high".
var ErrUnknownResolution = errors.New("unknown resolution")

// Resolution selects one of the two NearGOOS SST grids.
type Resolution int

const (
	// Coarse is the 0.25 degree global product (MGDSST).
	Coarse Resolution = iota + 1
	// Fine is the 0.1 degree Pacific product (HIMSST).
	Fine
)

// Profile describes everything that is fixed for a resolution: grid shape, axes and
// the remote naming scheme.
type Profile struct {
	Tag  string
	Step float64

	LonCount int
	LonStart float64
	LonEnd   float64
	LatCount int
	LatStart float64
	LatEnd   float64

	// DirTemplate is formatted with the four digit year.
	DirTemplate string
	// NameTemplate is formatted with the YYYYMMDD date.
	NameTemplate string
	// ReanalysisNameTemplate applies to dates before ReanalysisUntil (year). Empty if the
	// product was never renamed.
	ReanalysisNameTemplate string
	ReanalysisUntil        int

	// CompressionSuffix is stripped from the downloaded file after decompression.
	CompressionSuffix string
}

var profiles = map[Resolution]Profile{
	Coarse: {
		Tag:                    "low",
		Step:                   0.25,
		LonCount:               1440,
		LonStart:               0.125,
		LonEnd:                 359.875,
		LatCount:               720,
		LatStart:               -89.875,
		LatEnd:                 89.875,
		DirTemplate:            "mgd_sst_glb_D/%s/",
		NameTemplate:           "mgd_sst_glb_D%s.txt.gz",
		ReanalysisNameTemplate: "re_mgd_sst_glb_D%s.txt.gz",
		ReanalysisUntil:        2022,
		CompressionSuffix:      ".gz",
	},
	Fine: {
		Tag:          "high",
		Step:         0.1,
		LonCount:     800,
		LonStart:     100.05,
		LonEnd:       179.95,
		LatCount:     600,
		LatStart:     0.05,
		LatEnd:       59.95,
		DirTemplate:  "him_sst_pac_D/%s/",
		NameTemplate: "him_sst_pac_D%s.txt",
	},
}

// Resolutions lists every supported resolution, coarse first.
var Resolutions = []Resolution{Coarse, Fine}

// ParseResolution maps a tag, exactly "low" or "high", to a Resolution.
func ParseResolution(tag string) (Resolution, error) {
	switch tag {
	case "low":
		return Coarse, nil
	case "high":
		return Fine, nil
	}
	return 0, fmt.Errorf("%w: %q (valid values: low, high)", ErrUnknownResolution, tag)
}

// Valid reports whether r is one of the two known resolutions.
func (r Resolution) Valid() bool {
	_, ok := profiles[r]
	return ok
}

// Profile returns the fixed profile for r. It panics for an invalid resolution.
func (r Resolution) Profile() Profile {
	p, ok := profiles[r]
	if !ok {
		panic(fmt.Sprintf("models: invalid resolution %d", int(r)))
	}
	return p
}

func (r Resolution) String() string {
	if p, ok := profiles[r]; ok {
		return p.Tag
	}
	return "unknown"
}

// Compressed reports whether remote files for r are gzip archives.
func (r Resolution) Compressed() bool {
	return r.Valid() && r.Profile().CompressionSuffix != ""
}

// Latitudes returns the ascending latitude axis of the profile.
func (p Profile) Latitudes() []float64 {
	return linspace(p.LatStart, p.LatEnd, p.LatCount)
}

// Longitudes returns the ascending longitude axis of the profile.
func (p Profile) Longitudes() []float64 {
	return linspace(p.LonStart, p.LonEnd, p.LonCount)
}

func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
