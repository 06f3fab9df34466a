// Package export writes parsed SST grids to self-describing file formats.
package export

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

// FillValue replaces masked cells in exported files.
const FillValue float32 = -999

// ErrEmptyGrid is returned when a grid has no values or its axes disagree with its shape.
var ErrEmptyGrid = errors.New("grid has no values")

// WriteNetCDF writes g as a classic NetCDF file at path with "lat", "lon" and "sst"
// variables. The file is written next to path and renamed into place.
func WriteNetCDF(path string, g *models.Grid) error {
	rows, cols := g.Shape()
	if rows == 0 || cols == 0 {
		return ErrEmptyGrid
	}
	if len(g.Latitude) != rows || len(g.Longitude) != cols {
		return fmt.Errorf("%w: axes %dx%d do not match values %dx%d",
			ErrEmptyGrid, len(g.Latitude), len(g.Longitude), rows, cols)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".part")
	defer os.Remove(tmp)

	w, err := cdf.OpenWriter(tmp)
	if err != nil {
		return fmt.Errorf("open netcdf writer: %w", err)
	}
	if err := addVariables(w, g); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close netcdf writer: %w", err)
	}
	return os.Rename(tmp, path)
}

func addVariables(w *cdf.CDFWriter, g *models.Grid) error {
	latAttrs, err := util.NewOrderedMap(
		[]string{"units", "long_name"},
		map[string]interface{}{"units": "degrees_north", "long_name": "latitude"})
	if err != nil {
		return err
	}
	lonAttrs, err := util.NewOrderedMap(
		[]string{"units", "long_name"},
		map[string]interface{}{"units": "degrees_east", "long_name": "longitude"})
	if err != nil {
		return err
	}
	date := ""
	if !g.Date.IsZero() {
		date = g.Date.Format("2006-01-02")
	}
	sstAttrs, err := util.NewOrderedMap(
		[]string{"units", "long_name", "_FillValue", "resolution", "date"},
		map[string]interface{}{
			"units":      g.Units,
			"long_name":  "sea surface temperature",
			"_FillValue": FillValue,
			"resolution": g.Resolution.String(),
			"date":       date,
		})
	if err != nil {
		return err
	}

	vars := []struct {
		name string
		v    api.Variable
	}{
		{"lat", api.Variable{Values: float32s(g.Latitude), Dimensions: []string{"lat"}, Attributes: latAttrs}},
		{"lon", api.Variable{Values: float32s(g.Longitude), Dimensions: []string{"lon"}, Attributes: lonAttrs}},
		{"sst", api.Variable{Values: filled(g.Values), Dimensions: []string{"lat", "lon"}, Attributes: sstAttrs}},
	}
	for _, v := range vars {
		if err := w.AddVar(v.name, v.v); err != nil {
			return fmt.Errorf("add variable %s: %w", v.name, err)
		}
	}
	return nil
}

func float32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func filled(values [][]float64) [][]float32 {
	out := make([][]float32, len(values))
	for i, row := range values {
		out[i] = make([]float32, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				out[i][j] = FillValue
				continue
			}
			out[i][j] = float32(v)
		}
	}
	return out
}
