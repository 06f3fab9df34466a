package models

import "time"

// Reading is the SST value of one grid cell, as served by the API.
type Reading struct {
	Date          string    `json:"date"`
	Resolution    string    `json:"resolution"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	GridLatitude  float64   `json:"gridLatitude"`
	GridLongitude float64   `json:"gridLongitude"`
	Temperature   *float64  `json:"temperature"` // nil where the cell is masked (land, ice, missing)
	Units         string    `json:"units"`
	Timestamp     time.Time `json:"timestamp"`
}
