package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the accepted request date format.
const DateLayout = "2006-01-02"

// ErrDateEmpty is returned when the date is empty or whitespace-only after trim.
var ErrDateEmpty = errors.New("date is required")

// ErrDateInvalid is returned when the date does not match YYYY-MM-DD.
var ErrDateInvalid = errors.New("date must be YYYY-MM-DD")

// ErrDateInFuture is returned for a date after today (UTC).
var ErrDateInFuture = errors.New("date is in the future")

// ErrCoordinateMissing is returned when lat or lon is absent.
var ErrCoordinateMissing = errors.New("lat and lon are required")

// ErrCoordinateInvalid is returned when lat or lon is not a finite number.
var ErrCoordinateInvalid = errors.New("lat and lon must be numbers")

// ErrLatitudeRange is returned for a latitude outside [-90, 90].
var ErrLatitudeRange = errors.New("lat must be between -90 and 90")

// ErrLongitudeRange is returned for a longitude outside [-180, 360).
var ErrLongitudeRange = errors.New("lon must be between -180 and 360")

// ValidateDate trims the input and parses it as a UTC calendar date no later than today.
// Returns an error suitable for 400 INVALID_DATE responses.
func ValidateDate(input string, today time.Time) (time.Time, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, ErrDateEmpty
	}
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, ErrDateInvalid
	}
	if d.After(today.UTC().Truncate(24 * time.Hour)) {
		return time.Time{}, ErrDateInFuture
	}
	return d, nil
}

// ValidateCoordinate parses latitude and longitude query values and enforces bounds.
// Longitudes may be given east-positive in [-180, 180) or [0, 360).
// Returns an error suitable for 400 INVALID_COORDINATE responses.
func ValidateCoordinate(latInput, lonInput string) (lat, lon float64, err error) {
	latInput, lonInput = strings.TrimSpace(latInput), strings.TrimSpace(lonInput)
	if latInput == "" || lonInput == "" {
		return 0, 0, ErrCoordinateMissing
	}
	lat, err = parseFinite(latInput)
	if err != nil {
		return 0, 0, err
	}
	lon, err = parseFinite(lonInput)
	if err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 {
		return 0, 0, ErrLatitudeRange
	}
	if lon < -180 || lon >= 360 {
		return 0, 0, ErrLongitudeRange
	}
	return lat, lon, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrCoordinateInvalid
	}
	return v, nil
}
