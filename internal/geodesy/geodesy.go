// Package geodesy converts Maidenhead grid locators to coordinates and
// computes great-circle distance and bearing between two points.
package geodesy

import (
	"fmt"
	"math"
	"sync"
)

// ErrInvalidGrid is returned for locators whose length is not one of
// 2, 4, 6, or 8, or whose characters fall outside the expected ranges.
var ErrInvalidGrid = fmt.Errorf("geodesy: invalid Maidenhead locator")

const earthRadiusKm = 6371.0

var (
	gridCacheMu sync.Mutex
	gridCache   = map[string][2]float64{}
)

// GridToLatLon converts a Maidenhead locator of length 2, 4, 6, or 8 to
// the center coordinates of the corresponding cell. Results are memoized;
// the function is pure, so the cache never needs invalidation.
func GridToLatLon(locator string) (lat, lon float64, err error) {
	if v, ok := lookupCache(locator); ok {
		return v[0], v[1], nil
	}
	lat, lon, err = computeGridToLatLon(locator)
	if err != nil {
		return 0, 0, err
	}
	storeCache(locator, lat, lon)
	return lat, lon, nil
}

func lookupCache(locator string) ([2]float64, bool) {
	gridCacheMu.Lock()
	defer gridCacheMu.Unlock()
	v, ok := gridCache[locator]
	return v, ok
}

func storeCache(locator string, lat, lon float64) {
	gridCacheMu.Lock()
	defer gridCacheMu.Unlock()
	gridCache[locator] = [2]float64{lat, lon}
}

func computeGridToLatLon(locator string) (lat, lon float64, err error) {
	n := len(locator)
	if n != 2 && n != 4 && n != 6 && n != 8 {
		return 0, 0, ErrInvalidGrid
	}
	u := []byte(locator)
	for i, c := range u {
		if c >= 'a' && c <= 'z' {
			u[i] = c - 'a' + 'A'
		}
	}

	if u[0] < 'A' || u[0] > 'R' || u[1] < 'A' || u[1] > 'R' {
		return 0, 0, ErrInvalidGrid
	}
	lon = float64(u[0]-'A')*20.0 - 180.0
	lat = float64(u[1]-'A')*10.0 - 90.0
	// Center of the field, unless refined below.
	lon += 10.0
	lat += 5.0

	if n >= 4 {
		if u[2] < '0' || u[2] > '9' || u[3] < '0' || u[3] > '9' {
			return 0, 0, ErrInvalidGrid
		}
		lon += float64(u[2]-'0')*2.0 - 10.0
		lat += float64(u[3]-'0')*1.0 - 5.0
		lon += 1.0
		lat += 0.5
	}

	if n >= 6 {
		if u[4] < 'A' || u[4] > 'X' || u[5] < 'A' || u[5] > 'X' {
			return 0, 0, ErrInvalidGrid
		}
		lon += float64(u[4]-'A')*(5.0/60.0) - 1.0
		lat += float64(u[5]-'A')*(2.5/60.0) - 0.5
		lon += (5.0 / 60.0) / 2.0
		lat += (2.5 / 60.0) / 2.0
	}

	if n == 8 {
		if u[6] < '0' || u[6] > '9' || u[7] < '0' || u[7] > '9' {
			return 0, 0, ErrInvalidGrid
		}
		lon += float64(u[6]-'0')*(0.5/60.0) - (5.0/60.0)/2.0
		lat += float64(u[7]-'0')*(0.25/60.0) - (2.5/60.0)/2.0
		lon += (0.5 / 60.0) / 2.0
		lat += (0.25 / 60.0) / 2.0
	}

	return lat, lon, nil
}

// IsValidGrid reports whether locator is a well-formed Maidenhead locator.
func IsValidGrid(locator string) bool {
	_, _, err := GridToLatLon(locator)
	return err == nil
}

// DistanceBearing returns the great-circle distance in km and the initial
// bearing in degrees (0..359) from (lat1,lon1) to (lat2,lon2), using a
// spherical approximation of the Earth.
func DistanceBearing(lat1, lon1, lat2, lon2 float64) (distanceKm float64, bearingDeg int) {
	lat1r := lat1 * math.Pi / 180.0
	lon1r := lon1 * math.Pi / 180.0
	lat2r := lat2 * math.Pi / 180.0
	lon2r := lon2 * math.Pi / 180.0

	dLat := lat2r - lat1r
	dLon := lon2r - lon1r

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distanceKm = earthRadiusKm * c

	y := math.Sin(dLon) * math.Cos(lat2r)
	x := math.Cos(lat1r)*math.Sin(lat2r) - math.Sin(lat1r)*math.Cos(lat2r)*math.Cos(dLon)
	brg := math.Atan2(y, x) * 180.0 / math.Pi

	bearingDeg = int(math.Abs(math.Floor(brg))) % 360
	return distanceKm, bearingDeg
}

// DistanceBearingFromGrids computes distance/bearing between two grid
// locators, resolving each through GridToLatLon first.
func DistanceBearingFromGrids(from, to string) (distanceKm float64, bearingDeg int, err error) {
	lat1, lon1, err := GridToLatLon(from)
	if err != nil {
		return 0, 0, fmt.Errorf("from grid: %w", err)
	}
	lat2, lon2, err := GridToLatLon(to)
	if err != nil {
		return 0, 0, fmt.Errorf("to grid: %w", err)
	}
	distanceKm, bearingDeg = DistanceBearing(lat1, lon1, lat2, lon2)
	return distanceKm, bearingDeg, nil
}
