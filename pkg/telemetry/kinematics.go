package telemetry

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return c * earthRadiusMeters
}

// DeriveSpeed computes the speed in m/s between two consecutive samples from
// their great-circle distance and time delta. It returns 0 when the delta is
// zero or negative; it never errors and never divides by zero.
func DeriveSpeed(prev, curr Sample) float64 {
	dt := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return Haversine(prev.Lat, prev.Lon, curr.Lat, curr.Lon) / dt
}
