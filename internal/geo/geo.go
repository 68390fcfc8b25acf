// Package geo holds the distance math shared by the geofence check and the
// attendance-velocity fraud rule.
package geo

import "math"

const earthRadiusM = 6371000.0

// DistanceMeters returns the haversine great-circle distance between two
// coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
