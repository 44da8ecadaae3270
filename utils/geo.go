package utils

import (
	"math"
	"strconv"
)

// EarthRadiusKm is the mean Earth radius used for all distance math, and the
// divisor Mongo expects when converting kilometres to $centerSphere radians.
const EarthRadiusKm = 6378.1

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// OpenStreetMapURL links to a map centred on the given point.
func OpenStreetMapURL(lat, lng float64) string {
	return "https://www.openstreetmap.org/?mlat=" + formatCoord(lat) + "&mlon=" + formatCoord(lng) + "#map=16/" + formatCoord(lat) + "/" + formatCoord(lng)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
