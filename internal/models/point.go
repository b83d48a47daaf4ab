package models

// Point is a geographic coordinate in WGS84.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Path is an ordered sequence of points describing a route geometry.
// Stored as a JSONB column; vertices are not evenly spaced.
type Path []Point
