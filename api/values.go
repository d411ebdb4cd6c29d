package api

// Point2d is a two-component point.
type Point2d struct{ X, Y float64 }

// Point3d is a three-component point.
type Point3d struct{ X, Y, Z float64 }

// Values holds property values by property name. Absent and nil both mean
// NULL.
type Values map[string]any
