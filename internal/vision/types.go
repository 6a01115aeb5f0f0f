package vision

// BoundingBox is a face region in frame pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single candidate face region reported by the detector.
type Detection struct {
	Box   BoundingBox `json:"box"`
	Score float64     `json:"score"`
}
