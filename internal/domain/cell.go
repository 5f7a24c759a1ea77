package domain

// GridCell is one square tile of the area of interest.
type GridCell struct {
	ID       string   `json:"id"`
	Row      int      `json:"row"`
	Col      int      `json:"col"`
	Centroid LatLng   `json:"centroid"`
	Polygon  []LatLng `json:"polygon"`
}

// CellFeatures pairs a cell with its assembled features.
type CellFeatures struct {
	Cell     GridCell
	Features FeatureVector
	// Imputed counts features that fell back to defaults.
	Imputed int
	// Park is the park bucket the cell was assigned to, if any.
	Park string
}

// LowerConfidence reports whether any feature was imputed.
func (c CellFeatures) LowerConfidence() bool { return c.Imputed > 0 }
