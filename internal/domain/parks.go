package domain

// Park is a named protected area used to bucket incidents and training rows.
type Park struct {
	Name   string
	Bounds Bounds
}

// UnassignedPark is the bucket for locations outside every known park.
const UnassignedPark = "unassigned"

// Parks are approximate bounding boxes of the Kenyan parks covered by the
// incident history.
var Parks = []Park{
	{Name: "amboseli", Bounds: Bounds{SouthWest: LatLng{Lat: -2.85, Lng: 37.05}, NorthEast: LatLng{Lat: -2.50, Lng: 37.45}}},
	{Name: "tsavo_west", Bounds: Bounds{SouthWest: LatLng{Lat: -3.50, Lng: 37.60}, NorthEast: LatLng{Lat: -2.70, Lng: 38.40}}},
	{Name: "tsavo_east", Bounds: Bounds{SouthWest: LatLng{Lat: -3.60, Lng: 38.45}, NorthEast: LatLng{Lat: -2.30, Lng: 39.30}}},
	{Name: "maasai_mara", Bounds: Bounds{SouthWest: LatLng{Lat: -1.70, Lng: 34.80}, NorthEast: LatLng{Lat: -1.25, Lng: 35.40}}},
	{Name: "samburu", Bounds: Bounds{SouthWest: LatLng{Lat: 0.50, Lng: 37.40}, NorthEast: LatLng{Lat: 0.70, Lng: 37.70}}},
	{Name: "nairobi", Bounds: Bounds{SouthWest: LatLng{Lat: -1.45, Lng: 36.75}, NorthEast: LatLng{Lat: -1.30, Lng: 36.95}}},
}

// ParkOf returns the name of the first park containing p, or UnassignedPark.
func ParkOf(p LatLng) string {
	for _, park := range Parks {
		if park.Bounds.Contains(p) {
			return park.Name
		}
	}
	return UnassignedPark
}
