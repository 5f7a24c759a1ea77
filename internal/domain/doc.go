// Package domain models the wildlife-threat risk analysis: areas of interest,
// grid cells, per-cell feature vectors, historical incidents and predictions.
//
// # Coordinates
//
// All coordinates are WGS84 decimal degrees carried as [LatLng]. GeoJSON output
// flips them to [lng, lat] order at the packaging boundary only.
//
// Distances are meters unless a name says otherwise (radiusKm, cellSizeKm).
// Great-circle distances use the haversine formula on a 6371 km sphere.
//
// # Feature Schema
//
// A [FeatureVector] holds the raw features assembled for one cell. Every field
// is always populated: values that could not be sourced are imputed with the
// documented defaults in [DefaultFeatureVector] and counted so confidence can
// be reduced downstream.
//
// [Derive] turns a FeatureVector into a [DerivedFeatureVector] by adding eight
// engineered features:
//
//	boundary_risk     = 1 / (dist_to_boundary + 100)
//	water_attraction  = 1 / (dist_to_water + 50)
//	access_ease       = 1 / (dist_to_road + 200)
//	isolation_score   = (dist_to_settlement + dist_to_road) / 2000
//	dense_vegetation  = 1 if ndvi > 0.5
//	dry_season        = 1 if season == dry
//	is_weekend        = 1 if day_of_week in {5, 6}
//	incident_density  = incidents_5km_radius / (days_since_last_incident + 1)
//
// The trainer and the serving path both call Derive, so the model always sees
// the same engineered columns it was fitted on. [FeatureNames] fixes the column
// order of [DerivedFeatureVector.Values].
//
// # Calendar
//
// Seasons follow the Kenyan rainfall calendar:
//
//	Dec-Mar  dry (short dry season)
//	Apr-May  wet (long rains)
//	Jun-Oct  dry (long dry season)
//	Nov      wet (short rains)
//
// Day of week counts from Monday = 0. Moon illumination is computed locally
// from the Meeus low-precision phase angle; see [MoonIllumination].
//
// # Risk Levels
//
//	safe    score < 40
//	low     40 <= score < 60
//	medium  60 <= score < 80
//	high    score >= 80
package domain
