package domain

import (
	"math"
	"time"
)

// SeasonOf returns the Kenyan season for a calendar month.
func SeasonOf(m time.Month) Season {
	switch m {
	case time.April, time.May, time.November:
		return SeasonWet
	default:
		return SeasonDry
	}
}

// WeekdayIndex returns the day of week with Monday = 0 and Sunday = 6.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// MoonIllumination returns the illuminated fraction of the lunar disc at t,
// in [0, 1]. It evaluates the low-precision phase angle from Meeus,
// Astronomical Algorithms, chapter 48, which is accurate to about 0.01.
func MoonIllumination(t time.Time) float64 {
	jd := float64(t.UTC().UnixNano())/float64(24*time.Hour) + 2440587.5
	T := (jd - 2451545.0) / 36525

	d := deg2rad(normalizeDeg(297.8501921 + 445267.1114034*T - 0.0018819*T*T))
	m := deg2rad(normalizeDeg(357.5291092 + 35999.0502909*T - 0.0001536*T*T))
	mp := deg2rad(normalizeDeg(134.9633964 + 477198.8675055*T + 0.0087414*T*T))

	i := 180 - rad2deg(d) -
		6.289*math.Sin(mp) +
		2.100*math.Sin(m) -
		1.274*math.Sin(2*d-mp) -
		0.658*math.Sin(2*d) -
		0.214*math.Sin(2*mp) -
		0.110*math.Sin(d)

	k := (1 + math.Cos(deg2rad(i))) / 2
	return math.Max(0, math.Min(1, k))
}

func normalizeDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	return x
}

func deg2rad(x float64) float64 { return x * math.Pi / 180 }
func rad2deg(x float64) float64 { return x * 180 / math.Pi }
