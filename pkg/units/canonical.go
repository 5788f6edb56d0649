// Package units provides canonical unit types and conversions.
package units

import "time"

// Unit represents a measurable quantity.
type Unit string

// Vehicle consumption units reported by estimates.
const (
	UnitLitresPer100Km Unit = "L/100km"
	UnitKWhPer100Km    Unit = "kWh/100km"
)

// DaysPerYear is the calendar assumption used for annualizing.
const DaysPerYear = 365.0

// GramsToKg converts grams to kilograms.
func GramsToKg(g float64) float64 {
	return g / 1000
}

// WhPerKmToKWhPer100Km converts an electric consumption figure.
func WhPerKmToKWhPer100Km(whPerKm float64) float64 {
	return whPerKm / 10
}

// EnergyKWh returns the energy drawn by a load of powerWatts over hours.
func EnergyKWh(powerWatts, hours float64) float64 {
	return powerWatts * hours / 1000
}

// PeriodDays returns the length of [from, to) in days, never negative.
func PeriodDays(from, to time.Time) float64 {
	d := to.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Annualize scales a value observed over days to a full year.
func Annualize(value, days float64) float64 {
	if days <= 0 {
		return 0
	}
	return value * DaysPerYear / days
}

// Prorate scales an annual value down to days.
func Prorate(annual, days float64) float64 {
	if days <= 0 {
		return 0
	}
	return annual * days / DaysPerYear
}
