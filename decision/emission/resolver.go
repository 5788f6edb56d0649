// Package emission converts declared fuel consumption into CO2 emissions.
// The package is pure arithmetic and holds no state.
package emission

import (
	"math"
	"strings"
)

// FuelType identifies a vehicle's propulsion energy.
type FuelType string

const (
	FuelEssence    FuelType = "essence"
	FuelDiesel     FuelType = "diesel"
	FuelElectrique FuelType = "electrique"
	FuelHybride    FuelType = "hybride"
	FuelGPL        FuelType = "gpl"
	FuelAutre      FuelType = "autre"
)

// FuelTypes lists every known fuel type in declaration order.
var FuelTypes = []FuelType{
	FuelEssence,
	FuelDiesel,
	FuelElectrique,
	FuelHybride,
	FuelGPL,
	FuelAutre,
}

// ParseFuelType trims and lowercases a token. Unknown tokens are returned
// as-is so that callers see the permissive default of FuelFactor.
func ParseFuelType(s string) FuelType {
	return FuelType(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether f is one of FuelTypes.
func (f FuelType) Known() bool {
	for _, known := range FuelTypes {
		if f == known {
			return true
		}
	}
	return false
}

// Vehicle is the transient input of an emission calculation.
type Vehicle struct {
	FuelType FuelType
	// ConsumptionLPer100 is the declared consumption in litres per 100 km.
	ConsumptionLPer100 *float64
}

// FactorEntry is one row of the emission factor table.
type FactorEntry struct {
	FuelType   FuelType `json:"fuel_type"`
	KgCO2ePerL float64  `json:"kg_co2e_per_l"`
}

// FuelFactor returns the kg CO2e emitted per litre of fuel.
func FuelFactor(f FuelType) float64 {
	switch f {
	case FuelEssence:
		return 2.3
	case FuelDiesel:
		return 2.6
	case FuelGPL:
		return 1.7
	case FuelHybride:
		return 2.0
	case FuelElectrique:
		// No tailpipe emissions.
		return 0
	case FuelAutre:
		return 0
	default:
		// Unrecognized fuel is business policy "other", not an error.
		return 0
	}
}

// Factors returns the complete factor table.
func Factors() []FactorEntry {
	entries := make([]FactorEntry, len(FuelTypes))
	for i, f := range FuelTypes {
		entries[i] = FactorEntry{FuelType: f, KgCO2ePerL: FuelFactor(f)}
	}
	return entries
}

// EmissionsPerKm returns grams of CO2e per kilometre.
// The boolean is false when the declared consumption is missing or not
// strictly positive.
//
//	g/km = L/100km * kg/L * 1000 g/kg / 100 km = L/100km * kg/L * 10
func EmissionsPerKm(v Vehicle) (float64, bool) {
	c := v.ConsumptionLPer100
	if c == nil || math.IsNaN(*c) || *c <= 0 {
		return 0, false
	}
	return *c * FuelFactor(v.FuelType) * 10, true
}

// TripEmissionsKg returns the kilograms of CO2e emitted over distanceKm.
// A trip of zero or negative distance emits nothing, whatever the vehicle;
// otherwise an unusable consumption makes the result unknown (false).
func TripEmissionsKg(v Vehicle, distanceKm float64) (float64, bool) {
	if distanceKm <= 0 {
		return 0, true
	}
	perKm, ok := EmissionsPerKm(v)
	if !ok {
		return 0, false
	}
	return perKm * distanceKm / 1000, true
}
