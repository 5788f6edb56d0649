package api

import (
	"math"
	"net/mail"
	"strings"

	apperrors "ecotrack/pkg/errors"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateRegistration checks the fields of a sign-up request
func ValidateRegistration(email, password string) error {
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return apperrors.NewValidationError("email", "must be a valid email address")
	}
	if len(password) < 8 {
		return apperrors.NewValidationError("password", "must be at least 8 characters")
	}
	if len(password) > 72 {
		return apperrors.NewValidationError("password", "must be at most 72 bytes")
	}
	return nil
}

// Validate returns the first invalid field of v
func (v *Vehicle) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	if !v.FuelType.Known() {
		return apperrors.NewValidationError("fuel_type", "must be one of essence, diesel, electrique, hybride, gpl, autre")
	}
	if c := v.ConsumptionLPer100; c != nil && (!finite(*c) || *c < 0 || *c > 100) {
		return apperrors.NewValidationError("consumption_l_per_100", "must be between 0 and 100")
	}
	return nil
}

// Validate returns the first invalid field of t. Zero-distance trips are
// accepted and emit nothing.
func (t *Trip) Validate() error {
	if !finite(t.DistanceKm) || t.DistanceKm < 0 {
		return apperrors.NewValidationError("distance_km", "must be a non-negative number")
	}
	if t.Date.IsZero() {
		return apperrors.NewValidationError("date", "is required")
	}
	return nil
}

// Validate returns the first invalid field of a
func (a *Appliance) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	if !finite(a.PowerWatts) || a.PowerWatts < 0 {
		return apperrors.NewValidationError("power_watts", "must be non-negative")
	}
	if !finite(a.HoursPerDay) || a.HoursPerDay < 0 || a.HoursPerDay > 24 {
		return apperrors.NewValidationError("hours_per_day", "must be between 0 and 24")
	}
	if a.Quantity < 1 {
		return apperrors.NewValidationError("quantity", "must be at least 1")
	}
	return nil
}

// Validate returns the first invalid field of h
func (h *Housing) Validate() error {
	if !finite(h.SurfaceM2) || h.SurfaceM2 <= 0 {
		return apperrors.NewValidationError("surface_m2", "must be positive")
	}
	known := false
	for _, ht := range HeatingTypes {
		if h.Heating == ht {
			known = true
			break
		}
	}
	if !known {
		return apperrors.NewValidationError("heating", "unknown heating type")
	}
	h.EnergyClass = strings.ToUpper(strings.TrimSpace(h.EnergyClass))
	if len(h.EnergyClass) != 1 || h.EnergyClass[0] < 'A' || h.EnergyClass[0] > 'G' {
		return apperrors.NewValidationError("energy_class", "must be a letter from A to G")
	}
	if h.Occupants < 1 {
		return apperrors.NewValidationError("occupants", "must be at least 1")
	}
	return nil
}

// Validate returns the first invalid field of p
func (p *Purchase) Validate() error {
	if !finite(p.Quantity) || p.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", "must be positive")
	}
	if p.Date.IsZero() {
		return apperrors.NewValidationError("date", "is required")
	}
	return nil
}

// Validate returns the first invalid field of p
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return apperrors.NewValidationError("category", "is required")
	}
	if !finite(p.KgCO2ePerUnit) || p.KgCO2ePerUnit < 0 {
		return apperrors.NewValidationError("kg_co2e_per_unit", "must be non-negative")
	}
	return nil
}
