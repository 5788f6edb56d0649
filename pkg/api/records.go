// Package api defines the records exchanged between the store, the
// decision engines and the HTTP layer.
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecotrack/decision/emission"
)

// Store lookups report these so callers need not know the backend.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// User is a registered account
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Token        uuid.UUID `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Vehicle is a car declared by a user
type Vehicle struct {
	ID                 uuid.UUID         `json:"id"`
	UserID             uuid.UUID         `json:"user_id"`
	Name               string            `json:"name"`
	FuelType           emission.FuelType `json:"fuel_type"`
	ConsumptionLPer100 *float64          `json:"consumption_l_per_100,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// EmissionInput projects the vehicle onto the resolver input.
func (v Vehicle) EmissionInput() emission.Vehicle {
	return emission.Vehicle{FuelType: v.FuelType, ConsumptionLPer100: v.ConsumptionLPer100}
}

// Trip is a journey made with one of the user's vehicles.
// EmissionsKg is nil when the vehicle consumption is unknown.
type Trip struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	VehicleID   uuid.UUID `json:"vehicle_id"`
	DistanceKm  float64   `json:"distance_km"`
	Date        time.Time `json:"date"`
	Note        string    `json:"note,omitempty"`
	EmissionsKg *float64  `json:"emissions_kg"`
	CreatedAt   time.Time `json:"created_at"`
}

// Appliance is a household electrical device
type Appliance struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	PowerWatts  float64   `json:"power_watts"`
	HoursPerDay float64   `json:"hours_per_day"`
	Quantity    int       `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
}

// HeatingType is the main heating energy of a home
type HeatingType string

const (
	HeatingGas      HeatingType = "gas"
	HeatingFuelOil  HeatingType = "fuel_oil"
	HeatingElectric HeatingType = "electric"
	HeatingHeatPump HeatingType = "heat_pump"
	HeatingWood     HeatingType = "wood"
	HeatingDistrict HeatingType = "district"
	HeatingNone     HeatingType = "none"
)

// HeatingTypes lists the accepted heating types
var HeatingTypes = []HeatingType{
	HeatingGas, HeatingFuelOil, HeatingElectric, HeatingHeatPump, HeatingWood, HeatingDistrict, HeatingNone,
}

// Housing describes the user's home. There is at most one per user.
type Housing struct {
	UserID    uuid.UUID   `json:"user_id"`
	SurfaceM2 float64     `json:"surface_m2"`
	Heating   HeatingType `json:"heating"`
	// EnergyClass is the DPE letter A..G.
	EnergyClass string    `json:"energy_class"`
	Occupants   int       `json:"occupants"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Product is an entry of the everyday products catalog
type Product struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Unit          string    `json:"unit"`
	KgCO2ePerUnit float64   `json:"kg_co2e_per_unit"`
}

// Purchase records a quantity of a catalog product
type Purchase struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail lowercases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
