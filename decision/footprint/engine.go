// Package footprint provides the household carbon footprint engine.
// Combines trips, appliances, housing and purchases over a period into
// per-category totals with explainable drivers.
package footprint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ecotrack/decision/carbon"
	"ecotrack/decision/emission"
	"ecotrack/pkg/api"
	"ecotrack/pkg/confidence"
	apperrors "ecotrack/pkg/errors"
	"ecotrack/pkg/units"
)

// Category groups footprint lines
type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryElectricity Category = "electricity"
	CategoryHeating     Category = "heating"
	CategoryConsumption Category = "consumption"
)

// Categories lists every category in report order
var Categories = []Category{CategoryTransport, CategoryElectricity, CategoryHeating, CategoryConsumption}

// MaxDrivers is the number of drivers kept in a result
const MaxDrivers = 5

// Engine is the footprint estimation engine
type Engine struct {
	intensity carbon.IntensityStore
	now       func() time.Time
}

// NewEngine creates a new footprint engine. A nil store falls back to the
// static grid table.
func NewEngine(intensity carbon.IntensityStore) *Engine {
	if intensity == nil {
		intensity = carbon.NewStaticStore()
	}
	return &Engine{intensity: intensity, now: time.Now}
}

// Input contains everything a user recorded, plus the period to report on
type Input struct {
	From time.Time
	To   time.Time
	Zone string

	Vehicles   []api.Vehicle
	Trips      []api.Trip
	Appliances []api.Appliance
	Housing    *api.Housing
	Products   []api.Product
	Purchases  []api.Purchase

	IncludeFormulas bool
}

// Result contains the complete footprint output
type Result struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Days float64   `json:"days"`

	Zone          string  `json:"zone"`
	GridIntensity float64 `json:"grid_intensity_g_per_kwh"`

	// Totals
	TotalKg           decimal.Decimal              `json:"total_kg_co2e"`
	ByCategory        map[Category]decimal.Decimal `json:"by_category"`
	// AnnualPerCapitaKg annualizes the user's share: trips and purchases are
	// personal, household energy is split between occupants.
	AnnualPerCapitaKg decimal.Decimal              `json:"annual_per_capita_kg_co2e"`

	// Breakdown
	Drivers []Driver `json:"drivers"`

	// Quality metrics
	Confidence     float64 `json:"confidence"`
	IsIncomplete   bool    `json:"is_incomplete"`
	LinesEstimated int     `json:"lines_estimated"`
	LinesSkipped   int     `json:"lines_skipped"`

	Warnings    []string  `json:"warnings"`
	EstimatedAt time.Time `json:"estimated_at"`
}

// CategoryKg returns the total of one category as a float
func (r *Result) CategoryKg(c Category) float64 {
	return r.ByCategory[c].InexactFloat64()
}

// Driver explains a single footprint line
type Driver struct {
	ID          string          `json:"id"`
	Category    Category        `json:"category"`
	Description string          `json:"description"`
	KgCO2e      decimal.Decimal `json:"kg_co2e"`
	Formula     string          `json:"formula,omitempty"`
	Confidence  float64         `json:"confidence"`
}

type line struct {
	driver Driver
	kg     float64
}

type accumulator struct {
	lines    []line
	skipped  int
	warnings []string
}

func (a *accumulator) add(cat Category, id, desc string, kg, conf float64, formula string) {
	if kg < 0 {
		kg = 0
	}
	a.lines = append(a.lines, line{
		kg: kg,
		driver: Driver{
			ID:          id,
			Category:    cat,
			Description: desc,
			KgCO2e:      decimal.NewFromFloat(kg).Round(2),
			Formula:     formula,
			Confidence:  conf,
		},
	})
}

func (a *accumulator) skip(format string, args ...any) {
	a.skipped++
	a.warnings = append(a.warnings, fmt.Sprintf(format, args...))
}

// Estimate computes the footprint of in over [From, To)
func (e *Engine) Estimate(ctx context.Context, in Input) (*Result, error) {
	if in.From.IsZero() || in.To.IsZero() {
		return nil, apperrors.NewValidationError("period", "from and to are required")
	}
	if !in.To.After(in.From) {
		return nil, apperrors.NewValidationError("to", "must be after from")
	}

	days := units.PeriodDays(in.From, in.To)
	zone := carbon.NormalizeZone(in.Zone)
	result := &Result{
		From:        in.From,
		To:          in.To,
		Days:        days,
		Zone:        zone,
		ByCategory:  make(map[Category]decimal.Decimal, len(Categories)),
		Drivers:     make([]Driver, 0),
		Warnings:    make([]string, 0),
		EstimatedAt: e.now(),
	}
	for _, c := range Categories {
		result.ByCategory[c] = decimal.Zero
	}

	acc := &accumulator{}
	gridConfidence := confidence.Referenced
	intensity, err := e.intensity.GetIntensity(ctx, zone)
	if err != nil || intensity <= 0 {
		intensity = carbon.GlobalAverage
		gridConfidence = confidence.Modelled
		acc.warnings = append(acc.warnings,
			fmt.Sprintf("grid intensity unavailable for %s, using global average", zone))
	}
	result.GridIntensity = intensity

	e.transport(acc, in)
	e.electricity(acc, in, days, intensity, gridConfidence)
	e.heating(acc, in, days, intensity, gridConfidence)
	e.consumption(acc, in)

	total := decimal.Zero
	scores := make([]float64, 0, len(acc.lines))
	weights := make([]float64, 0, len(acc.lines))
	for _, l := range acc.lines {
		exact := decimal.NewFromFloat(l.kg)
		total = total.Add(exact)
		result.ByCategory[l.driver.Category] = result.ByCategory[l.driver.Category].Add(exact)
		scores = append(scores, l.driver.Confidence)
		weights = append(weights, l.kg)
		result.Drivers = append(result.Drivers, l.driver)
	}
	for c, v := range result.ByCategory {
		result.ByCategory[c] = v.Round(2)
	}
	result.TotalKg = total.Round(2)
	result.AnnualPerCapitaKg = decimal.NewFromFloat(units.Annualize(total.InexactFloat64(), days)).Round(2)

	result.LinesEstimated = len(acc.lines)
	result.LinesSkipped = acc.skipped
	result.Confidence = confidence.Clamp(confidence.Decay(confidence.Weighted(scores, weights), acc.skipped))
	result.Warnings = append(result.Warnings, acc.warnings...)

	if acc.skipped > 0 {
		result.IsIncomplete = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d records could not be estimated", acc.skipped))
	}
	if len(acc.lines) == 0 && acc.skipped == 0 {
		result.Warnings = append(result.Warnings, "no activity recorded for this period")
	}

	// Highest emitters first, stable on input order
	sort.SliceStable(result.Drivers, func(i, j int) bool {
		return result.Drivers[i].KgCO2e.GreaterThan(result.Drivers[j].KgCO2e)
	})
	if len(result.Drivers) > MaxDrivers {
		result.Drivers = result.Drivers[:MaxDrivers]
	}

	return result, nil
}

func inPeriod(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (e *Engine) transport(acc *accumulator, in Input) {
	vehicles := make(map[uuid.UUID]api.Vehicle, len(in.Vehicles))
	for _, v := range in.Vehicles {
		vehicles[v.ID] = v
	}

	for _, trip := range in.Trips {
		if !inPeriod(trip.Date, in.From, in.To) {
			continue
		}
		id := fmt.Sprintf("trip-%s", trip.ID)

		if trip.EmissionsKg != nil {
			acc.add(CategoryTransport, id, fmt.Sprintf("%.1f km trip", trip.DistanceKm),
				*trip.EmissionsKg, confidence.Declared, "")
			continue
		}

		v, ok := vehicles[trip.VehicleID]
		if !ok {
			acc.skip("trip %s: vehicle %s not found", trip.ID, trip.VehicleID)
			continue
		}
		kg, ok := emission.TripEmissionsKg(v.EmissionInput(), trip.DistanceKm)
		if !ok {
			acc.skip("trip %s: consumption of %q is unknown", trip.ID, v.Name)
			continue
		}

		var formula string
		if in.IncludeFormulas && v.ConsumptionLPer100 != nil {
			formula = fmt.Sprintf("%.1f km × %.2f L/100km × %.2f kg/L = %.2f kg",
				trip.DistanceKm, *v.ConsumptionLPer100, emission.FuelFactor(v.FuelType), kg)
		}
		acc.add(CategoryTransport, id, fmt.Sprintf("%.1f km with %s", trip.DistanceKm, v.Name),
			kg, confidence.Declared, formula)
	}
}

// occupants is the number of people sharing household energy, at least one.
func occupants(h *api.Housing) int {
	if h == nil || h.Occupants <= 0 {
		return 1
	}
	return h.Occupants
}

func (e *Engine) electricity(acc *accumulator, in Input, days, intensity, conf float64) {
	people := occupants(in.Housing)
	for _, a := range in.Appliances {
		qty := a.Quantity
		if qty <= 0 {
			qty = 1
		}
		kwh := units.EnergyKWh(a.PowerWatts, a.HoursPerDay*days) * float64(qty) / float64(people)
		kg := units.GramsToKg(kwh * intensity)

		var formula string
		if in.IncludeFormulas {
			formula = fmt.Sprintf("%g W × %g h/day × %.0f days × %d ÷ %d occupants = %.2f kWh × %g g/kWh = %.2f kg",
				a.PowerWatts, a.HoursPerDay, days, qty, people, kwh, intensity, kg)
		}
		acc.add(CategoryElectricity, fmt.Sprintf("appliance-%s", a.ID), a.Name,
			kg, confidence.Aggregate([]float64{confidence.Referenced, conf}), formula)
	}
}

// HeatingNeedKWhPerM2 is the yearly heating need per energy class (kWh/m²/yr)
var HeatingNeedKWhPerM2 = map[string]float64{
	"A": 50,
	"B": 90,
	"C": 150,
	"D": 230,
	"E": 330,
	"F": 420,
	"G": 500,
}

// HeatingFactor returns kg CO2e per kWh of heat for a heating type. ok is
// false for HeatingNone and unknown types.
func HeatingFactor(h api.HeatingType, gridIntensity float64) (factor float64, ok bool) {
	switch h {
	case api.HeatingGas:
		return 0.227, true
	case api.HeatingFuelOil:
		return 0.324, true
	case api.HeatingWood:
		return 0.030, true
	case api.HeatingElectric:
		return units.GramsToKg(gridIntensity), true
	case api.HeatingHeatPump:
		return units.GramsToKg(gridIntensity) / 3, true
	case api.HeatingDistrict:
		return 0.110, true
	default:
		return 0, false
	}
}

func (e *Engine) heating(acc *accumulator, in Input, days, intensity, gridConf float64) {
	h := in.Housing
	if h == nil || h.Heating == api.HeatingNone || h.Heating == "" {
		return
	}

	need, ok := HeatingNeedKWhPerM2[h.EnergyClass]
	if !ok {
		acc.skip("housing: unknown energy class %q", h.EnergyClass)
		return
	}
	factor, ok := HeatingFactor(h.Heating, intensity)
	if !ok {
		acc.skip("housing: unknown heating type %q", h.Heating)
		return
	}

	people := occupants(h)
	kwh := units.Prorate(h.SurfaceM2*need, days) / float64(people)
	kg := kwh * factor

	conf := confidence.Modelled
	if h.Heating == api.HeatingElectric || h.Heating == api.HeatingHeatPump {
		conf = confidence.Aggregate([]float64{conf, gridConf})
	}

	var formula string
	if in.IncludeFormulas {
		formula = fmt.Sprintf("%g m² × %g kWh/m²/yr × %.0f/365 days ÷ %d occupants = %.2f kWh × %.3f kg/kWh = %.2f kg",
			h.SurfaceM2, need, days, people, kwh, factor, kg)
	}
	acc.add(CategoryHeating, "housing-heating", fmt.Sprintf("%s heating, class %s", h.Heating, h.EnergyClass),
		kg, conf, formula)
}

func (e *Engine) consumption(acc *accumulator, in Input) {
	products := make(map[uuid.UUID]api.Product, len(in.Products))
	for _, p := range in.Products {
		products[p.ID] = p
	}

	for _, p := range in.Purchases {
		if !inPeriod(p.Date, in.From, in.To) {
			continue
		}
		product, ok := products[p.ProductID]
		if !ok {
			acc.skip("purchase %s: product %s not found", p.ID, p.ProductID)
			continue
		}
		kg := p.Quantity * product.KgCO2ePerUnit

		var formula string
		if in.IncludeFormulas {
			formula = fmt.Sprintf("%g %s × %g kg/%s = %.2f kg",
				p.Quantity, product.Unit, product.KgCO2ePerUnit, product.Unit, kg)
		}
		acc.add(CategoryConsumption, fmt.Sprintf("purchase-%s", p.ID),
			fmt.Sprintf("%g %s of %s", p.Quantity, product.Unit, product.Name),
			kg, confidence.Referenced, formula)
	}
}
