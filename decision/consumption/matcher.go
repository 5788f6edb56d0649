package consumption

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"ecotrack/decision/emission"
	"ecotrack/pkg/units"
)

// SourceADEME identifies the reference dataset in every estimate.
const SourceADEME = "ADEME Car Labelling"

// Estimate units reported to callers.
const (
	EstimateUnitLitres = string(units.UnitLitresPer100Km)
	EstimateUnitKWh    = string(units.UnitKWhPer100Km)
)

// Estimate is the best catalog match for a vehicle description
type Estimate struct {
	ConsumptionLPer100Max float64 `json:"consumptionLPer100Max"`
	MatchedLabel          string  `json:"matchedLabel"`
	Source                string  `json:"source"`
	Unit                  string  `json:"unit"`
	Type                  string  `json:"type,omitempty"`
}

// Matcher answers consumption queries against a Catalog
type Matcher struct {
	catalog *Catalog
}

// NewMatcher creates a matcher reading from catalog
func NewMatcher(catalog *Catalog) *Matcher {
	return &Matcher{catalog: catalog}
}

// Warm loads the catalog ahead of the first query
func (m *Matcher) Warm(ctx context.Context) error {
	return m.catalog.Warm(ctx)
}

// EnergyCodes returns the catalog energy codes accepted for a fuel type.
// An empty result means "do not filter by energy".
func EnergyCodes(fuel emission.FuelType) []string {
	switch fuel {
	case emission.FuelEssence:
		return []string{"ES", "FE"}
	case emission.FuelDiesel:
		return []string{"GO"}
	case emission.FuelElectrique:
		return []string{"EL"}
	case emission.FuelGPL:
		return []string{"GPL"}
	case emission.FuelHybride:
		return []string{"EH", "GH", "EE", "GL"}
	default:
		// Other or unknown fuels search the whole catalog on purpose.
		return nil
	}
}

// EstimateMax finds the catalog row matching query with the largest declared
// consumption. It returns nil without error when the query is blank or
// nothing matches; an error means the catalog itself is unavailable.
func (m *Matcher) EstimateMax(ctx context.Context, query string, fuel emission.FuelType) (*Estimate, error) {
	q := Normalize(query)
	if q == "" {
		return nil, nil
	}

	rows, err := m.catalog.Rows(ctx)
	if err != nil {
		return nil, err
	}

	codes := EnergyCodes(fuel)
	var best *LabelRow
	for i := range rows {
		row := &rows[i]
		if !strings.Contains(row.Label, q) && !strings.Contains(q, row.Label) {
			continue
		}
		if len(codes) > 0 && !containsCode(codes, row.Energy) {
			continue
		}
		if best == nil || row.MaxValue > best.MaxValue {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}

	est := &Estimate{
		Source: SourceADEME,
		Type:   best.BodyType,
	}
	if best.Unit == UnitWhPerKm {
		est.ConsumptionLPer100Max = round2(units.WhPerKmToKWhPer100Km(best.MaxValue))
		est.Unit = EstimateUnitKWh
		// TODO: report LabelOriginal here too once API clients stop relying on the uppercase label for electric matches.
		est.MatchedLabel = best.Label
	} else {
		est.ConsumptionLPer100Max = round2(best.MaxValue)
		est.Unit = EstimateUnitLitres
		est.MatchedLabel = best.LabelOriginal
	}
	return est, nil
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
