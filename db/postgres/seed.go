package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ecotrack/pkg/api"
)

// productNamespace derives stable product IDs from their names, so seeding
// twice yields the same rows.
var productNamespace = uuid.MustParse("6f1c3b52-8d0e-4a8f-9a52-3f5b7c1e2d40")

// ProductID returns the deterministic ID of a catalog product name
func ProductID(name string) uuid.UUID {
	return uuid.NewSHA1(productNamespace, []byte(name))
}

func product(name, category, unit string, kg float64) api.Product {
	return api.Product{ID: ProductID(name), Name: name, Category: category, Unit: unit, KgCO2ePerUnit: kg}
}

// DefaultProducts is the built-in everyday products catalog (ADEME Base
// Empreinte orders of magnitude).
func DefaultProducts() []api.Product {
	return []api.Product{
		// food, per kg
		product("Bœuf", "alimentation", "kg", 27.0),
		product("Agneau", "alimentation", "kg", 24.5),
		product("Porc", "alimentation", "kg", 7.3),
		product("Poulet", "alimentation", "kg", 6.9),
		product("Poisson", "alimentation", "kg", 5.1),
		product("Fromage", "alimentation", "kg", 8.5),
		product("Œufs", "alimentation", "kg", 3.0),
		product("Riz", "alimentation", "kg", 2.7),
		product("Pâtes", "alimentation", "kg", 1.3),
		product("Légumes de saison", "alimentation", "kg", 0.4),
		product("Fruits importés par avion", "alimentation", "kg", 11.0),
		product("Lait", "alimentation", "l", 1.3),
		product("Café", "alimentation", "kg", 16.0),

		// clothing, per item
		product("T-shirt en coton", "habillement", "unit", 5.2),
		product("Jean", "habillement", "unit", 23.2),
		product("Chaussures de sport", "habillement", "unit", 16.0),
		product("Manteau", "habillement", "unit", 89.0),

		// electronics, per item
		product("Smartphone", "numérique", "unit", 32.0),
		product("Ordinateur portable", "numérique", "unit", 156.0),
		product("Tablette", "numérique", "unit", 63.0),
		product("Téléviseur", "numérique", "unit", 371.0),
		product("Console de jeux", "numérique", "unit", 90.0),

		// household
		product("Lave-linge", "équipement", "unit", 296.0),
		product("Réfrigérateur", "équipement", "unit", 343.0),
		product("Canapé", "équipement", "unit", 180.0),
	}
}

// SeedProducts inserts the default catalog, skipping names already
// present. It returns the number of rows inserted.
func (s *Store) SeedProducts(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range DefaultProducts() {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("invalid seed product %q: %w", p.Name, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, category, unit, kg_co2e_per_unit)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO NOTHING`,
			p.ID, p.Name, p.Category, p.Unit, p.KgCO2ePerUnit,
		)
		if err != nil {
			return 0, mapError(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.Info().Int("inserted", inserted).Msg("product catalog seeded")
	return inserted, nil
}
