// Package postgres provides the PostgreSQL store for users and their
// recorded activity.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"ecotrack/pkg/api"
)

// PostgreSQL error codes mapped to store errors
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements the application store on PostgreSQL
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to dsn and verifies connectivity
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing connection pool
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "postgres").Logger()}
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError translates driver errors into store errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", api.ErrConflict, pqErr.Constraint)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", api.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// expectOne turns a zero-row write into ErrNotFound
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrNotFound
	}
	return nil
}

// nullTime makes a zero time an open bound
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts u; a duplicate email yields ErrConflict
func (s *Store) CreateUser(ctx context.Context, u *api.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Token, u.CreatedAt,
	)
	return mapError(err)
}

const userColumns = `id, email, display_name, password_hash, token, created_at`

func scanUser(row interface{ Scan(...any) error }) (*api.User, error) {
	var u api.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Token, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByEmail looks a user up by normalized email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*api.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByToken looks a user up by session token
func (s *Store) GetUserByToken(ctx context.Context, token uuid.UUID) (*api.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE token = $1`, token))
}

// RotateToken replaces the session token of a user
func (s *Store) RotateToken(ctx context.Context, userID, token uuid.UUID) error {
	return expectOne(s.db.ExecContext(ctx,
		`UPDATE users SET token = $2 WHERE id = $1`, userID, token))
}

// =============================================================================
// VEHICLES
// =============================================================================

// CreateVehicle inserts v
func (s *Store) CreateVehicle(ctx context.Context, v *api.Vehicle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, user_id, name, fuel_type, consumption_l_per_100, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.UserID, v.Name, string(v.FuelType), v.ConsumptionLPer100, v.CreatedAt,
	)
	return mapError(err)
}

const vehicleColumns = `id, user_id, name, fuel_type, consumption_l_per_100, created_at`

func scanVehicle(row interface{ Scan(...any) error }) (*api.Vehicle, error) {
	var v api.Vehicle
	if err := row.Scan(&v.ID, &v.UserID, &v.Name, &v.FuelType, &v.ConsumptionLPer100, &v.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &v, nil
}

// GetVehicle returns a vehicle owned by userID
func (s *Store) GetVehicle(ctx context.Context, userID, id uuid.UUID) (*api.Vehicle, error) {
	return scanVehicle(s.db.QueryRowContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 AND id = $2`, userID, id))
}

// ListVehicles returns the vehicles of a user, oldest first
func (s *Store) ListVehicles(ctx context.Context, userID uuid.UUID) ([]api.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]api.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// UpdateVehicle rewrites the mutable fields of v
func (s *Store) UpdateVehicle(ctx context.Context, v *api.Vehicle) error {
	return expectOne(s.db.ExecContext(ctx, `
		UPDATE vehicles SET name = $3, fuel_type = $4, consumption_l_per_100 = $5
		WHERE user_id = $1 AND id = $2`,
		v.UserID, v.ID, v.Name, string(v.FuelType), v.ConsumptionLPer100,
	))
}

// DeleteVehicle removes a vehicle and, by cascade, its trips
func (s *Store) DeleteVehicle(ctx context.Context, userID, id uuid.UUID) error {
	return expectOne(s.db.ExecContext(ctx,
		`DELETE FROM vehicles WHERE user_id = $1 AND id = $2`, userID, id))
}

// =============================================================================
// TRIPS
// =============================================================================

// CreateTrip inserts t
func (s *Store) CreateTrip(ctx context.Context, t *api.Trip) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trips (id, user_id, vehicle_id, distance_km, date, note, emissions_kg, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.VehicleID, t.DistanceKm, t.Date.UTC(), t.Note, t.EmissionsKg, t.CreatedAt,
	)
	return mapError(err)
}

const tripColumns = `id, user_id, vehicle_id, distance_km, date, note, emissions_kg, created_at`

func scanTrip(row interface{ Scan(...any) error }) (*api.Trip, error) {
	var t api.Trip
	if err := row.Scan(&t.ID, &t.UserID, &t.VehicleID, &t.DistanceKm, &t.Date, &t.Note, &t.EmissionsKg, &t.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// GetTrip returns a trip owned by userID
func (s *Store) GetTrip(ctx context.Context, userID, id uuid.UUID) (*api.Trip, error) {
	return scanTrip(s.db.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE user_id = $1 AND id = $2`, userID, id))
}

// ListTrips returns the trips of a user dated in [from, to), newest first.
// A zero bound is open.
func (s *Store) ListTrips(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]api.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR date >= $2)
		  AND ($3::timestamptz IS NULL OR date < $3)
		ORDER BY date DESC, id`,
		userID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]api.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTrip rewrites the mutable fields of t
func (s *Store) UpdateTrip(ctx context.Context, t *api.Trip) error {
	return expectOne(s.db.ExecContext(ctx, `
		UPDATE trips SET vehicle_id = $3, distance_km = $4, date = $5, note = $6, emissions_kg = $7
		WHERE user_id = $1 AND id = $2`,
		t.UserID, t.ID, t.VehicleID, t.DistanceKm, t.Date.UTC(), t.Note, t.EmissionsKg,
	))
}

// DeleteTrip removes a trip
func (s *Store) DeleteTrip(ctx context.Context, userID, id uuid.UUID) error {
	return expectOne(s.db.ExecContext(ctx,
		`DELETE FROM trips WHERE user_id = $1 AND id = $2`, userID, id))
}

// =============================================================================
// APPLIANCES & HOUSING
// =============================================================================

// CreateAppliance inserts a
func (s *Store) CreateAppliance(ctx context.Context, a *api.Appliance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appliances (id, user_id, name, power_watts, hours_per_day, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Name, a.PowerWatts, a.HoursPerDay, a.Quantity, a.CreatedAt,
	)
	return mapError(err)
}

// ListAppliances returns the appliances of a user
func (s *Store) ListAppliances(ctx context.Context, userID uuid.UUID) ([]api.Appliance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, power_watts, hours_per_day, quantity, created_at
		FROM appliances WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]api.Appliance, 0)
	for rows.Next() {
		var a api.Appliance
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.PowerWatts, &a.HoursPerDay, &a.Quantity, &a.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAppliance removes an appliance
func (s *Store) DeleteAppliance(ctx context.Context, userID, id uuid.UUID) error {
	return expectOne(s.db.ExecContext(ctx,
		`DELETE FROM appliances WHERE user_id = $1 AND id = $2`, userID, id))
}

// UpsertHousing creates or replaces the housing of h.UserID
func (s *Store) UpsertHousing(ctx context.Context, h *api.Housing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO housing (user_id, surface_m2, heating, energy_class, occupants, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			surface_m2 = EXCLUDED.surface_m2,
			heating = EXCLUDED.heating,
			energy_class = EXCLUDED.energy_class,
			occupants = EXCLUDED.occupants,
			updated_at = EXCLUDED.updated_at`,
		h.UserID, h.SurfaceM2, string(h.Heating), h.EnergyClass, h.Occupants, h.UpdatedAt,
	)
	return mapError(err)
}

// GetHousing returns the housing of a user
func (s *Store) GetHousing(ctx context.Context, userID uuid.UUID) (*api.Housing, error) {
	var h api.Housing
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, surface_m2, heating, energy_class, occupants, updated_at
		FROM housing WHERE user_id = $1`, userID,
	).Scan(&h.UserID, &h.SurfaceM2, &h.Heating, &h.EnergyClass, &h.Occupants, &h.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &h, nil
}

// =============================================================================
// PRODUCTS & PURCHASES
// =============================================================================

// CreateProduct inserts p; a duplicate name yields ErrConflict
func (s *Store) CreateProduct(ctx context.Context, p *api.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit, kg_co2e_per_unit)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Category, p.Unit, p.KgCO2ePerUnit,
	)
	return mapError(err)
}

// GetProduct returns a catalog product
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*api.Product, error) {
	var p api.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, unit, kg_co2e_per_unit FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.KgCO2ePerUnit)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// ListProducts returns the catalog, optionally restricted to one category
func (s *Store) ListProducts(ctx context.Context, category string) ([]api.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit, kg_co2e_per_unit FROM products
		WHERE $1 = '' OR category = $1
		ORDER BY category, name`, category)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]api.Product, 0)
	for rows.Next() {
		var p api.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.KgCO2ePerUnit); err != nil {
			return nil, mapError(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePurchase inserts p; an unknown product yields ErrNotFound
func (s *Store) CreatePurchase(ctx context.Context, p *api.Purchase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, user_id, product_id, quantity, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.ProductID, p.Quantity, p.Date.UTC(), p.CreatedAt,
	)
	return mapError(err)
}

// ListPurchases returns the purchases of a user dated in [from, to)
func (s *Store) ListPurchases(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]api.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, product_id, quantity, date, created_at FROM purchases
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR date >= $2)
		  AND ($3::timestamptz IS NULL OR date < $3)
		ORDER BY date DESC, id`,
		userID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]api.Purchase, 0)
	for rows.Next() {
		var p api.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.Quantity, &p.Date, &p.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePurchase removes a purchase
func (s *Store) DeletePurchase(ctx context.Context, userID, id uuid.UUID) error {
	return expectOne(s.db.ExecContext(ctx,
		`DELETE FROM purchases WHERE user_id = $1 AND id = $2`, userID, id))
}
