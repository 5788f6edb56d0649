package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ecotrack/db/clickhouse"
	records "ecotrack/pkg/api"
)

// Store persists users and their records. Lookups of another user's
// record report records.ErrNotFound.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u *records.User) error
	GetUserByEmail(ctx context.Context, email string) (*records.User, error)
	GetUserByToken(ctx context.Context, token uuid.UUID) (*records.User, error)
	RotateToken(ctx context.Context, userID, token uuid.UUID) error

	CreateVehicle(ctx context.Context, v *records.Vehicle) error
	GetVehicle(ctx context.Context, userID, id uuid.UUID) (*records.Vehicle, error)
	ListVehicles(ctx context.Context, userID uuid.UUID) ([]records.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *records.Vehicle) error
	DeleteVehicle(ctx context.Context, userID, id uuid.UUID) error

	CreateTrip(ctx context.Context, t *records.Trip) error
	GetTrip(ctx context.Context, userID, id uuid.UUID) (*records.Trip, error)
	ListTrips(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]records.Trip, error)
	UpdateTrip(ctx context.Context, t *records.Trip) error
	DeleteTrip(ctx context.Context, userID, id uuid.UUID) error

	CreateAppliance(ctx context.Context, a *records.Appliance) error
	ListAppliances(ctx context.Context, userID uuid.UUID) ([]records.Appliance, error)
	DeleteAppliance(ctx context.Context, userID, id uuid.UUID) error

	UpsertHousing(ctx context.Context, h *records.Housing) error
	GetHousing(ctx context.Context, userID uuid.UUID) (*records.Housing, error)

	GetProduct(ctx context.Context, id uuid.UUID) (*records.Product, error)
	ListProducts(ctx context.Context, category string) ([]records.Product, error)

	CreatePurchase(ctx context.Context, p *records.Purchase) error
	ListPurchases(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]records.Purchase, error)
	DeletePurchase(ctx context.Context, userID, id uuid.UUID) error
}

// Ledger keeps the dated emission history used for monthly reports
type Ledger interface {
	Ping(ctx context.Context) error
	RecordEmission(ctx context.Context, ev clickhouse.EmissionEvent) error
	ForgetSource(ctx context.Context, userID, sourceID uuid.UUID) error
	MonthlyTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]clickhouse.MonthlyTotal, error)
}
