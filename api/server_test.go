package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecotrack/db/clickhouse"
	"ecotrack/decision/advice"
	"ecotrack/decision/consumption"
	"ecotrack/decision/footprint"
	"ecotrack/decision/policy"
	records "ecotrack/pkg/api"
	apperrors "ecotrack/pkg/errors"
)

var testProduct = records.Product{
	ID:            uuid.MustParse("6f1c0d6e-2b43-4f3e-9a57-0c0b1f7e9a10"),
	Name:          "Jean",
	Category:      "vêtements",
	Unit:          "pièce",
	KgCO2ePerUnit: 23.2,
}

type testEnv struct {
	t       *testing.T
	store   *memStore
	ledger  *memLedger
	handler http.Handler
}

type envOption func(*Deps, *Config)

func withoutLedger() envOption {
	return func(d *Deps, _ *Config) { d.Ledger = nil }
}

func withAdvisor(gen *fakeGenerator) envOption {
	return func(d *Deps, _ *Config) { d.Advisor = advice.NewAdvisor(gen, zerolog.Nop()) }
}

func withConfig(fn func(*Config)) envOption {
	return func(_ *Deps, c *Config) { fn(c) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		t:      t,
		store:  newMemStore(testProduct),
		ledger: newMemLedger(),
	}

	layout := consumption.DefaultLayout()
	layout.DataStartRow = 1
	catalog := consumption.NewCatalog(&sheetSource{rows: [][]string{
		{"BERLINE", "Peugeot 308", "GO", "", "", "5.2", "l/100 km"},
		{"BERLINE", "Peugeot 308", "ES", "", "", "7.1", "l/100 km"},
	}}, zerolog.Nop()).WithLayout(layout)

	deps := Deps{
		Store:   env.store,
		Ledger:  env.ledger,
		Matcher: consumption.NewMatcher(catalog),
		Logger:  zerolog.Nop(),
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&deps, cfg)
	}
	if deps.Ledger == nil {
		env.ledger = nil
	}
	env.handler = NewServer(deps, cfg).Routes()
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// register signs up email and returns its bearer token
func (e *testEnv) register(email string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "correct horse",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionResponse](e.t, rec).Token
}

func (e *testEnv) createVehicle(token string, fuel string, consumption *float64) records.Vehicle {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/vehicles", token, map[string]any{
		"name": "Clio", "fuel_type": fuel, "consumption_l_per_100": consumption,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[records.Vehicle](e.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]apperrors.AppError](t, rec)
	return body["error"].Code
}

func ptr(v float64) *float64 { return &v }

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("Alice@Example.org ")

	rec := env.do(http.MethodGet, "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@example.org", decode[records.User](t, rec).Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = env.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "alice@example.org", "password": "another password",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@example.org", "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ALICE@example.org", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[sessionResponse](t, rec).Token
	assert.NotEqual(t, token, fresh)

	// The previous session is gone.
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/me", token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/me", fresh, nil).Code)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/api/v1/auth/logout", fresh, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/me", fresh, nil).Code)
}

func TestAuth_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "correct horse",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.ErrCodeValidation, errorCode(t, rec))

	rec = env.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "bob@example.org", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "bob@example.org", "password": "correct horse", "admin": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestAuth_RequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/vehicles", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/vehicles", "garbage", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/vehicles", uuid.NewString(), nil).Code)

	// Public endpoints stay open.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/emission-factors", "", nil).Code)
}

// =============================================================================
// VEHICLES & TRIPS
// =============================================================================

func TestVehicles_CRUDAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register("alice@example.org")
	bob := env.register("bob@example.org")

	v := env.createVehicle(alice, "Diesel", ptr(5))
	assert.Equal(t, "diesel", string(v.FuelType))

	rec := env.do(http.MethodGet, "/api/v1/vehicles", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]records.Vehicle](t, rec), 1)

	path := "/api/v1/vehicles/" + v.ID.String()
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, path, bob, nil).Code)
	assert.Len(t, decode[[]records.Vehicle](t, env.do(http.MethodGet, "/api/v1/vehicles", bob, nil)), 0)

	rec = env.do(http.MethodPut, path, alice, map[string]any{"name": "Clio V", "fuel_type": "essence", "consumption_l_per_100": 6.1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[records.Vehicle](t, rec)
	assert.Equal(t, "Clio V", updated.Name)
	require.NotNil(t, updated.ConsumptionLPer100)
	assert.InDelta(t, 6.1, *updated.ConsumptionLPer100, 1e-9)

	rec = env.do(http.MethodPost, "/api/v1/vehicles", alice, map[string]any{"name": "Boat", "fuel_type": "kerosene"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/vehicles/not-a-uuid", alice, nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, alice, nil).Code)
}

func TestTrips_ComputeEmissionsAndFeedLedger(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	v := env.createVehicle(token, "diesel", ptr(5))

	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 100, "date": "2026-01-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trip := decode[records.Trip](t, rec)
	require.NotNil(t, trip.EmissionsKg)
	assert.InDelta(t, 13.0, *trip.EmissionsKg, 1e-9)

	ev, ok := env.ledger.event(trip.ID)
	require.True(t, ok)
	assert.Equal(t, clickhouse.CategoryTransport, ev.Category)
	assert.True(t, ev.KgCO2e.Equal(decimal.NewFromInt(13)), ev.KgCO2e.String())

	rec = env.do(http.MethodPut, "/api/v1/trips/"+trip.ID.String(), token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 50, "date": "2026-01-15",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 6.5, *decode[records.Trip](t, rec).EmissionsKg, 1e-9)
	ev, _ = env.ledger.event(trip.ID)
	assert.True(t, ev.KgCO2e.Equal(decimal.NewFromFloat(6.5)), ev.KgCO2e.String())

	rec = env.do(http.MethodGet, "/api/v1/trips?from=2026-01-01&to=2026-01-31", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]records.Trip](t, rec), 1)
	rec = env.do(http.MethodGet, "/api/v1/trips?from=2026-02-01", token, nil)
	assert.Len(t, decode[[]records.Trip](t, rec), 0)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/trips/"+trip.ID.String(), token, nil).Code)
	_, ok = env.ledger.event(trip.ID)
	assert.False(t, ok)
}

func TestTrips_UnknownConsumptionAndVehicle(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	v := env.createVehicle(token, "essence", nil)

	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trip := decode[records.Trip](t, rec)
	assert.Nil(t, trip.EmissionsKg)
	assert.False(t, trip.Date.IsZero(), "date defaults to now")
	_, ok := env.ledger.event(trip.ID)
	assert.False(t, ok)

	rec = env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": uuid.New(), "distance_km": 20,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.ErrCodeValidation, errorCode(t, rec))

	rec = env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": -3,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrips_StoreFailureIsNotAValidationError(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	v := env.createVehicle(token, "diesel", ptr(5))
	env.store.vehicleErr = errors.New("db down")

	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 10,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.ErrCodeInternal, errorCode(t, rec))
	assert.Empty(t, env.store.trips)
}

func TestTrips_LedgerFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	v := env.createVehicle(token, "diesel", ptr(5))
	env.ledger.err = errors.New("clickhouse down")

	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 10,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestConsumptionEstimate(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	rec := env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=peugeot%20308&fuel=diesel", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]*consumption.Estimate](t, rec)
	require.NotNil(t, body["estimate"])
	assert.InDelta(t, 5.2, body["estimate"].ConsumptionLPer100Max, 1e-9)
	assert.Equal(t, "Peugeot 308", body["estimate"].MatchedLabel)
	assert.Equal(t, consumption.SourceADEME, body["estimate"].Source)

	rec = env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=peugeot%20308", token, nil)
	assert.InDelta(t, 7.1, decode[map[string]*consumption.Estimate](t, rec)["estimate"].ConsumptionLPer100Max, 1e-9)

	rec = env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=tesla", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"estimate":null}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsumptionEstimate_DatasetMissing(t *testing.T) {
	env := newTestEnv(t, func(d *Deps, _ *Config) {
		d.Matcher = consumption.NewMatcher(consumption.NewCatalog(
			&sheetSource{err: consumption.ErrDatasetNotFound}, zerolog.Nop()))
	})
	token := env.register("alice@example.org")

	rec := env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=clio", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ErrCodeDatasetUnavailable, errorCode(t, rec))
}

func TestConsumptionEstimate_TransientFailureRecovers(t *testing.T) {
	src := &sheetSource{err: errors.New("s3: connection reset")}
	env := newTestEnv(t, func(d *Deps, _ *Config) {
		layout := consumption.DefaultLayout()
		layout.DataStartRow = 1
		d.Matcher = consumption.NewMatcher(consumption.NewCatalog(src, zerolog.Nop()).WithLayout(layout))
	})
	token := env.register("alice@example.org")

	rec := env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=clio", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ErrCodeDatasetUnavailable, errorCode(t, rec))
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/ready", "", nil).Code)

	src.err = nil
	src.rows = [][]string{{"BERLINE", "Renault Clio", "ES", "", "", "5.4", "l/100 km"}}

	rec = env.do(http.MethodGet, "/api/v1/vehicles/consumption-estimate?q=clio", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", "", nil).Code)
}

// =============================================================================
// HOUSEHOLD
// =============================================================================

func TestHousing(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/housing", token, nil).Code)

	rec := env.do(http.MethodPut, "/api/v1/housing", token, map[string]any{
		"surface_m2": 80, "heating": "Gas", "energy_class": "d",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	h := decode[records.Housing](t, rec)
	assert.Equal(t, records.HeatingGas, h.Heating)
	assert.Equal(t, "D", h.EnergyClass)
	assert.Equal(t, 1, h.Occupants)

	rec = env.do(http.MethodPut, "/api/v1/housing", token, map[string]any{
		"surface_m2": 80, "heating": "coal", "energy_class": "D",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/housing", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "D", decode[records.Housing](t, rec).EnergyClass)
}

func TestAppliances(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	rec := env.do(http.MethodPost, "/api/v1/appliances", token, map[string]any{
		"name": "Fridge", "power_watts": 150, "hours_per_day": 24,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[records.Appliance](t, rec)
	assert.Equal(t, 1, a.Quantity)

	rec = env.do(http.MethodPost, "/api/v1/appliances", token, map[string]any{
		"name": "Heater", "power_watts": 2000, "hours_per_day": 25,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Len(t, decode[[]records.Appliance](t, env.do(http.MethodGet, "/api/v1/appliances", token, nil)), 1)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/appliances/"+a.ID.String(), token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/appliances/"+a.ID.String(), token, nil).Code)
}

func TestProductsAndPurchases(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	rec := env.do(http.MethodGet, "/api/v1/products?category=v%C3%AAtements", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]records.Product](t, rec), 1)
	assert.Len(t, decode[[]records.Product](t, env.do(http.MethodGet, "/api/v1/products?category=food", token, nil)), 0)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/products/"+testProduct.ID.String(), token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/products/"+uuid.NewString(), token, nil).Code)

	rec = env.do(http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"product_id": testProduct.ID, "quantity": 2, "date": "2026-03-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[records.Purchase](t, rec)

	ev, ok := env.ledger.event(p.ID)
	require.True(t, ok)
	assert.Equal(t, clickhouse.CategoryConsumption, ev.Category)
	assert.True(t, ev.KgCO2e.Equal(decimal.NewFromFloat(46.4)), ev.KgCO2e.String())

	rec = env.do(http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"product_id": uuid.New(), "quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"product_id": testProduct.ID, "quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Len(t, decode[[]records.Purchase](t, env.do(http.MethodGet, "/api/v1/purchases?from=2026-03-01&to=2026-03-31", token, nil)), 1)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/purchases/"+p.ID.String(), token, nil).Code)
	assert.Contains(t, env.ledger.forgotten, p.ID)
}

// =============================================================================
// FOOTPRINT & ADVICE
// =============================================================================

func TestFootprint(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	v := env.createVehicle(token, "diesel", ptr(5))

	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 100, "date": "2026-01-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 100, "date": "2026-02-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"product_id": testProduct.ID, "quantity": 1, "date": "2026-01-20",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/footprint?from=2026-01-01&to=2026-01-31&formulas=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Footprint footprint.Result `json:"footprint"`
		Policy    struct {
			Decision    string `json:"decision"`
			PoliciesRan int    `json:"policies_ran"`
		} `json:"policy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	fp := body.Footprint
	assert.InDelta(t, 31, fp.Days, 1e-9)
	assert.Equal(t, "FR", fp.Zone)
	assert.Equal(t, "36.2", fp.TotalKg.String())
	assert.Equal(t, "13", fp.ByCategory[footprint.CategoryTransport].String())
	assert.Equal(t, "23.2", fp.ByCategory[footprint.CategoryConsumption].String())
	require.Len(t, fp.Drivers, 2)
	assert.Equal(t, footprint.CategoryConsumption, fp.Drivers[0].Category)
	assert.Equal(t, "1 pièce × 23.2 kg/pièce = 23.20 kg", fp.Drivers[0].Formula)
	assert.Positive(t, body.Policy.PoliciesRan)
	assert.NotEmpty(t, body.Policy.Decision)
}

func seedJanuary(t *testing.T, env *testEnv, token string) {
	t.Helper()
	v := env.createVehicle(token, "diesel", ptr(5))
	rec := env.do(http.MethodPost, "/api/v1/trips", token, map[string]any{
		"vehicle_id": v.ID, "distance_km": 100, "date": "2026-01-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"product_id": testProduct.ID, "quantity": 1, "date": "2026-01-20",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestFootprint_RequestPolicies(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	seedJanuary(t, env, token)

	rec := env.do(http.MethodPost, "/api/v1/footprint", token, map[string]any{
		"from": "2026-01-01", "to": "2026-01-31",
		"policies": []map[string]any{
			{"id": "monthly", "type": "period_budget", "severity": "error", "threshold": 30},
			{"type": "category_share", "threshold": 50},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[footprintResponse](t, rec)
	assert.Equal(t, "36.2", body.Footprint.TotalKg.String())
	assert.Equal(t, policy.DecisionDeny, body.Policy.Decision)
	require.Len(t, body.Policy.Violations, 1)
	assert.Equal(t, "monthly", body.Policy.Violations[0].PolicyID)
	assert.Contains(t, body.Policy.Violations[0].Message, "exceeds budget (30.00 kg)")

	var ids []string
	for _, w := range body.Policy.Warnings {
		ids = append(ids, w.PolicyID)
	}
	assert.Contains(t, ids, "custom-2")

	// Request policies are not remembered.
	rec = env.do(http.MethodGet, "/api/v1/footprint?from=2026-01-01&to=2026-01-31", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[footprintResponse](t, rec).Policy.Violations)
}

func TestFootprint_RequestPoliciesValidated(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	bad := []map[string]any{
		{"type": "carbon_tax", "threshold": 1},
		{"type": "period_budget", "severity": "fatal", "threshold": 1},
		{"type": "period_budget", "threshold": -5},
	}
	for _, p := range bad {
		rec := env.do(http.MethodPost, "/api/v1/footprint", token, map[string]any{
			"policies": []map[string]any{p},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
		assert.Equal(t, apperrors.ErrCodeValidation, errorCode(t, rec))
	}

	many := make([]map[string]any, maxCustomPolicies+1)
	for i := range many {
		many[i] = map[string]any{"type": "period_budget", "threshold": 10}
	}
	rec := env.do(http.MethodPost, "/api/v1/footprint", token, map[string]any{"policies": many})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvice_RequestPolicies(t *testing.T) {
	gen := &fakeGenerator{answer: "Roulez moins."}
	env := newTestEnv(t, withAdvisor(gen))
	token := env.register("alice@example.org")
	seedJanuary(t, env, token)

	rec := env.do(http.MethodPost, "/api/v1/advice", token, map[string]any{
		"question": "Que faire ?", "from": "2026-01-01", "to": "2026-01-31",
		"policies": []map[string]any{{"id": "monthly", "type": "period_budget", "threshold": 30}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Budget checks:")
	assert.Contains(t, gen.prompts[0], "exceeds budget (30.00 kg)")

	rec = env.do(http.MethodPost, "/api/v1/advice", token, map[string]any{
		"policies": []map[string]any{{"type": "nope"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, gen.prompts, 1)
}

func TestFootprint_EmptyAndInvalidPeriod(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	rec := env.do(http.MethodGet, "/api/v1/footprint", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[footprintResponse](t, rec)
	assert.True(t, body.Footprint.TotalKg.IsZero())
	assert.NotEmpty(t, body.Footprint.Warnings)

	rec = env.do(http.MethodGet, "/api/v1/footprint?from=2026-02-01&to=2026-01-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/v1/footprint?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonthly(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")
	env.ledger.totals = []clickhouse.MonthlyTotal{{
		Month:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Category: clickhouse.CategoryTransport,
		KgCO2e:   decimal.NewFromInt(13),
		Events:   1,
	}}

	rec := env.do(http.MethodGet, "/api/v1/footprint/monthly", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		From   time.Time                 `json:"from"`
		To     time.Time                 `json:"to"`
		Months []clickhouse.MonthlyTotal `json:"months"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Months, 1)
	assert.Equal(t, 1, body.From.Day())
	assert.Equal(t, 1, body.To.Day())
	assert.Equal(t, 12, int(body.To.Sub(body.From).Hours()/24/30.4+0.5))

	noLedger := newTestEnv(t, withoutLedger())
	token = noLedger.register("bob@example.org")
	assert.Equal(t, http.StatusNotFound, noLedger.do(http.MethodGet, "/api/v1/footprint/monthly", token, nil).Code)
}

func TestAdvice_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	token := env.register("alice@example.org")

	rec := env.do(http.MethodPost, "/api/v1/advice", token, map[string]string{"question": "Que faire ?"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ErrCodeAdviceUnavailable, errorCode(t, rec))
}

func TestAdvice_AnswersAndRateLimits(t *testing.T) {
	gen := &fakeGenerator{answer: "  Roulez moins.  "}
	env := newTestEnv(t, withAdvisor(gen), withConfig(func(c *Config) { c.AdviceRatePerMinute = 1 }))
	token := env.register("alice@example.org")

	rec := env.do(http.MethodPost, "/api/v1/advice", token, map[string]string{"question": "Que faire ?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Roulez moins.", body["advice"])
	assert.Equal(t, "fake", body["provider"])
	assert.NotNil(t, body["footprint"])
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Question: Que faire ?")

	rec = env.do(http.MethodPost, "/api/v1/advice", token, map[string]string{"question": "Et encore ?"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperrors.ErrCodeRateLimited, errorCode(t, rec))

	// Limits are per user.
	other := env.register("bob@example.org")
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/advice", other, map[string]string{}).Code)
}

func TestAdvice_ProviderFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream 500")}
	env := newTestEnv(t, withAdvisor(gen))
	token := env.register("alice@example.org")

	rec := env.do(http.MethodPost, "/api/v1/advice", token, map[string]string{"question": "Que faire ?"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "upstream 500")

	long := make([]byte, advice.MaxQuestionLength+1)
	for i := range long {
		long[i] = 'a'
	}
	rec = env.do(http.MethodPost, "/api/v1/advice", token, map[string]string{"question": string(long)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	rec = env.do(http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checks := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", checks["ledger"])
	assert.Equal(t, "ok", checks["consumption_dataset"])

	env.store.pingErr = errors.New("connection refused")
	rec = env.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]string](t, rec)["database"])
}

func TestMetricsBasicAuth(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) {
		c.MetricsUser = "prom"
		c.MetricsPassword = "secret"
	}))

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/metrics", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ecotrack_http_requests_total")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) { c.CORSOrigins = []string{"https://app.example.org"} }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/vehicles", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/vehicles", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		query    string
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{
			name:     "defaults to current month",
			wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "plain to date is inclusive",
			query:    "?from=2026-01-01&to=2026-01-31",
			wantFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "timestamp to is exclusive",
			query:    "?from=2026-01-01&to=2026-01-31T00:00:00Z",
			wantFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "from alone covers one month",
			query:    "?from=2026-02-01",
			wantFrom: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "reversed", query: "?from=2026-02-01&to=2026-01-01", wantErr: true},
		{name: "garbage", query: "?to=soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/footprint"+tt.query, nil)
			from, to, err := parsePeriod(req, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantFrom.Equal(from), from)
			assert.True(t, tt.wantTo.Equal(to), to)
		})
	}
}

func TestUserLimiter(t *testing.T) {
	unlimited := newUserLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow("u"))
	}

	l := newUserLimiter(2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}
