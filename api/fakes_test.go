package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecotrack/db/clickhouse"
	records "ecotrack/pkg/api"
)

// memStore is an in-memory Store
type memStore struct {
	mu         sync.Mutex
	pingErr    error
	vehicleErr error
	users      map[uuid.UUID]*records.User
	vehicles   map[uuid.UUID]records.Vehicle
	trips      map[uuid.UUID]records.Trip
	appliances map[uuid.UUID]records.Appliance
	housing    map[uuid.UUID]records.Housing
	products   map[uuid.UUID]records.Product
	purchases  map[uuid.UUID]records.Purchase
}

func newMemStore(products ...records.Product) *memStore {
	s := &memStore{
		users:      make(map[uuid.UUID]*records.User),
		vehicles:   make(map[uuid.UUID]records.Vehicle),
		trips:      make(map[uuid.UUID]records.Trip),
		appliances: make(map[uuid.UUID]records.Appliance),
		housing:    make(map[uuid.UUID]records.Housing),
		products:   make(map[uuid.UUID]records.Product),
		purchases:  make(map[uuid.UUID]records.Purchase),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func inPeriod(t, from, to time.Time) bool {
	return (from.IsZero() || !t.Before(from)) && (to.IsZero() || t.Before(to))
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

func (s *memStore) CreateUser(_ context.Context, u *records.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return records.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*records.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, records.ErrNotFound
}

func (s *memStore) GetUserByToken(_ context.Context, token uuid.UUID) (*records.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Token == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, records.ErrNotFound
}

func (s *memStore) RotateToken(_ context.Context, userID, token uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return records.ErrNotFound
	}
	u.Token = token
	return nil
}

func (s *memStore) CreateVehicle(_ context.Context, v *records.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = *v
	return nil
}

func (s *memStore) GetVehicle(_ context.Context, userID, id uuid.UUID) (*records.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vehicleErr != nil {
		return nil, s.vehicleErr
	}
	v, ok := s.vehicles[id]
	if !ok || v.UserID != userID {
		return nil, records.ErrNotFound
	}
	return &v, nil
}

func (s *memStore) ListVehicles(_ context.Context, userID uuid.UUID) ([]records.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Vehicle, 0)
	for _, v := range s.vehicles {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateVehicle(_ context.Context, v *records.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.vehicles[v.ID]; !ok || cur.UserID != v.UserID {
		return records.ErrNotFound
	}
	s.vehicles[v.ID] = *v
	return nil
}

func (s *memStore) DeleteVehicle(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vehicles[id]; !ok || v.UserID != userID {
		return records.ErrNotFound
	}
	delete(s.vehicles, id)
	for tid, t := range s.trips {
		if t.VehicleID == id {
			delete(s.trips, tid)
		}
	}
	return nil
}

func (s *memStore) CreateTrip(_ context.Context, t *records.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = *t
	return nil
}

func (s *memStore) GetTrip(_ context.Context, userID, id uuid.UUID) (*records.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || t.UserID != userID {
		return nil, records.ErrNotFound
	}
	return &t, nil
}

func (s *memStore) ListTrips(_ context.Context, userID uuid.UUID, from, to time.Time) ([]records.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Trip, 0)
	for _, t := range s.trips {
		if t.UserID == userID && inPeriod(t.Date, from, to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *memStore) UpdateTrip(_ context.Context, t *records.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.trips[t.ID]; !ok || cur.UserID != t.UserID {
		return records.ErrNotFound
	}
	s.trips[t.ID] = *t
	return nil
}

func (s *memStore) DeleteTrip(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trips[id]; !ok || t.UserID != userID {
		return records.ErrNotFound
	}
	delete(s.trips, id)
	return nil
}

func (s *memStore) CreateAppliance(_ context.Context, a *records.Appliance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliances[a.ID] = *a
	return nil
}

func (s *memStore) ListAppliances(_ context.Context, userID uuid.UUID) ([]records.Appliance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Appliance, 0)
	for _, a := range s.appliances {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) DeleteAppliance(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.appliances[id]; !ok || a.UserID != userID {
		return records.ErrNotFound
	}
	delete(s.appliances, id)
	return nil
}

func (s *memStore) UpsertHousing(_ context.Context, h *records.Housing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.housing[h.UserID] = *h
	return nil
}

func (s *memStore) GetHousing(_ context.Context, userID uuid.UUID) (*records.Housing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.housing[userID]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &h, nil
}

func (s *memStore) GetProduct(_ context.Context, id uuid.UUID) (*records.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) ListProducts(_ context.Context, category string) ([]records.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Product, 0)
	for _, p := range s.products {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) CreatePurchase(_ context.Context, p *records.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.ID] = *p
	return nil
}

func (s *memStore) ListPurchases(_ context.Context, userID uuid.UUID, from, to time.Time) ([]records.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Purchase, 0)
	for _, p := range s.purchases {
		if p.UserID == userID && inPeriod(p.Date, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) DeletePurchase(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.purchases[id]; !ok || p.UserID != userID {
		return records.ErrNotFound
	}
	delete(s.purchases, id)
	return nil
}

// memLedger records ledger calls
type memLedger struct {
	mu        sync.Mutex
	events    map[uuid.UUID]clickhouse.EmissionEvent
	forgotten []uuid.UUID
	totals    []clickhouse.MonthlyTotal
	err       error
}

func newMemLedger() *memLedger {
	return &memLedger{events: make(map[uuid.UUID]clickhouse.EmissionEvent)}
}

func (l *memLedger) Ping(context.Context) error { return l.err }

func (l *memLedger) RecordEmission(_ context.Context, ev clickhouse.EmissionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events[ev.SourceID] = ev
	return nil
}

func (l *memLedger) ForgetSource(_ context.Context, _, sourceID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	delete(l.events, sourceID)
	l.forgotten = append(l.forgotten, sourceID)
	return nil
}

func (l *memLedger) MonthlyTotals(context.Context, uuid.UUID, time.Time, time.Time) ([]clickhouse.MonthlyTotal, error) {
	return l.totals, l.err
}

func (l *memLedger) event(sourceID uuid.UUID) (clickhouse.EmissionEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[sourceID]
	return ev, ok
}

// sheetSource serves fixed rows to a consumption catalog
type sheetSource struct {
	rows [][]string
	err  error
}

func (s *sheetSource) Rows(context.Context) ([][]string, error) { return s.rows, s.err }
func (s *sheetSource) Describe() string                          { return "test sheet" }

// fakeGenerator answers advice prompts with a fixed text
type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.answer, g.err
}
