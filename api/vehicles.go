package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecotrack/db/clickhouse"
	"ecotrack/decision/emission"
	records "ecotrack/pkg/api"
	"ecotrack/pkg/confidence"
	apperrors "ecotrack/pkg/errors"
)

// =============================================================================
// VEHICLES
// =============================================================================

type vehicleRequest struct {
	Name               string   `json:"name"`
	FuelType           string   `json:"fuel_type"`
	ConsumptionLPer100 *float64 `json:"consumption_l_per_100"`
}

func (req vehicleRequest) apply(v *records.Vehicle) {
	v.Name = strings.TrimSpace(req.Name)
	v.FuelType = emission.ParseFuelType(req.FuelType)
	v.ConsumptionLPer100 = req.ConsumptionLPer100
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vehicles, err := s.store.ListVehicles(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, vehicles)
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req vehicleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	v := &records.Vehicle{ID: uuid.New(), UserID: userID, CreatedAt: time.Now().UTC()}
	req.apply(v)
	if err := v.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.CreateVehicle(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.store.GetVehicle(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, v)
}

// handleUpdateVehicle does not touch existing trips: their emissions were
// fixed when they were recorded.
func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req vehicleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	v, err := s.store.GetVehicle(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.apply(v)
	if err := v.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpdateVehicle(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteVehicle(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConsumptionEstimate answers {"estimate": null} when nothing matches
func (s *Server) handleConsumptionEstimate(w http.ResponseWriter, r *http.Request) {
	if s.matcher == nil {
		s.writeError(w, r, apperrors.NewDatasetUnavailableError(nil))
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		s.writeError(w, r, apperrors.NewValidationError("q", "is required"))
		return
	}

	est, err := s.matcher.EstimateMax(r.Context(), query, emission.ParseFuelType(q.Get("fuel")))
	if err != nil {
		ConsumptionLookups.WithLabelValues("error").Inc()
		s.writeError(w, r, err)
		return
	}
	if est == nil {
		ConsumptionLookups.WithLabelValues("miss").Inc()
	} else {
		ConsumptionLookups.WithLabelValues("hit").Inc()
	}
	jsonResponse(w, http.StatusOK, map[string]any{"estimate": est})
}

// =============================================================================
// TRIPS
// =============================================================================

type tripRequest struct {
	VehicleID  uuid.UUID `json:"vehicle_id"`
	DistanceKm float64   `json:"distance_km"`
	Date       string    `json:"date"`
	Note       string    `json:"note"`
}

// buildTrip validates req against the user's vehicle and computes the
// trip emissions, which stay nil when the consumption is unknown.
func (s *Server) buildTrip(ctx context.Context, t *records.Trip, req tripRequest) error {
	date, err := parseDate("date", req.Date)
	if err != nil {
		return err
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	t.VehicleID = req.VehicleID
	t.DistanceKm = req.DistanceKm
	t.Date = date
	t.Note = strings.TrimSpace(req.Note)
	if err := t.Validate(); err != nil {
		return err
	}

	v, err := s.store.GetVehicle(ctx, t.UserID, t.VehicleID)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return apperrors.NewValidationError("vehicle_id", "unknown vehicle")
	case err != nil:
		return fmt.Errorf("failed to load vehicle %s: %w", t.VehicleID, err)
	}

	t.EmissionsKg = nil
	if kg, ok := emission.TripEmissionsKg(v.EmissionInput(), t.DistanceKm); ok {
		t.EmissionsKg = &kg
		TripEmissionsKg.Observe(kg)
	}
	return nil
}

// ledgerTrip mirrors a trip into the emission ledger. Ledger failures are
// logged and never fail the request.
func (s *Server) ledgerTrip(ctx context.Context, t *records.Trip) {
	if s.ledger == nil {
		return
	}
	var err error
	if ev, ok := clickhouse.TripEvent(*t, confidence.Declared); ok {
		err = s.ledger.RecordEmission(ctx, ev)
	} else {
		err = s.ledger.ForgetSource(ctx, t.UserID, t.ID)
	}
	if err != nil {
		LedgerErrors.Inc()
		s.logger.Warn().Err(err).Str("trip_id", t.ID.String()).Msg("ledger write failed")
	}
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseDate("from", r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseDate("to", r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trips, err := s.store.ListTrips(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, trips)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tripRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	t := &records.Trip{ID: uuid.New(), UserID: userID, CreatedAt: time.Now().UTC()}
	if err := s.buildTrip(r.Context(), t, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.CreateTrip(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ledgerTrip(r.Context(), t)
	jsonResponse(w, http.StatusCreated, t)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.store.GetTrip(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tripRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	t, err := s.store.GetTrip(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.buildTrip(r.Context(), t, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpdateTrip(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ledgerTrip(r.Context(), t)
	jsonResponse(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteTrip(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.ledger != nil {
		if err := s.ledger.ForgetSource(r.Context(), userID, id); err != nil {
			LedgerErrors.Inc()
			s.logger.Warn().Err(err).Str("trip_id", id.String()).Msg("ledger delete failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
