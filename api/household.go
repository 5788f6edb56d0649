package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecotrack/db/clickhouse"
	records "ecotrack/pkg/api"
	"ecotrack/pkg/confidence"
	apperrors "ecotrack/pkg/errors"
)

// =============================================================================
// APPLIANCES
// =============================================================================

type applianceRequest struct {
	Name        string  `json:"name"`
	PowerWatts  float64 `json:"power_watts"`
	HoursPerDay float64 `json:"hours_per_day"`
	Quantity    int     `json:"quantity"`
}

func (s *Server) handleListAppliances(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	appliances, err := s.store.ListAppliances(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, appliances)
}

func (s *Server) handleCreateAppliance(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req applianceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	a := &records.Appliance{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		PowerWatts:  req.PowerWatts,
		HoursPerDay: req.HoursPerDay,
		Quantity:    req.Quantity,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.CreateAppliance(r.Context(), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, a)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
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
	if err := s.store.DeleteAppliance(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HOUSING
// =============================================================================

type housingRequest struct {
	SurfaceM2   float64 `json:"surface_m2"`
	Heating     string  `json:"heating"`
	EnergyClass string  `json:"energy_class"`
	Occupants   int     `json:"occupants"`
}

func (s *Server) handleGetHousing(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.store.GetHousing(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, h)
}

func (s *Server) handlePutHousing(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req housingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Occupants == 0 {
		req.Occupants = 1
	}

	h := &records.Housing{
		UserID:      userID,
		SurfaceM2:   req.SurfaceM2,
		Heating:     records.HeatingType(strings.ToLower(strings.TrimSpace(req.Heating))),
		EnergyClass: req.EnergyClass,
		Occupants:   req.Occupants,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpsertHousing(r.Context(), h); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, h)
}

// =============================================================================
// PRODUCTS & PURCHASES
// =============================================================================

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context(), strings.TrimSpace(r.URL.Query().Get("category")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

type purchaseRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	Date      string    `json:"date"`
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
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
	purchases, err := s.store.ListPurchases(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, purchases)
}

func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}

	p := &records.Purchase{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := s.store.GetProduct(r.Context(), p.ProductID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			s.writeError(w, r, apperrors.NewValidationError("product_id", "unknown product"))
			return
		}
		s.writeError(w, r, err)
		return
	}
	if err := s.store.CreatePurchase(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.ledger != nil {
		if err := s.ledger.RecordEmission(r.Context(), clickhouse.PurchaseEvent(*p, *product, confidence.Referenced)); err != nil {
			LedgerErrors.Inc()
			s.logger.Warn().Err(err).Str("purchase_id", p.ID.String()).Msg("ledger write failed")
		}
	}
	jsonResponse(w, http.StatusCreated, p)
}

func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
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
	if err := s.store.DeletePurchase(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.ledger != nil {
		if err := s.ledger.ForgetSource(r.Context(), userID, id); err != nil {
			LedgerErrors.Inc()
			s.logger.Warn().Err(err).Str("purchase_id", id.String()).Msg("ledger delete failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
