package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecotrack/decision/advice"
	"ecotrack/decision/emission"
	"ecotrack/decision/footprint"
	"ecotrack/decision/policy"
	records "ecotrack/pkg/api"
	apperrors "ecotrack/pkg/errors"
)

// footprintResponse pairs a footprint with its budget checks
type footprintResponse struct {
	Footprint *footprint.Result        `json:"footprint"`
	Policy    *policy.EvaluationResult `json:"policy"`
}

// policyRequest is a budget rule supplied with a single request
type policyRequest struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      policy.PolicyType `json:"type"`
	Severity  policy.Severity   `json:"severity"`
	Threshold float64           `json:"threshold"`
}

// maxCustomPolicies bounds the rules accepted per request
const maxCustomPolicies = 20

// customPolicies validates request rules into enabled policies
func customPolicies(reqs []policyRequest) ([]policy.Policy, error) {
	if len(reqs) > maxCustomPolicies {
		return nil, apperrors.NewValidationError("policies", fmt.Sprintf("at most %d policies per request", maxCustomPolicies))
	}
	out := make([]policy.Policy, 0, len(reqs))
	for i, r := range reqs {
		p := policy.Policy{
			ID:        strings.TrimSpace(r.ID),
			Name:      strings.TrimSpace(r.Name),
			Type:      r.Type,
			Severity:  r.Severity,
			Threshold: r.Threshold,
			Enabled:   true,
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("custom-%d", i+1)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type footprintRequest struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Formulas bool            `json:"formulas"`
	Policies []policyRequest `json:"policies"`
}

type adviceRequest struct {
	Question string          `json:"question"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Policies []policyRequest `json:"policies"`
}

type adviceResponse struct {
	*advice.Advice
	Footprint *footprint.Result        `json:"footprint"`
	Policy    *policy.EvaluationResult `json:"policy"`
}

func (s *Server) handleEmissionFactors(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, emission.Factors())
}

// assemble loads everything the user recorded that the period can touch
func (s *Server) assemble(ctx context.Context, userID uuid.UUID, from, to time.Time) (footprint.Input, error) {
	in := footprint.Input{From: from, To: to, Zone: s.config.GridZone}

	var err error
	if in.Vehicles, err = s.store.ListVehicles(ctx, userID); err != nil {
		return in, err
	}
	if in.Trips, err = s.store.ListTrips(ctx, userID, from, to); err != nil {
		return in, err
	}
	if in.Appliances, err = s.store.ListAppliances(ctx, userID); err != nil {
		return in, err
	}
	h, err := s.store.GetHousing(ctx, userID)
	switch {
	case err == nil:
		in.Housing = h
	case !errors.Is(err, records.ErrNotFound):
		return in, err
	}
	if in.Purchases, err = s.store.ListPurchases(ctx, userID, from, to); err != nil {
		return in, err
	}
	if len(in.Purchases) > 0 {
		if in.Products, err = s.store.ListProducts(ctx, ""); err != nil {
			return in, err
		}
	}
	return in, nil
}

// evaluate computes the footprint and runs the budget policies on it,
// including any supplied with the request
func (s *Server) evaluate(ctx context.Context, in footprint.Input, custom []policy.Policy) (*footprintResponse, error) {
	fp, err := s.footprint.Estimate(ctx, in)
	if err != nil {
		return nil, err
	}
	verdict, err := s.policy.Evaluate(ctx, policy.EvaluationRequest{Footprint: fp, CustomPolicies: custom})
	if err != nil {
		return nil, err
	}
	return &footprintResponse{Footprint: fp, Policy: verdict}, nil
}

func (s *Server) handleFootprint(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := parsePeriod(r, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in, err := s.assemble(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.IncludeFormulas = r.URL.Query().Get("formulas") == "true"

	resp, err := s.evaluate(r.Context(), in, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// handleEvaluateFootprint is the POST form of the footprint report, which
// also accepts budget policies for this request only.
func (s *Server) handleEvaluateFootprint(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req footprintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	custom, err := customPolicies(req.Policies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := resolvePeriod(req.From, req.To, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in, err := s.assemble(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.IncludeFormulas = req.Formulas

	resp, err := s.evaluate(r.Context(), in, custom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// handleMonthly reports ledger totals per month and category, over the
// last twelve months unless a period is given.
func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, r, apperrors.NewNotFoundError("emission history"))
		return
	}
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	q := r.URL.Query()
	fromValue, toValue := q.Get("from"), q.Get("to")
	if strings.TrimSpace(fromValue) == "" {
		fromValue = thisMonth.AddDate(0, -11, 0).Format("2006-01-02")
	}
	if strings.TrimSpace(toValue) == "" {
		toValue = thisMonth.AddDate(0, 1, 0).Format(time.RFC3339)
	}
	from, to, err := resolvePeriod(fromValue, toValue, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	totals, err := s.ledger.MonthlyTotals(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"from":   from,
		"to":     to,
		"months": totals,
	})
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.advisor.Configured() {
		AdviceRequests.WithLabelValues("unconfigured").Inc()
		s.writeError(w, r, advice.ErrNotConfigured)
		return
	}
	if !s.limiter.Allow(userID.String()) {
		AdviceRequests.WithLabelValues("rate_limited").Inc()
		s.writeError(w, r, apperrors.NewRateLimitedError())
		return
	}

	var req adviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	custom, err := customPolicies(req.Policies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := resolvePeriod(req.From, req.To, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in, err := s.assemble(r.Context(), userID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fp, err := s.evaluate(r.Context(), in, custom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	answer, err := s.advisor.Advise(r.Context(), advice.Request{
		Footprint: fp.Footprint,
		Policy:    fp.Policy,
		Question:  req.Question,
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) || errors.Is(err, advice.ErrNotConfigured) {
			s.writeError(w, r, err)
			return
		}
		AdviceRequests.WithLabelValues("error").Inc()
		s.writeError(w, r, apperrors.NewAdviceUnavailableError("the advice provider could not answer, try again later"))
		return
	}

	AdviceRequests.WithLabelValues("ok").Inc()
	jsonResponse(w, http.StatusOK, adviceResponse{Advice: answer, Footprint: fp.Footprint, Policy: fp.Policy})
}
