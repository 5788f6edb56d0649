package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ecotrack/decision/advice"
	"ecotrack/decision/consumption"
	records "ecotrack/pkg/api"
	apperrors "ecotrack/pkg/errors"
	"ecotrack/pkg/platform"
)

// =============================================================================
// HELPERS
// =============================================================================

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err as {"error": {...}} with the matching status
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := s.toAppError(r, err)
	jsonResponse(w, appErr.HTTPStatus(), map[string]*apperrors.AppError{"error": appErr})
}

func (s *Server) toAppError(r *http.Request, err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, records.ErrNotFound):
		return apperrors.NewNotFoundError("record")
	case errors.Is(err, records.ErrConflict):
		return apperrors.NewConflictError("record already exists")
	case errors.Is(err, consumption.ErrDatasetNotFound):
		s.logger.Error().Err(err).Msg("consumption dataset unavailable")
		return apperrors.NewDatasetUnavailableError(err)
	case errors.Is(err, consumption.ErrDatasetUnreadable):
		s.logger.Warn().Err(err).Msg("consumption dataset could not be read")
		appErr = apperrors.NewDatasetUnavailableError(err)
		appErr.Severity = apperrors.SeverityWarning
		appErr.Recoverable = true
		return appErr
	case errors.Is(err, advice.ErrNotConfigured):
		return apperrors.NewAdviceUnavailableError("advice is not configured on this server")
	}

	s.logger.Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")
	return apperrors.NewInternalError()
}

// decodeJSON reads a single JSON document into dst, rejecting unknown fields
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("body", "request body is empty")
		}
		return apperrors.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// currentUser returns the authenticated user ID
func currentUser(r *http.Request) (uuid.UUID, error) {
	subject, ok := platform.SubjectFromContext(r.Context())
	if !ok {
		return uuid.Nil, apperrors.NewUnauthorizedError("not authenticated")
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, apperrors.NewUnauthorizedError("not authenticated")
	}
	return id, nil
}

// pathID parses the {id} URL parameter
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperrors.NewValidationError("id", "must be a UUID")
	}
	return id, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates
func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, apperrors.NewValidationError(field, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}

// parsePeriod reads ?from=&to= and defaults to the current calendar month.
// to is exclusive; a plain date for to includes that whole day.
func parsePeriod(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	return resolvePeriod(q.Get("from"), q.Get("to"), now)
}

func resolvePeriod(fromValue, toValue string, now time.Time) (time.Time, time.Time, error) {
	from, err := parseDate("from", fromValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate("to", toValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	now = now.UTC()
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	} else if len(strings.TrimSpace(toValue)) == len("2006-01-02") {
		to = to.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, apperrors.NewValidationError("to", "must be after from")
	}
	return from, to, nil
}
