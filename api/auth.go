package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	records "ecotrack/pkg/api"
	apperrors "ecotrack/pkg/errors"
	"ecotrack/pkg/platform"
)

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type sessionResponse struct {
	Token string        `json:"token"`
	User  *records.User `json:"user"`
}

// resolveToken maps a bearer token to the user ID, for BearerAuthMiddleware
func (s *Server) resolveToken(ctx context.Context, token string) (string, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return "", platform.ErrInvalidToken
	}
	u, err := s.store.GetUserByToken(ctx, id)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			s.logger.Error().Err(err).Msg("token lookup failed")
		}
		return "", platform.ErrInvalidToken
	}
	return u.ID.String(), nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Email = records.NormalizeEmail(req.Email)
	if err := records.ValidateRegistration(req.Email, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u := &records.User{
		ID:           uuid.New(),
		Email:        req.Email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: string(hash),
		Token:        uuid.New(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, records.ErrConflict) {
			s.writeError(w, r, apperrors.NewConflictError("an account already exists for this email"))
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().Str("user_id", u.ID.String()).Msg("user registered")
	jsonResponse(w, http.StatusCreated, sessionResponse{Token: u.Token.String(), User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	invalid := apperrors.NewUnauthorizedError("invalid email or password")
	u, err := s.store.GetUserByEmail(r.Context(), records.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			s.writeError(w, r, invalid)
			return
		}
		s.writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.writeError(w, r, invalid)
		return
	}

	// A login issues a fresh token and invalidates the previous session.
	u.Token = uuid.New()
	if err := s.store.RotateToken(r.Context(), u.ID, u.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, sessionResponse{Token: u.Token.String(), User: u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.RotateToken(r.Context(), userID, uuid.New()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(platform.BearerToken(r))
	if err != nil {
		s.writeError(w, r, apperrors.NewUnauthorizedError("not authenticated"))
		return
	}
	u, err := s.store.GetUserByToken(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, u)
}
