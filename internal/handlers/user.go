package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trigrid/trigrid/internal/auth"
	"github.com/trigrid/trigrid/internal/models"
)

const authCookie = "auth_token"

// CreateUserHandler registers a permanent account. Fresh accounts start at
// the provisional baseline rating.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		http.Error(w, "email, password and username are required", http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.Logger.WithError(err).Error("password hash failed")
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	user := models.User{
		Email:       req.Email,
		Password:    hash,
		Username:    req.Username,
		Rating:      1500,
		Deviation:   350,
		Volatility:  0.06,
		Provisional: true,
	}
	if err := s.Users.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email or username already exists", http.StatusConflict)
			return
		}
		s.Logger.WithError(err).Error("create user failed")
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	user.Password = ""
	writeJSON(w, http.StatusCreated, user)
}

// LoginHandler verifies credentials and issues the session cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	user, err := s.Users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	ok, err := auth.VerifyPassword(req.Password, user.Password)
	if err != nil || !ok {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	token, err := auth.IssueToken(user.ID, user.Username)
	if err != nil {
		s.Logger.WithError(err).Error("token issue failed")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ensureIdentity resolves the caller's account from the session cookie,
// minting an ephemeral guest (and its cookie) for anonymous visitors so
// every viewer has an identity.
func (s *Server) ensureIdentity(w http.ResponseWriter, r *http.Request) (*models.User, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), authCookie)
	if token != "" {
		if userID, _, err := auth.VerifyToken(token); err == nil {
			if user, err := s.Users.GetUser(r.Context(), userID); err == nil {
				return user, nil
			}
		}
	}
	guest, err := s.Users.EnsureEphemeralUser(r.Context())
	if err != nil {
		return nil, err
	}
	newToken, err := auth.IssueToken(guest.ID, guest.Username)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    newToken,
		HttpOnly: true,
		Path:     "/",
	})
	return guest, nil
}
