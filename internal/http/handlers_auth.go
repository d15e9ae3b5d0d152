package http

import (
	"errors"
	"net/http"
	"time"

	"kasa/internal/auth"
	"kasa/internal/log"
)

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Username  string    `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := ParseCredentials(r)
	if err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	user, err := s.auth.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeError(w, r, log.OpRegister, err)
		return
	}
	s.appMetrics.registrations.Add(1)
	s.writeToken(w, r, http.StatusCreated, user.Username)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := ParseCredentials(r)
	if err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	user, err := s.auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.appMetrics.failedLogins.Add(1)
		}
		writeError(w, r, log.OpLogin, err)
		return
	}
	s.appMetrics.logins.Add(1)
	s.writeToken(w, r, http.StatusOK, user.Username)
}

func (s *Server) writeToken(w http.ResponseWriter, r *http.Request, status int, username string) {
	token, expiresAt, err := s.tokens.Issue(username)
	if err != nil {
		writeError(w, r, "issue_token", err)
		return
	}
	JSON(w, status, tokenResponse{Token: token, ExpiresAt: expiresAt, Username: username})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	user, err := s.ledger.Record(r.Context(), username)
	if err != nil {
		writeError(w, r, "me", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"username":  user.Username,
		"createdAt": user.CreatedAt,
	})
}
