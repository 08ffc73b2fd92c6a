package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/substation-core/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	Role        auth.Role `json:"role"`
}

// handleLogin exchanges operator credentials for a bearer token. The
// route does not exist while authentication is disabled.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.secCfg.AuthEnabled {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.countLogin("rejected")
		s.logger.Warn("login rejected", "username", req.Username, "remote", clientIP(r))
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.countLogin("error")
		s.logger.Error("login failed", "username", req.Username, "error", err)
		writeInternalError(w, "authentication failed")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	token, expires, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.countLogin("error")
		s.logger.Error("signing access token", "username", user.Username, "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.countLogin("accepted")
	s.logger.Info("login accepted", "username", user.Username, "role", user.Role, "remote", clientIP(r))
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Round(time.Second).Seconds()),
		Role:        user.Role,
	})
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}
