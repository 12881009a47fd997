package mockapi

import (
	"net/http"
	"strings"
	"time"

	"feedline/internal/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const ctxUserID = "user_id"

func (s *Server) key() []byte {
	s.secretMu.RLock()
	defer s.secretMu.RUnlock()
	return s.secret
}

// IssueToken signs an access token for userID.
func (s *Server) IssueToken(userID types.ID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		Issuer:    "feedline-mock",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key())
}

// RotateSecret invalidates every issued token.
func (s *Server) RotateSecret(secret []byte) {
	s.secretMu.Lock()
	s.secret = secret
	s.secretMu.Unlock()
}

func (s *Server) parseToken(raw string) (types.ID, bool) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return s.key(), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return "", false
	}
	return types.ID(claims.Subject), true
}

// requireAuth validates the bearer token. WebSocket clients that cannot
// set headers may pass it as ?access_token=.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := ""
		if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		} else if q := c.QueryParam("access_token"); q != "" {
			raw = q
		}
		if raw == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
		}
		id, ok := s.parseToken(raw)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		s.db.mu.Lock()
		_, exists := s.db.users[id]
		s.db.mu.Unlock()
		if !exists {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown user"})
		}
		c.Set(ctxUserID, id)
		return next(c)
	}
}

func currentUser(c echo.Context) types.ID {
	id, _ := c.Get(ctxUserID).(types.ID)
	return id
}

func (s *Server) token(c echo.Context) error {
	if c.FormValue("grant_type") != "password" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported_grant_type"})
	}
	s.db.mu.Lock()
	id, ok := s.db.authenticate(c.FormValue("username"), c.FormValue("password"))
	s.db.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	tok, err := s.IssueToken(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(s.ttl / time.Second),
	})
}
