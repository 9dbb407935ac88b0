package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/params"
)

// apiClaims are the token claims the coordinator relies on. Tokens are minted
// by the external auth provider; the coordinator only verifies them.
type apiClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// identity is the authenticated caller of a request.
type identity struct {
	UID           string
	Email         string
	IsCoordinator bool
}

// authed wraps a handler with bearer token verification.
func (s *Service) authed(next func(w http.ResponseWriter, r *http.Request, id *identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, id)
	}
}

func (s *Service) authenticate(r *http.Request) (*identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.Wrap(errs.ErrUnauthenticated, "missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := &apiClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.Wrap(errs.ErrUnauthenticated, "invalid bearer token")
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(errs.ErrUnauthenticated, "token carries no subject")
	}
	return &identity{
		UID:           claims.Subject,
		Email:         claims.Email,
		IsCoordinator: isCoordinator(claims),
	}, nil
}

// isCoordinator grants coordinator rights to an explicit role claim or to a
// verified email under the configured coordinator domain.
func isCoordinator(claims *apiClaims) bool {
	if claims.Role == "coordinator" {
		return true
	}
	domain := params.CoordinatorConfig().EmailDomain
	return domain != "" && strings.HasSuffix(claims.Email, "@"+domain)
}

func requireCoordinator(id *identity) error {
	if !id.IsCoordinator {
		return errors.Wrap(errs.ErrPermissionDenied, "operation requires coordinator rights")
	}
	return nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errs.ErrInvalidArgument, "malformed request body")
	}
	return nil
}
