package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"

	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

// Claims carried by identity tokens. The subject is the numeric user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller's identity. With an empty secret the
// trusted development headers X-User-ID and X-User-Role are accepted instead
// of tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Actor returns the identity of the request.
func (a *Authenticator) Actor(r *http.Request) (models.Actor, error) {
	if len(a.secret) == 0 {
		return actorFromHeaders(r)
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return models.Actor{}, errUnauthenticated
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return models.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return actorFromClaims(claims.Subject, claims.Role)
}

// Sign issues a token for the actor. Used by tooling and tests.
func (a *Authenticator) Sign(actor models.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(actor.UserID, 10)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(actor.Role), RegisteredClaims: claims})
	return t.SignedString(a.secret)
}

func actorFromHeaders(r *http.Request) (models.Actor, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return models.Actor{}, errUnauthenticated
	}
	return actorFromClaims(id, r.Header.Get("X-User-Role"))
}

func actorFromClaims(sub, role string) (models.Actor, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, fmt.Errorf("%w: bad subject %q", errUnauthenticated, sub)
	}
	actor := models.Actor{UserID: id, Role: models.RoleUser}
	switch models.Role(role) {
	case "", models.RoleUser:
	case models.RoleAdmin:
		actor.Role = models.RoleAdmin
	default:
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", errUnauthenticated, role)
	}
	return actor, nil
}

type actorKey struct{}

func withActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the actor stored by the authenticate middleware.
func actorFrom(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}

// authenticate rejects anonymous requests with 401.
func (s *Server) authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		actor, err := s.auth.Actor(r)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			writeStatus(w, http.StatusUnauthorized, apperr.KindForbidden, "authentication required")
			return
		}
		next(w, r.WithContext(withActor(r.Context(), actor)), ps)
	}
}
