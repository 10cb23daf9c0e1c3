// Package identity resolves the caller of a request from a bearer token.
// Credentials are issued elsewhere; only the signature and claims are checked here.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Caller struct {
	ID   string
	Role types.Role
}

func (c *Caller) IsAdmin() bool {
	return c != nil && c.Role == types.RoleAdmin
}

// Resolver maps an inbound request to a caller.
type Resolver interface {
	Resolve(r *http.Request) (*Caller, error)
}

type claims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver accepts HS256 tokens carrying sub (caller id) and role.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

func (j *JWTResolver) Resolve(r *http.Request) (*Caller, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, ErrUnauthenticated
	}
	return j.Parse(raw)
}

func (j *JWTResolver) Parse(raw string) (*Caller, error) {
	if len(j.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	var c claims
	if _, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return j.secret, nil }, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role := c.Role
	if role != types.RoleAdmin {
		role = types.RoleCustomer
	}
	return &Caller{ID: c.Subject, Role: role}, nil
}

// Issue signs a token for id. Used by billingctl and tests.
func (j *JWTResolver) Issue(id string, role types.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(j.secret)
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller stored by WithCaller, or nil.
func FromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(ctxKey{}).(*Caller)
	return c
}

func newResolver(cfg *cfgpkg.Config) *JWTResolver {
	return NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

var Module = fx.Options(
	fx.Provide(
		newResolver,
		func(j *JWTResolver) Resolver { return j },
	),
)
