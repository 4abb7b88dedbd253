package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permission scopes checked per route.
const (
	PermCreatePreorder    = "crear_preventa"
	PermListPreorders     = "ver_preventas"
	PermGetPreorder       = "ver_preventa_id"
	PermUpdatePreorder    = "actualizar_preventa_id"
	PermDeletePreorder    = "eliminar_preventa_id"
	PermCustomerPreorders = "ver_preventa_cliente"
	PermConfirmDelivery   = "confirmar_entrega_preventa"
	PermViewSales         = "ver_ventas"
	PermViewProducts      = "ver_productos"
	PermAll               = "*"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Actor is the authenticated caller. It is passed explicitly to operations
// that record who performed them.
type Actor struct {
	ID          string
	Permissions []string
}

func (a Actor) Can(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm || p == PermAll {
			return true
		}
	}
	return false
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Claims is the JWT payload. The subject carries the actor id.
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

func (a *Authenticator) Parse(raw string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Actor{ID: claims.Subject, Permissions: claims.Permissions}, nil
}

// Issue signs a token for actor valid for ttl.
func (a *Authenticator) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Permissions: actor.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
