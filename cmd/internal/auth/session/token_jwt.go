package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HabGLH/ecommerce/cmd/identity"
)

// AccessClaims is the identity envelope carried by access tokens:
// enough for the request layer to authorize without a store lookup.
type AccessClaims struct {
	UserID    string
	Role      identity.Role
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenIssuer mints and verifies short-lived signed access
// credentials. Stateless: verification needs only the signing material.
type AccessTokenIssuer interface {
	Issue(user identity.User, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role  identity.Role `json:"role"`
	Email string        `json:"email"`
}

type jwtHS256Issuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTIssuer builds an AccessTokenIssuer signing HS256 JWTs with
// cfg.AccessTokenSecret. The claim set matches what the storefront's
// request layer expects: subject, role, and email.
func NewJWTIssuer(cfg Config) (AccessTokenIssuer, error) {
	secret := strings.TrimSpace(cfg.AccessTokenSecret)
	if secret == "" || cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	return &jwtHS256Issuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(secret),
	}, nil
}

func (m *jwtHS256Issuer) Issue(user identity.User, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:  user.Role,
		Email: user.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *jwtHS256Issuer) Verify(token string, now time.Time) (AccessClaims, error) {
	var claims jwtClaims

	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		UserID: claims.Subject,
		Role:   claims.Role,
		Email:  claims.Email,
		Issuer: claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
