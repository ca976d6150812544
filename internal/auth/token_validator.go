package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix = "Bearer "
	// AccessTokenQuery carries the token for clients that cannot set headers,
	// such as browser EventSource streams.
	AccessTokenQuery = "access_token"
)

var (
	ErrMissingValidatorSecret = errors.New("token validator: signing key required")
	ErrMissingValidatorIssuer = errors.New("token validator: issuer and audience required")
	ErrMissingToken           = errors.New("token validator: token required")
	ErrInvalidToken           = errors.New("token validator: invalid token")
	ErrExpiredToken           = errors.New("token validator: token expired")
	ErrMissingSubject         = errors.New("token validator: subject required")
	ErrForbiddenRole          = errors.New("token validator: role not permitted")
)

// TokenValidatorConfig describes how to validate operator tokens.
type TokenValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// TokenValidator validates HS256 operator tokens.
type TokenValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingValidatorSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	if issuer == "" || audience == "" {
		return nil, ErrMissingValidatorIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *TokenValidator) ValidateToken(tokenString string) (OperatorClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return OperatorClaims{}, ErrMissingToken
	}

	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return OperatorClaims{}, ErrExpiredToken
		}
		return OperatorClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return OperatorClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return OperatorClaims{}, ErrMissingSubject
	}
	if claims.Role != RoleOperator {
		return OperatorClaims{}, ErrForbiddenRole
	}
	return *claims, nil
}

// ValidateRequest reads the bearer token from the Authorization header, or
// from the access_token query parameter when no header is present.
func (v *TokenValidator) ValidateRequest(r *http.Request) (OperatorClaims, error) {
	if r == nil {
		return OperatorClaims{}, ErrMissingToken
	}
	header := r.Header.Get("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return OperatorClaims{}, ErrMissingToken
		}
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	return v.ValidateToken(r.URL.Query().Get(AccessTokenQuery))
}
