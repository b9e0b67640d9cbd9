package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// APITokenClaims scope a staff API token to one tenant.
type APITokenClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Scope    string `json:"scope"`
}

type APITokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewAPITokenManager(signingKey []byte, ttl time.Duration) *APITokenManager {
	return &APITokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *APITokenManager) Generate(tenantID uuid.UUID, role string) (string, error) {
	claims := APITokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   tenantID.String(),
			Issuer:    "cajaflow",
		},
		TenantID: tenantID.String(),
		Role:     role,
		Scope:    "payments,credentials,events",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *APITokenManager) Validate(tokenString string) (*APITokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &APITokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*APITokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *APITokenClaims) HasScope(required string) bool {
	scopes := strings.Split(c.Scope, ",")
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}
