package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"costledger/backend/internal/domain"
)

const tokenIssuer = "costledger"

// AuthManager verifies bearer tokens issued by the authentication service. The
// token carries the actor and the tenant every request is scoped to.
type AuthManager struct {
	secret []byte
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

func NewAuthManager(secret string) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	return &AuthManager{secret: []byte(secret)}
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	tenantID := strings.TrimSpace(claims.TenantID)
	if tenantID == "" {
		return domain.Actor{}, errors.New("token has no tenant")
	}
	return domain.Actor{Username: sub, Role: claims.Role, TenantID: tenantID}, nil
}

// IssueToken signs a token for actor. Production tokens come from the
// authentication service; this is used by tooling and tests.
func (a *AuthManager) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
		Role:     actor.Role,
		TenantID: actor.TenantID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
