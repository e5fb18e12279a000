package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"erasure-cloud/internal/database"
)

const audience = "erasure-cloud-api"

// JWTManager handles JWT token operations
type JWTManager struct {
	secret              []byte
	issuer              string
	accessTokenDuration time.Duration
	now                 func() time.Time
}

// Claims represents the JWT claims
type Claims struct {
	Email       string                 `json:"email"`
	Kind        database.PrincipalKind `json:"kind"`
	ParentEmail string                 `json:"parent_email,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	Roles       []string               `json:"roles"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret, issuer string, accessDuration time.Duration) *JWTManager {
	if accessDuration <= 0 {
		accessDuration = 12 * time.Hour
	}
	return &JWTManager{
		secret:              []byte(secret),
		issuer:              issuer,
		accessTokenDuration: accessDuration,
		now:                 time.Now,
	}
}

// GenerateAccessToken signs a token for p and returns it with its expiry.
func (m *JWTManager) GenerateAccessToken(p *Principal) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.accessTokenDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:       p.Email,
		Kind:        p.Kind,
		ParentEmail: p.ParentEmail,
		SourceIP:    p.SourceIP,
		Roles:       p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Audience:  []string{audience},
		},
	})

	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns its principal
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	if claims.Kind != database.KindAccount && claims.Kind != database.KindSubaccount {
		return nil, ErrInvalidToken
	}

	return &Principal{
		Email:       claims.Email,
		Kind:        claims.Kind,
		ParentEmail: claims.ParentEmail,
		SourceIP:    claims.SourceIP,
		Roles:       claims.Roles,
	}, nil
}

// GetAccessTokenDuration returns the access token duration in seconds
func (m *JWTManager) GetAccessTokenDuration() int64 {
	return int64(m.accessTokenDuration.Seconds())
}
