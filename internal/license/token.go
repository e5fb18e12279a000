package license

import (
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid        = errors.New("invalid license token")
	ErrTokenExpired        = errors.New("license token has expired")
	ErrFingerprintMismatch = errors.New("hardware fingerprint does not match")
	ErrSigningDisabled     = errors.New("license signing key is not configured")
)

// TokenClaims binds a license to one machine fingerprint.
type TokenClaims struct {
	LicenseKey  string `json:"lk"`
	Fingerprint string `json:"fp"`
	Edition     string `json:"ed"`
	jwt.RegisteredClaims
}

// Signer issues RS256 tokens with the server's private key.
type Signer struct {
	key    *rsa.PrivateKey
	issuer string
	now    func() time.Time
}

// NewSigner creates a signer. A nil clock uses time.Now.
func NewSigner(key *rsa.PrivateKey, issuer string, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{key: key, issuer: issuer, now: now}
}

// LoadSigner reads a PEM encoded RSA private key.
func LoadSigner(path, issuer string) (*Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read license private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse license private key: %w", err)
	}
	return NewSigner(key, issuer, nil), nil
}

// Verifier returns a verifier for the signer's public key.
func (s *Signer) Verifier() *Verifier {
	return NewVerifier(&s.key.PublicKey, s.issuer, s.now)
}

// Issue signs a token binding key, fingerprint and edition until expiresAt.
func (s *Signer) Issue(key, fingerprint string, edition Edition, expiresAt time.Time) (string, error) {
	now := s.now()
	return s.sign(TokenClaims{
		LicenseKey:  key,
		Fingerprint: fingerprint,
		Edition:     string(edition),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign license token: %w", err)
	}
	return signed, nil
}

// Verifier checks tokens with only the public key and no database.
type Verifier struct {
	key    *rsa.PublicKey
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier. A nil clock uses time.Now.
func NewVerifier(key *rsa.PublicKey, issuer string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{key: key, issuer: issuer, now: now}
}

// LoadVerifier reads a PEM encoded RSA public key.
func LoadVerifier(path, issuer string) (*Verifier, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read license public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse license public key: %w", err)
	}
	return NewVerifier(key, issuer, nil), nil
}

// Verify checks the signature and expiry of token, then re-derives the
// fingerprint from hw and compares it with the bound one.
func (v *Verifier) Verify(token string, hw HardwareInfo) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if err := v.parse(token, claims); err != nil {
		return nil, err
	}

	fp, err := hw.Fingerprint()
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(fp), []byte(claims.Fingerprint)) != 1 {
		return nil, ErrFingerprintMismatch
	}
	return claims, nil
}

func (v *Verifier) parse(token string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}
