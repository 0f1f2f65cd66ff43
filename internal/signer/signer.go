package signer

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/furchert/authd/internal/common/config"
)

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrEmptySecretKey   = errors.New("secret key cannot be empty")
	ErrWeakSecretKey    = errors.New("secret key must be at least 32 characters")
	ErrInvalidDuration  = errors.New("token ttl must be positive")
)

// Claims is the payload embedded in minted access tokens. The registered
// ID claim (jti) equals the AuthorizationRecord ID it was minted for.
type Claims struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies signed access tokens. Key material is loaded
// once at construction and held for the process lifetime; there is no
// in-process rotation.
type Signer struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// New creates a signer from configuration.
func New(cfg config.SignerConfig) (*Signer, error) {
	if cfg.SecretKey == "" {
		return nil, ErrEmptySecretKey
	}
	if len(cfg.SecretKey) < 32 {
		return nil, ErrWeakSecretKey
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Signer{
		secretKey: []byte(cfg.SecretKey),
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
	}, nil
}

// Mint generates a signed token for the subject. The jti is a fresh UUID
// (122 random bits) and is returned through the claims so the caller can
// correlate the token with its authorization record.
func (s *Signer) Mint(subject, clientID string, scopes []string) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		ClientID: clientID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify validates a token string and returns its claims. Expiry is
// checked even when the signature is valid, so a stale token reports
// ErrExpired rather than ErrInvalidSignature.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secretKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrInvalidSignature
		}
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidSignature
}

// TTL returns the access token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}
