// Package auth issues and verifies the bearer tokens the HTTP channel
// accepts. Tokens are stateless HS256 JWTs.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every token.
const Issuer = "conveyr"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrActionDenied  = errors.New("token does not allow action")
	ErrSigningMethod = errors.New("unexpected signing method")
)

// Claims represents the JWT claims of a channel token.
type Claims struct {
	// Actions lists the action ids the token may invoke. Empty allows all.
	Actions []string `json:"actions,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may invoke actionID.
func (c *Claims) Allows(actionID string) bool {
	return len(c.Actions) == 0 || slices.Contains(c.Actions, actionID)
}

// TokenService provides stateless JWT token operations.
// Thread-safe and suitable for concurrent use.
type TokenService struct {
	secret     []byte
	expiration time.Duration
}

// NewTokenService creates a new JWT token service.
// If secret is empty, a random 32-byte secret is generated.
func NewTokenService(secret string, expiration time.Duration) *TokenService {
	var secretBytes []byte
	if secret == "" {
		secretBytes = make([]byte, 32)
		rand.Read(secretBytes)
	} else {
		secretBytes = []byte(secret)
	}

	if expiration == 0 {
		expiration = 24 * time.Hour
	}

	return &TokenService{
		secret:     secretBytes,
		expiration: expiration,
	}
}

// GenerateToken creates a token for subject limited to actions.
func (s *TokenService) GenerateToken(subject string, actions []string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.expiration)

	claims := Claims{
		Actions: actions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return s.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RefreshToken creates a new token with the same subject and actions and
// a fresh expiration.
func (s *TokenService) RefreshToken(tokenString string) (string, time.Time, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.GenerateToken(claims.Subject, claims.Actions)
}

// GenerateSecret generates a random secret suitable for JWT signing.
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
