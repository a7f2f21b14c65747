// ABOUTME: JWT token verification for authenticating networked bridge requests
// ABOUTME: Uses HS256 signing with configurable secret; tokens may pin the caller's platform

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Issuer is the iss claim of generated tokens.
const Issuer = "coven-tools"

// Identity is the caller a verified token describes.
type Identity struct {
	Subject  string // becomes the tool context UserID
	Platform string // optional; overrides the bridge platform when set
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// claims is the token payload.
type claims struct {
	Platform string `json:"platform,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the caller identity
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(Issuer))

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return &Identity{Subject: c.Subject, Platform: c.Platform}, nil
}

// Generate creates a new JWT token for the identity with expiration
func (v *JWTVerifier) Generate(id Identity, expiresIn time.Duration) (string, error) {
	if id.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := time.Now()
	c := claims{
		Platform: id.Platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(v.secret)
}
