package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "chatgate"

// Claims holds the JWT token payload. The subject is the user reference
// recorded on sessions.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org"`
	Role  string `json:"role"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token") //nolint:gochecknoglobals // sentinel error

// IssueAccessToken creates a signed HS256 access token.
func IssueAccessToken(secret string, orgID uuid.UUID, userRef, role string, ttl time.Duration) (string, error) {
	if userRef == "" {
		return "", errors.New("auth.IssueAccessToken: empty user reference")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userRef,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		OrgID: orgID.String(),
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueAccessToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("auth.ValidateToken: missing subject: %w", ErrInvalidToken)
	}
	if _, err := uuid.Parse(claims.OrgID); err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: bad org: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Org returns the parsed org id. ValidateToken guarantees it parses.
func (c *Claims) Org() uuid.UUID {
	id, _ := uuid.Parse(c.OrgID)
	return id
}
