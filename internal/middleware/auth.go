// Package middleware provides authentication, logging, metrics and rate limiting for the HTTP layer.
package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"projecthub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenIssuer   = "projecthub-api"
	TokenAudience = "projecthub-client"
)

var (
	ErrMissingToken = errors.New("authorization required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AccessClaims are the claims carried by an access token. Subject holds the user id.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the subject as a normalized user id.
func (c *AccessClaims) UserID() models.UserID {
	return models.NormalizeUserID(c.Subject)
}

// IssueAccessToken signs an HS256 token for the user and returns it with its jti.
func IssueAccessToken(secret string, userID models.UserID, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, nil
}

// ParseAccessToken validates signature, expiry, issuer and audience.
func ParseAccessToken(secret, raw string) (*AccessClaims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.UserID().IsNative() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// CurrentUserID returns the authenticated user stored in locals by the auth middleware.
func CurrentUserID(c *fiber.Ctx) (models.UserID, bool) {
	id, ok := c.Locals("userID").(models.UserID)
	return id, ok && !id.IsZero()
}
