package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// GenerateOperatorToken mints a token accepted by the admin endpoints of a
// server configured with the same secret. Used by provisioning tooling.
func GenerateOperatorToken(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	return newAuthService(secret, ttl).GenerateToken(operator)
}

// operatorClaims are the token claims for stake-administration endpoints.
type operatorClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

type authService struct {
	secret        []byte
	tokenDuration time.Duration
}

func newAuthService(secret string, tokenDuration time.Duration) *authService {
	if secret == "" {
		// No configured secret: generate one so unauthenticated calls
		// always fail rather than passing trivially.
		b := make([]byte, 32)
		rand.Read(b)
		secret = hex.EncodeToString(b)
	}
	return &authService{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// GenerateToken mints an operator token. Exposed for provisioning tooling.
func (a *authService) GenerateToken(operator string) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "gridmesh-coordinator",
			Subject:   operator,
		},
		Operator: operator,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (a *authService) validateToken(tokenString string) (*operatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &operatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims, ok := token.Claims.(*operatorClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// Middleware validates the Authorization header on protected routes.
func (a *authService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or malformed authorization header",
			})
			c.Abort()
			return
		}
		claims, err := a.validateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid token",
			})
			c.Abort()
			return
		}
		c.Set("operator", claims.Operator)
		c.Next()
	}
}
