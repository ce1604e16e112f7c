package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/playbookengine/pkg/config"
)

// principalClaims is the bearer token's claim shape: a principal_id
// subject, nothing else required.
type principalClaims struct {
	jwt.RegisteredClaims
}

// authMiddleware resolves the calling principal from a Bearer JWT
// signed with cfg.SigningKeyEnv's secret. A nil cfg (or an empty
// signing key) disables verification entirely and falls back to the
// teacher's oauth2-proxy header convention, so a reverse proxy can
// still front this service without every deployment needing to mint
// tokens itself.
func authMiddleware(cfg *config.JWTConfig, signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signingKey == "" {
			c.Set(principalContextKey, headerPrincipal(c))
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		principal, err := verifyToken(token, signingKey, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

func verifyToken(token, signingKey string, cfg *config.JWTConfig) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &principalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(signingKey), nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(*principalClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, nil
}

const principalContextKey = "principal_id"

// headerPrincipal extracts a principal id from oauth2-proxy-style
// headers, the teacher's convention (pkg/api/auth.go's extractAuthor)
// for deployments that front this service with a proxy instead of
// minting tokens themselves.
func headerPrincipal(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// principalID returns the principal resolved by authMiddleware.
func principalID(c *gin.Context) string {
	v, _ := c.Get(principalContextKey)
	s, _ := v.(string)
	return s
}
