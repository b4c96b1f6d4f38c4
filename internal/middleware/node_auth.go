package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// NodeClaims are the claims carried by a node agent token
type NodeClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies node agent tokens. An empty secret disables
// authentication entirely; heartbeats then identify nodes by body only.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether token auth is configured
func (t *TokenIssuer) Enabled() bool { return len(t.secret) > 0 }

// Issue creates a signed token for a node
func (t *TokenIssuer) Issue(nodeID string) (string, error) {
	claims := NodeClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// NodeAuth authenticates node agent requests with a bearer token. When the
// issuer is disabled the request passes through untouched.
func NodeAuth(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !issuer.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &NodeClaims{}, func(token *jwt.Token) (interface{}, error) {
			return issuer.secret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*NodeClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		c.Set("node_id", claims.NodeID)
		c.Next()
	}
}

// AuthedNodeID returns the node id set by NodeAuth, if any
func AuthedNodeID(c *gin.Context) string {
	v, _ := c.Get("node_id")
	id, _ := v.(string)
	return id
}
