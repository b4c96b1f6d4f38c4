package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedRouter(issuer *TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/heartbeat", NodeAuth(issuer), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node_id": AuthedNodeID(c)})
	})
	return r
}

func TestNodeAuthValidToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("node-42")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authedRouter(issuer).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "node-42")
}

func TestNodeAuthRejections(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	other := NewTokenIssuer("different-secret", time.Hour)
	foreignToken, err := other.Issue("node-42")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc123"},
		{name: "wrong secret", header: "Bearer " + foreignToken},
		{name: "garbage token", header: "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			authedRouter(issuer).ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestNodeAuthDisabled(t *testing.T) {
	issuer := NewTokenIssuer("", time.Hour)
	assert.False(t, issuer.Enabled())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	authedRouter(issuer).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)
	token, err := issuer.Issue("node-42")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authedRouter(issuer).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
