package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// accountIDKey is the gin context key the identity middleware sets.
const accountIDKey = "account_id"

// IdentityConfig maps API keys to the account they act for. Account
// creation and credential issuance happen outside this service; the core
// only needs a trustworthy owner id per management request.
type IdentityConfig struct {
	// Keys maps an API key to an account id.
	Keys map[string]int64
	// HeaderName is the header carrying the key (default: X-API-Key).
	HeaderName string
}

// Identity authenticates management requests by API key and stores the
// resolved account id in the request context.
type Identity struct {
	config IdentityConfig
}

func NewIdentity(config IdentityConfig) *Identity {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &Identity{config: config}
}

func (id *Identity) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(id.config.HeaderName)

		// Authorization: Bearer is accepted as a fallback.
		if apiKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "An API key is required via the X-API-Key header or Authorization: Bearer",
			})
			c.Abort()
			return
		}

		// Constant-time comparison against every known key.
		var accountID int64
		valid := false
		for key, owner := range id.config.Keys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				valid = true
				accountID = owner
				break
			}
		}

		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set(accountIDKey, accountID)
		c.Next()
	}
}

// AccountIDFromContext returns the account id set by the identity
// middleware.
func AccountIDFromContext(c *gin.Context) (int64, bool) {
	v, exists := c.Get(accountIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
