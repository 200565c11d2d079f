package middleware

import (
	"net/http"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/auth"

	"github.com/gin-gonic/gin"
)

// AccountIDKey is the gin context key the verified account id is stored under.
const AccountIDKey = "accountID"

// AuthMiddleware verifies the bearer token and binds the account id to the
// request context.
func AuthMiddleware(verifier *auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			abortUnauthorized(c, "missing or invalid token")
			return
		}

		accountID, err := verifier.Verify(token)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// AccountID returns the verified account id bound by AuthMiddleware.
func AccountID(c *gin.Context) string {
	return c.GetString(AccountIDKey)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success":    false,
		"statusCode": http.StatusUnauthorized,
		"message":    msg,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
