package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

const identityKey = "client_identity"

// Identity resolves the caller for every request: a valid session wins,
// otherwise the guest cookie, otherwise nothing. It never rejects; handlers
// that need an account use RequireSession on top.
func Identity(cfg *config.AuthConfig, authService *services.AuthService, guestCredits *services.GuestCreditService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := sessionToken(c, cfg); token != "" {
			claims, err := authService.ValidateToken(token)
			if err == nil {
				c.Set(identityKey, models.ClientIdentity{
					Kind:   models.OwnerAccount,
					UserID: claims.UserID,
				})
				c.Next()
				return
			}
			logger.WithError(err).Debug("Invalid session token")
		}

		if state, ok := guestCredits.Read(c); ok {
			c.Set(identityKey, models.ClientIdentity{
				Kind:     models.OwnerGuest,
				GuestID:  state.GuestID,
				IssuedAt: state.IssuedAt,
			})
		}

		c.Next()
	}
}

// RequireSession rejects requests without an authenticated account.
func RequireSession(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		if !ok || !identity.IsAccount() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Authentication required",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFromContext returns the resolved caller identity, if any.
func IdentityFromContext(c *gin.Context) (models.ClientIdentity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return models.ClientIdentity{}, false
	}
	identity, ok := value.(models.ClientIdentity)
	return identity, ok
}

// sessionToken reads the session JWT from the cookie or, failing that, a
// bearer Authorization header.
func sessionToken(c *gin.Context, cfg *config.AuthConfig) string {
	if cookie, err := c.Cookie(cfg.SessionCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
