package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/middleware"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

type AuthHandler struct {
	config       *config.Config
	logger       *logrus.Logger
	auth         *services.AuthService
	guestCredits *services.GuestCreditService
	linker       *services.LinkerService
	validator    *validator.Validate
}

func NewAuthHandler(cfg *config.Config, logger *logrus.Logger, auth *services.AuthService, guestCredits *services.GuestCreditService, linker *services.LinkerService) *AuthHandler {
	return &AuthHandler{
		config:       cfg,
		logger:       logger,
		auth:         auth,
		guestCredits: guestCredits,
		linker:       linker,
		validator:    validator.New(),
	}
}

// Login authenticates, issues a session, and merges any guest history into
// the account. The merge is best-effort: its outcome never affects the
// login response.
func (h *AuthHandler) Login(c *gin.Context) {
	var request models.LoginRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON",
			},
		})
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Email and password are required",
			},
		})
		return
	}

	userID, err := h.auth.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_CREDENTIALS",
					"message": "Invalid email or password",
				},
			})
			return
		}
		h.logger.WithError(err).Error("Login failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Login failed",
			},
		})
		return
	}

	token, expiresAt, err := h.auth.GenerateToken(userID, request.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue session token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Login failed",
			},
		})
		return
	}

	h.setSessionCookie(c, token, int(h.config.Auth.SessionTTL.Seconds()))
	h.mergeGuestHistory(c, userID)

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if identity, ok := middleware.IdentityFromContext(c); ok && identity.IsAccount() {
		if err := h.auth.RevokeToken(identity.UserID); err != nil {
			h.logger.WithError(err).Warn("Failed to revoke session")
		}
	}

	h.setSessionCookie(c, "", -1)
	h.guestCredits.ClearOnLogout(c)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LinkGuest merges the cookie-identified guest into the authenticated
// account. Once the caller is authenticated the endpoint always reports
// success: a failed merge is logged and recoverable, a blocked sign-in
// flow is not.
func (h *AuthHandler) LinkGuest(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok || !identity.IsAccount() {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Authentication required",
			},
		})
		return
	}

	h.mergeGuestHistory(c, identity.UserID)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ClearGuestCookies always succeeds; a browser with no guest cookies is
// already in the desired state.
func (h *AuthHandler) ClearGuestCookies(c *gin.Context) {
	h.guestCredits.ClearOnLogout(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// mergeGuestHistory links the cookie's guest id, if any, to the account.
// The guest id is only ever taken from the cookie, never the request body,
// so a caller cannot claim another browser's history.
func (h *AuthHandler) mergeGuestHistory(c *gin.Context, userID uuid.UUID) {
	state, ok := h.guestCredits.Read(c)
	if !ok {
		return
	}

	result := h.linker.LinkGuestToUser(c.Request.Context(), userID, state.GuestID)

	fields := logrus.Fields{
		"guest_id": state.GuestID,
		"outcome":  result.Outcome,
	}

	switch result.Outcome {
	case services.MergeOutcomeFailed:
		h.logger.WithError(result.Err).WithFields(fields).Error("Guest merge failed")
		// Leave the cookies so a later link attempt can retry.
	case services.MergeOutcomeMerged:
		fields["jobs_moved"] = result.JobsMoved
		fields["ledger_moved"] = result.LedgerMoved
		h.logger.WithFields(fields).Info("Guest history merged")
		h.guestCredits.ExpireAfterLink(c)
	default:
		h.logger.WithFields(fields).Debug("No guest history to merge")
		h.guestCredits.ExpireAfterLink(c)
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.config.Auth.SessionCookie, token, maxAge, "/",
		h.config.Guest.CookieDomain, h.config.Guest.CookieSecure, true)
}
