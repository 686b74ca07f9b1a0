package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/middleware"
	"github.com/pawtrait/storefront/internal/payments"
	"github.com/pawtrait/storefront/pkg/models"
)

type CheckoutHandler struct {
	logger    *logrus.Logger
	payments  payments.Client
	validator *validator.Validate
}

func NewCheckoutHandler(logger *logrus.Logger, paymentsClient payments.Client) *CheckoutHandler {
	return &CheckoutHandler{
		logger:    logger,
		payments:  paymentsClient,
		validator: validator.New(),
	}
}

// Create opens a provider-hosted checkout session for the signed-in caller.
// Route registration guarantees an account identity is present.
func (h *CheckoutHandler) Create(c *gin.Context) {
	var request models.CheckoutRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.WithError(err).Warn("Invalid JSON in checkout request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON format",
			},
		})
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		h.logger.WithError(err).Warn("Checkout validation failed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Checkout request validation failed",
			},
		})
		return
	}

	identity, ok := middleware.IdentityFromContext(c)
	if !ok || !identity.IsAccount() {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Sign in to purchase credits",
			},
		})
		return
	}

	session, err := h.payments.CreateCheckoutSession(c.Request.Context(), identity.UserID.String(), request.PriceID, request.SuccessURL, request.CancelURL)
	if err != nil {
		h.logger.WithError(err).Error("Payment provider rejected checkout session")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{
				"code":    "CHECKOUT_UNAVAILABLE",
				"message": "Checkout is temporarily unavailable",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.CheckoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	})
}
