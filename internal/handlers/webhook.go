package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/mail"
	"github.com/pawtrait/storefront/internal/payments"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/internal/validation"
	"github.com/pawtrait/storefront/pkg/models"
)

const (
	webhookSignatureHeader = "X-Payment-Signature"
	maxWebhookBodyBytes    = 1 << 20
)

type WebhookHandler struct {
	config  *config.Config
	logger  *logrus.Logger
	orders  *services.OrderService
	ledger  *services.LedgerService
	schemas *validation.SchemaValidator
	mailer  mail.Mailer
}

func NewWebhookHandler(cfg *config.Config, logger *logrus.Logger, orders *services.OrderService, ledger *services.LedgerService, schemas *validation.SchemaValidator, mailer mail.Mailer) *WebhookHandler {
	return &WebhookHandler{
		config:  cfg,
		logger:  logger,
		orders:  orders,
		ledger:  ledger,
		schemas: schemas,
		mailer:  mailer,
	}
}

// HandlePaymentEvent ingests provider callbacks. The signature check runs
// against the raw body before any parsing, and the provider event id keys
// the ledger grant so redelivered events credit an account once.
func (h *WebhookHandler) HandlePaymentEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_BODY",
				"message": "Failed to read request body",
			},
		})
		return
	}

	signature := c.GetHeader(webhookSignatureHeader)
	if !payments.VerifySignature(h.config.Payments.WebhookSecret, body, signature) {
		h.logger.Warn("Rejected payment webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "INVALID_SIGNATURE",
				"message": "Webhook signature verification failed",
			},
		})
		return
	}

	if result := h.schemas.ValidatePaymentEvent(body); !result.Valid {
		h.logger.WithField("errors", result.Errors).Warn("Payment webhook failed schema validation")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Payment event validation failed",
			},
		})
		return
	}

	var event payments.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON format",
			},
		})
		return
	}

	if event.Type == payments.EventCheckoutCompleted {
		if err := h.applyCompletedCheckout(c, &event); err != nil {
			h.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to apply payment event")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Failed to process payment event",
				},
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) applyCompletedCheckout(c *gin.Context, event *payments.WebhookEvent) error {
	ctx := c.Request.Context()
	data := event.Data

	if err := h.orders.RecordPayment(ctx, data.OrderID, data.UserID, data.OrderNumber, data.Email, data.AmountCents); err != nil {
		return err
	}

	credits := data.Credits
	if credits <= 0 {
		credits = h.config.Payments.CreditsPerSKU
	}

	eventID := event.ID
	if err := h.ledger.Grant(ctx, models.OwnerAccount, data.UserID, credits, models.LedgerReasonPurchase, &eventID); err != nil {
		return err
	}

	// Confirmation mail is best effort. The payment is already recorded,
	// so a mail outage must not make the provider retry the event.
	if err := h.mailer.SendOrderConfirmation(ctx, data.Email, data.OrderNumber, credits); err != nil {
		h.logger.WithError(err).WithField("order_number", data.OrderNumber).Warn("Failed to send order confirmation")
	}

	return nil
}
