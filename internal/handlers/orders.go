package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

type OrderHandler struct {
	logger    *logrus.Logger
	orders    *services.OrderService
	validator *validator.Validate
}

func NewOrderHandler(logger *logrus.Logger, orders *services.OrderService) *OrderHandler {
	return &OrderHandler{
		logger:    logger,
		orders:    orders,
		validator: validator.New(),
	}
}

// Lookup finds an order by number and email. Both must match so the order
// number alone never exposes another customer's purchase.
func (h *OrderHandler) Lookup(c *gin.Context) {
	var request models.OrderLookupRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.WithError(err).Warn("Invalid JSON in order lookup request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON format",
			},
		})
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		h.logger.WithError(err).Warn("Order lookup validation failed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Order lookup validation failed",
			},
		})
		return
	}

	order, err := h.orders.Lookup(c.Request.Context(), request.Number, request.Email)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Order not found",
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to look up order")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to look up order",
			},
		})
		return
	}

	c.JSON(http.StatusOK, order)
}
