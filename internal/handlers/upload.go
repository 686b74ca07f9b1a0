package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/middleware"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

type UploadHandler struct {
	logger       *logrus.Logger
	uploads      *services.UploadService
	guestCredits *services.GuestCreditService
	validator    *validator.Validate
}

func NewUploadHandler(logger *logrus.Logger, uploads *services.UploadService, guestCredits *services.GuestCreditService) *UploadHandler {
	return &UploadHandler{
		logger:       logger,
		uploads:      uploads,
		guestCredits: guestCredits,
		validator:    validator.New(),
	}
}

// Create registers a source image for later generation. Anonymous callers
// get a guest identity minted here so the upload has an owner to merge
// when they later sign in.
func (h *UploadHandler) Create(c *gin.Context) {
	var request models.UploadRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.WithError(err).Warn("Invalid JSON in upload request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON format",
			},
		})
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		h.logger.WithError(err).Warn("Upload validation failed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Upload request validation failed",
			},
		})
		return
	}

	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		state := h.guestCredits.Issue(c)
		identity = models.ClientIdentity{
			Kind:     models.OwnerGuest,
			GuestID:  state.GuestID,
			IssuedAt: state.IssuedAt,
		}
	}

	upload, err := h.uploads.Create(c.Request.Context(), identity, request.ImageURL)
	if err != nil {
		h.logger.WithError(err).Error("Failed to record upload")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "UPLOAD_FAILED",
				"message": "Failed to record upload",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, upload)
}
