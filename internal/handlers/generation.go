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

// DispatchPublisher enqueues accepted generation jobs for asynchronous
// processing. Satisfied by messaging.MessageBus.
type DispatchPublisher interface {
	PublishDispatch(generationID, uploadID uuid.UUID, styleID string) error
}

type GenerationHandler struct {
	config       *config.Config
	logger       *logrus.Logger
	generations  *services.GenerationService
	guestCredits *services.GuestCreditService
	ledger       *services.LedgerService
	bus          DispatchPublisher
	validator    *validator.Validate
}

func NewGenerationHandler(cfg *config.Config, logger *logrus.Logger, generations *services.GenerationService, guestCredits *services.GuestCreditService, ledger *services.LedgerService, bus DispatchPublisher) *GenerationHandler {
	return &GenerationHandler{
		config:       cfg,
		logger:       logger,
		generations:  generations,
		guestCredits: guestCredits,
		ledger:       ledger,
		bus:          bus,
		validator:    validator.New(),
	}
}

// Create runs after admission control: resolve the caller (minting a guest
// identity when there is none), authorize and consume a credit, persist the
// pending job, and enqueue dispatch. The credit check always happens before
// anything is published.
func (h *GenerationHandler) Create(c *gin.Context) {
	var request models.GenerationRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.WithError(err).Warn("Invalid JSON in generation request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON format",
			},
		})
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		h.logger.WithError(err).Warn("Generation validation failed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Generation request validation failed",
			},
		})
		return
	}

	// A freshly minted guest only has its cookies in the response, not the
	// request, so the issued state is carried forward instead of re-read.
	identity, ok := middleware.IdentityFromContext(c)
	var guestState models.GuestCreditState
	if !ok {
		guestState = h.guestCredits.Issue(c)
		identity = models.ClientIdentity{
			Kind:     models.OwnerGuest,
			GuestID:  guestState.GuestID,
			IssuedAt: guestState.IssuedAt,
		}
	} else if identity.IsGuest() {
		guestState, _ = h.guestCredits.Read(c)
	}

	if !h.authorizeCredit(c, identity, guestState) {
		return
	}

	job, err := h.generations.CreateJob(c.Request.Context(), identity, &request)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create generation")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "GENERATION_CREATE_FAILED",
				"message": "Failed to create generation",
			},
		})
		return
	}

	if err := h.bus.PublishDispatch(job.ID, job.UploadID, job.StyleID); err != nil {
		h.logger.WithError(err).WithField("generation_id", job.ID).Error("Failed to enqueue generation dispatch")

		if failErr := h.generations.MarkFailed(c.Request.Context(), job.ID, "failed to queue generation"); failErr != nil {
			h.logger.WithError(failErr).WithField("generation_id", job.ID).Error("Failed to mark generation failed")
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "DISPATCH_QUEUE_FAILED",
				"message": "Failed to queue generation for processing",
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, models.GenerationResponse{
		ID:      job.ID,
		Status:  job.Status,
		Message: "Generation queued for processing",
	})
}

// authorizeCredit consumes one credit for the caller, writing the denial
// response itself when the balance is exhausted. For guests the durable
// ledger is authoritative as soon as it knows the guest id; guestState
// (read from the request cookies, or just issued) only serves callers the
// store has never seen.
func (h *GenerationHandler) authorizeCredit(c *gin.Context, identity models.ClientIdentity, guestState models.GuestCreditState) bool {
	ctx := c.Request.Context()
	kind, ownerID := identity.OwnerID()

	if identity.IsGuest() {
		known, err := h.ledger.HasEntries(ctx, kind, ownerID)
		if err != nil {
			h.storeFailure(c, err)
			return false
		}

		if !known {
			if guestState.CreditsRemaining <= 0 {
				h.insufficientCredits(c)
				return false
			}
			// First durable sighting of this guest: seed the ledger with
			// the issuance balance, never the cookie's claim.
			if err := h.ledger.RecordSeed(ctx, kind, ownerID, h.config.Guest.DefaultCredits); err != nil {
				h.storeFailure(c, err)
				return false
			}
		}
	}

	if err := h.ledger.Consume(ctx, kind, ownerID, models.LedgerReasonGeneration); err != nil {
		if errors.Is(err, services.ErrInsufficientCredits) {
			h.insufficientCredits(c)
			return false
		}
		h.storeFailure(c, err)
		return false
	}

	if identity.IsGuest() && guestState.GuestID != "" {
		h.guestCredits.Decrement(c, guestState)
	}

	return true
}

func (h *GenerationHandler) insufficientCredits(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{
		"error": gin.H{
			"code":    "INSUFFICIENT_CREDITS",
			"message": "No credits remaining",
		},
	})
}

func (h *GenerationHandler) storeFailure(c *gin.Context, err error) {
	h.logger.WithError(err).Error("Credit check failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to authorize request",
		},
	})
}

// GetStatus reports current job state. Unknown ids are a 404, never a
// default pending, so callers can tell a bad id from a slow job.
func (h *GenerationHandler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Generation not found",
			},
		})
		return
	}

	job, err := h.generations.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Generation not found",
				},
			})
			return
		}
		h.logger.WithError(err).WithField("generation_id", id).Error("Failed to load generation")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to load generation",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.GenerationStatusResponse{
		ID:           job.ID,
		Status:       job.Status,
		PetName:      job.PetName,
		OutputURLs:   job.OutputURLs,
		ErrorSummary: job.ErrorSummary,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	})
}

// UpdateMetadata edits descriptive fields only, so it is valid in any
// lifecycle state including terminal ones.
func (h *GenerationHandler) UpdateMetadata(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Generation not found",
			},
		})
		return
	}

	var request models.UpdateGenerationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JSON",
				"message": "Invalid JSON",
			},
		})
		return
	}

	if err := h.generations.UpdateMetadata(c.Request.Context(), id, request.PetName); err != nil {
		if errors.Is(err, services.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Generation not found",
				},
			})
			return
		}
		h.logger.WithError(err).WithField("generation_id", id).Error("Failed to update generation metadata")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update generation",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
