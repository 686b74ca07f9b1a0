package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/mail"
	"github.com/pawtrait/storefront/internal/messaging"
	"github.com/pawtrait/storefront/internal/payments"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/internal/validation"
)

type Handlers struct {
	Health     *HealthHandler
	Auth       *AuthHandler
	Generation *GenerationHandler
	Upload     *UploadHandler
	Checkout   *CheckoutHandler
	Order      *OrderHandler
	Webhook    *WebhookHandler
}

func New(cfg *config.Config, logger *logrus.Logger, svc *services.Services, bus *messaging.MessageBus, paymentsClient payments.Client, mailer mail.Mailer, schemas *validation.SchemaValidator) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(logger, svc.Health),
		Auth:       NewAuthHandler(cfg, logger, svc.Auth, svc.GuestCredits, svc.Linker),
		Generation: NewGenerationHandler(cfg, logger, svc.Generations, svc.GuestCredits, svc.Ledger, bus),
		Upload:     NewUploadHandler(logger, svc.Uploads, svc.GuestCredits),
		Checkout:   NewCheckoutHandler(logger, paymentsClient),
		Order:      NewOrderHandler(logger, svc.Orders),
		Webhook:    NewWebhookHandler(cfg, logger, svc.Orders, svc.Ledger, schemas, mailer),
	}
}
