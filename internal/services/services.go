package services

import (
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/database"
)

// Services wires every domain service against the shared database handle.
type Services struct {
	Auth         *AuthService
	Health       *HealthService
	Admission    *AdmissionController
	GuestCredits *GuestCreditService
	Ledger       *LedgerService
	Linker       *LinkerService
	Generations  *GenerationService
	Uploads      *UploadService
	Orders       *OrderService
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	ledger := NewLedgerService(db.PG, logger)

	return &Services{
		Auth:         NewAuthService(cfg, logger, db.PG, db.Redis),
		Health:       NewHealthService(cfg, logger, db),
		Admission:    NewAdmissionController(&cfg.RateLimit, logger),
		GuestCredits: NewGuestCreditService(&cfg.Guest, logger),
		Ledger:       ledger,
		Linker:       NewLinkerService(db.PG, ledger, logger),
		Generations:  NewGenerationService(db.PG, db.Redis, logger),
		Uploads:      NewUploadService(db.PG, logger),
		Orders:       NewOrderService(db.PG, logger),
	}, nil
}
