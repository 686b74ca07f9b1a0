package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/pkg/models"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// LedgerService owns the durable credit ledger. Balances are derived as
// SUM(delta) over an owner's rows; consumed history is kept as negative
// entries rather than being erased.
type LedgerService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewLedgerService(db DatabaseQuerier, logger *logrus.Logger) *LedgerService {
	return &LedgerService{
		db:     db,
		logger: logger,
	}
}

func (s *LedgerService) Balance(ctx context.Context, kind models.OwnerKind, ownerID string) (int, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE owner_kind = $1 AND owner_id = $2`

	var balance int
	if err := s.db.QueryRow(ctx, query, kind, ownerID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read ledger balance: %w", err)
	}
	return balance, nil
}

// HasEntries reports whether the owner is known to the ledger at all. Used
// for the two-tier guest check: a guest with no rows is served from the
// cookie alone.
func (s *LedgerService) HasEntries(ctx context.Context, kind models.OwnerKind, ownerID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE owner_kind = $1 AND owner_id = $2)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, kind, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check ledger entries: %w", err)
	}
	return exists, nil
}

// Consume records one spent credit. The insert is guarded on the current
// balance so a retried or raced request cannot drive it below zero.
func (s *LedgerService) Consume(ctx context.Context, kind models.OwnerKind, ownerID, reason string) error {
	query := `
		INSERT INTO credit_ledger (owner_kind, owner_id, delta, reason)
		SELECT $1, $2, -1, $3
		WHERE (SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE owner_kind = $1 AND owner_id = $2) > 0
	`

	tag, err := s.db.Exec(ctx, query, kind, ownerID, reason)
	if err != nil {
		return fmt.Errorf("failed to consume credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// Grant adds credits. When eventID is set the insert is idempotent per
// event, so webhook retries do not double-grant.
func (s *LedgerService) Grant(ctx context.Context, kind models.OwnerKind, ownerID string, delta int, reason string, eventID *string) error {
	query := `
		INSERT INTO credit_ledger (owner_kind, owner_id, delta, reason, event_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query, kind, ownerID, delta, reason, eventID)
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"event_id": eventID,
		}).Debug("Credit grant already applied")
	}
	return nil
}

// RecordSeed writes the guest's starting balance the first time the server
// observes durable activity for a guest id, closing the cookie-tamper gap
// from then on.
func (s *LedgerService) RecordSeed(ctx context.Context, kind models.OwnerKind, ownerID string, credits int) error {
	eventID := fmt.Sprintf("seed:%s:%s", kind, ownerID)
	return s.Grant(ctx, kind, ownerID, credits, "seed", &eventID)
}

// MergeGuest rewrites guest ledger rows to account ownership. The update is
// a no-op once ownership already matches, which is what makes linking safe
// to retry. Consumed history moves with the rows; balances merge additively.
func (s *LedgerService) MergeGuest(ctx context.Context, guestID string, userID string) (int64, error) {
	query := `
		UPDATE credit_ledger
		SET owner_kind = $1, owner_id = $2
		WHERE owner_kind = $3 AND owner_id = $4
	`

	tag, err := s.db.Exec(ctx, query, models.OwnerAccount, userID, models.OwnerGuest, guestID)
	if err != nil {
		return 0, fmt.Errorf("failed to merge guest ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}
