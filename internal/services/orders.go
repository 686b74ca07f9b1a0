package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/pkg/models"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewOrderService(db DatabaseQuerier, logger *logrus.Logger) *OrderService {
	return &OrderService{
		db:     db,
		logger: logger,
	}
}

// Lookup finds an order by its number and the purchaser email. Both must
// match; a miss is indistinguishable from a wrong email on purpose.
func (s *OrderService) Lookup(ctx context.Context, number, email string) (*models.Order, error) {
	query := `
		SELECT id, user_id, number, email, status, amount_cents, created_at
		FROM orders WHERE number = $1 AND email = $2
	`

	var order models.Order
	err := s.db.QueryRow(ctx, query, number, email).Scan(
		&order.ID, &order.UserID, &order.Number, &order.Email,
		&order.Status, &order.AmountCents, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}

	return &order, nil
}

// RecordPayment upserts the order row for a completed checkout event. The
// insert is keyed on the provider's order id, so webhook retries are no-ops.
func (s *OrderService) RecordPayment(ctx context.Context, orderID, userID, number, email string, amountCents int64) error {
	query := `
		INSERT INTO orders (id, user_id, number, email, status, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, 'paid', $5, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query, orderID, userID, number, email, amountCents)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithField("order_id", orderID).Debug("Payment already recorded")
	}
	return nil
}
