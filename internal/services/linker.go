package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/pkg/models"
)

// MergeOutcome classifies one linking attempt. The HTTP layer responds
// success for every variant; MergeFailed is a server-side concern only.
type MergeOutcome string

const (
	MergeOutcomeMerged      MergeOutcome = "merged"
	MergeOutcomeNothingToDo MergeOutcome = "nothing_to_merge"
	MergeOutcomeFailed      MergeOutcome = "merge_failed"
)

type MergeResult struct {
	Outcome     MergeOutcome
	JobsMoved   int64
	LedgerMoved int64
	Err         error
}

// LinkerService migrates a guest identity's generations and consumed-credit
// history onto an authenticated account. The migration is idempotent by
// construction: every step is an ownership rewrite that matches zero rows
// once it has already run, so retries and races cannot double-count.
type LinkerService struct {
	db     DatabaseQuerier
	ledger *LedgerService
	logger *logrus.Logger

	merges *prometheus.CounterVec
}

func NewLinkerService(db DatabaseQuerier, ledger *LedgerService, logger *logrus.Logger) *LinkerService {
	ls := &LinkerService{
		db:     db,
		ledger: ledger,
		logger: logger,
	}

	ls.merges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_merges_total",
		Help: "Guest-to-account merge attempts by outcome",
	}, []string{"outcome"})

	if err := prometheus.Register(ls.merges); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ls.merges = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			logger.WithError(err).Warn("Failed to register guest_merges_total metric")
		}
	}

	return ls
}

// LinkGuestToUser re-parents the guest's generation rows and ledger entries
// to the account. It never returns a Go error: the caller logs the result
// and the surrounding sign-in flow succeeds regardless of outcome.
func (s *LinkerService) LinkGuestToUser(ctx context.Context, userID uuid.UUID, guestID string) MergeResult {
	if guestID == "" {
		return s.done(MergeResult{Outcome: MergeOutcomeNothingToDo})
	}

	jobsMoved, err := s.reparentGenerations(ctx, userID, guestID)
	if err != nil {
		return s.done(MergeResult{Outcome: MergeOutcomeFailed, Err: err})
	}

	ledgerMoved, err := s.ledger.MergeGuest(ctx, guestID, userID.String())
	if err != nil {
		return s.done(MergeResult{
			Outcome:   MergeOutcomeFailed,
			JobsMoved: jobsMoved,
			Err:       err,
		})
	}

	if jobsMoved == 0 && ledgerMoved == 0 {
		return s.done(MergeResult{Outcome: MergeOutcomeNothingToDo})
	}

	return s.done(MergeResult{
		Outcome:     MergeOutcomeMerged,
		JobsMoved:   jobsMoved,
		LedgerMoved: ledgerMoved,
	})
}

func (s *LinkerService) reparentGenerations(ctx context.Context, userID uuid.UUID, guestID string) (int64, error) {
	query := `
		UPDATE generations
		SET owner_kind = $1, owner_id = $2, updated_at = NOW()
		WHERE owner_kind = $3 AND owner_id = $4
	`

	tag, err := s.db.Exec(ctx, query, models.OwnerAccount, userID.String(), models.OwnerGuest, guestID)
	if err != nil {
		return 0, fmt.Errorf("failed to re-parent generations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *LinkerService) done(result MergeResult) MergeResult {
	s.merges.WithLabelValues(string(result.Outcome)).Inc()
	return result
}
