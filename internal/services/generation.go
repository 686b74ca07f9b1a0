package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/pawtrait/storefront/pkg/models"
)

const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusReady      = "ready"
	GenerationStatusFailed     = "failed"
)

const maxPetNameLength = 255

var ErrGenerationNotFound = errors.New("generation not found")

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == GenerationStatusReady || status == GenerationStatusFailed
}

// GenerationService tracks image-generation jobs from creation through a
// terminal state. Postgres is the durable store; Redis is a read cache in
// front of it, and every Redis failure degrades to the Postgres path.
type GenerationService struct {
	db     DatabaseQuerier
	redis  *redis.Client
	logger *logrus.Logger

	transitions *prometheus.CounterVec
}

func NewGenerationService(db DatabaseQuerier, redisClient *redis.Client, logger *logrus.Logger) *GenerationService {
	gs := &GenerationService{
		db:     db,
		redis:  redisClient,
		logger: logger,
	}

	gs.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_transitions_total",
		Help: "Generation job status transitions",
	}, []string{"status"})

	if err := prometheus.Register(gs.transitions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			gs.transitions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			logger.WithError(err).Warn("Failed to register generation_transitions_total metric")
		}
	}

	return gs
}

func (s *GenerationService) CreateJob(ctx context.Context, owner models.ClientIdentity, req *models.GenerationRequest) (*models.GenerationJob, error) {
	kind, ownerID := owner.OwnerID()
	now := time.Now()

	uploadID, err := uuid.Parse(req.UploadID)
	if err != nil {
		return nil, fmt.Errorf("invalid upload id: %w", err)
	}

	job := &models.GenerationJob{
		ID:        uuid.New(),
		OwnerKind: kind,
		OwnerID:   ownerID,
		Status:    GenerationStatusPending,
		PetName:   NormalizePetName(req.PetName),
		UploadID:  uploadID,
		StyleID:   req.StyleID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO generations (
			id, owner_kind, owner_id, status, pet_name, upload_id, style_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.Exec(ctx, query,
		job.ID, job.OwnerKind, job.OwnerID, job.Status, job.PetName,
		job.UploadID, job.StyleID, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert generation: %w", err)
	}

	if err := s.cacheJob(ctx, job); err != nil {
		s.logger.WithError(err).WithField("generation_id", job.ID).Warn("Failed to cache generation in Redis")
	}

	s.transitions.WithLabelValues(GenerationStatusPending).Inc()
	s.logger.WithFields(logrus.Fields{
		"generation_id": job.ID,
		"owner_kind":    job.OwnerKind,
		"style_id":      job.StyleID,
	}).Info("Generation created")

	return job, nil
}

// GetJob reads current state without side effects on the lifecycle. An
// unknown id yields ErrGenerationNotFound, never a default pending.
func (s *GenerationService) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.getJobFromRedis(ctx, id)
	if err == nil {
		return job, nil
	}

	if err != redis.Nil {
		s.logger.WithError(err).WithField("generation_id", id).Debug("Redis read failed, falling back to Postgres")
	}

	job, err = s.getJobFromPostgres(ctx, id)
	if err != nil {
		return nil, err
	}

	if cacheErr := s.cacheJob(ctx, job); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("generation_id", id).Debug("Failed to restore generation to Redis")
	}

	return job, nil
}

// UpdateMetadata sets or clears the pet name. Descriptive metadata is
// independent of the lifecycle, so terminal jobs accept it too.
func (s *GenerationService) UpdateMetadata(ctx context.Context, id uuid.UUID, petName *string) error {
	name := NormalizePetName(petName)

	query := `UPDATE generations SET pet_name = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to update generation metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGenerationNotFound
	}

	s.invalidateCache(ctx, id)
	return nil
}

// MarkProcessing transitions pending -> processing when the job is handed
// to the provider.
func (s *GenerationService) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE generations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	return s.transition(ctx, id, query, GenerationStatusProcessing, GenerationStatusPending)
}

// MarkReady records provider output and finishes the job. A job already in
// a terminal state is left untouched.
func (s *GenerationService) MarkReady(ctx context.Context, id uuid.UUID, outputURLs []string) error {
	query := `
		UPDATE generations SET status = $2, output_urls = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $5)
	`

	tag, err := s.db.Exec(ctx, query, id, GenerationStatusReady,
		GenerationStatusPending, outputURLs, GenerationStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark generation ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithField("generation_id", id).Debug("Skipped transition on terminal or unknown generation")
		return nil
	}

	s.transitions.WithLabelValues(GenerationStatusReady).Inc()
	s.invalidateCache(ctx, id)
	return nil
}

// MarkFailed finishes the job with an error summary. Provider timeouts land
// here as well.
func (s *GenerationService) MarkFailed(ctx context.Context, id uuid.UUID, summary string) error {
	query := `
		UPDATE generations SET status = $2, error_summary = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $5)
	`

	tag, err := s.db.Exec(ctx, query, id, GenerationStatusFailed,
		GenerationStatusPending, summary, GenerationStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark generation failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithField("generation_id", id).Debug("Skipped transition on terminal or unknown generation")
		return nil
	}

	s.transitions.WithLabelValues(GenerationStatusFailed).Inc()
	s.invalidateCache(ctx, id)
	return nil
}

func (s *GenerationService) transition(ctx context.Context, id uuid.UUID, query, to, from string) error {
	tag, err := s.db.Exec(ctx, query, id, to, from)
	if err != nil {
		return fmt.Errorf("failed to transition generation to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithFields(logrus.Fields{
			"generation_id": id,
			"to":            to,
		}).Debug("Skipped transition on terminal or unknown generation")
		return nil
	}

	s.transitions.WithLabelValues(to).Inc()
	s.invalidateCache(ctx, id)
	return nil
}

// NormalizePetName NFC-normalizes, trims, and caps a user-supplied pet name
// at 255 runes. Absent or empty input clears the name.
func NormalizePetName(petName *string) *string {
	if petName == nil {
		return nil
	}

	name := strings.TrimSpace(norm.NFC.String(*petName))
	if name == "" {
		return nil
	}

	runes := []rune(name)
	if len(runes) > maxPetNameLength {
		name = string(runes[:maxPetNameLength])
	}

	return &name
}

// Redis operations

func (s *GenerationService) cacheJob(ctx context.Context, job *models.GenerationJob) error {
	key := generationCacheKey(job.ID)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal generation: %w", err)
	}

	ttl := time.Duration(0)
	if IsTerminalStatus(job.Status) {
		ttl = 24 * time.Hour
	}

	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache generation: %w", err)
	}
	return nil
}

func (s *GenerationService) getJobFromRedis(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	data, err := s.redis.Get(ctx, generationCacheKey(id)).Result()
	if err != nil {
		return nil, err
	}

	var job models.GenerationJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached generation: %w", err)
	}
	return &job, nil
}

func (s *GenerationService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if err := s.redis.Del(ctx, generationCacheKey(id)).Err(); err != nil {
		s.logger.WithError(err).WithField("generation_id", id).Debug("Failed to invalidate generation cache")
	}
}

func generationCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("generation:%s", id.String())
}

// Postgres operations

func (s *GenerationService) getJobFromPostgres(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `
		SELECT id, owner_kind, owner_id, status, pet_name, upload_id, style_id,
			   output_urls, error_summary, created_at, updated_at
		FROM generations WHERE id = $1
	`

	var job models.GenerationJob
	err := s.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.OwnerKind, &job.OwnerID, &job.Status, &job.PetName,
		&job.UploadID, &job.StyleID, &job.OutputURLs, &job.ErrorSummary,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}

	return &job, nil
}
