package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/pkg/models"
)

var ErrUploadNotFound = errors.New("upload not found")

type UploadService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewUploadService(db DatabaseQuerier, logger *logrus.Logger) *UploadService {
	return &UploadService{
		db:     db,
		logger: logger,
	}
}

func (s *UploadService) Create(ctx context.Context, owner models.ClientIdentity, imageURL string) (*models.Upload, error) {
	kind, ownerID := owner.OwnerID()

	upload := &models.Upload{
		ID:        uuid.New(),
		OwnerKind: kind,
		OwnerID:   ownerID,
		ImageURL:  imageURL,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO uploads (id, owner_kind, owner_id, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query,
		upload.ID, upload.OwnerKind, upload.OwnerID, upload.ImageURL, upload.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert upload: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"upload_id":  upload.ID,
		"owner_kind": upload.OwnerKind,
	}).Info("Upload recorded")

	return upload, nil
}

func (s *UploadService) Get(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	query := `
		SELECT id, owner_kind, owner_id, image_url, created_at
		FROM uploads WHERE id = $1
	`

	var upload models.Upload
	err := s.db.QueryRow(ctx, query, id).Scan(
		&upload.ID, &upload.OwnerKind, &upload.OwnerID, &upload.ImageURL, &upload.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	return &upload, nil
}
