package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type GenerationJob struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OwnerKind    OwnerKind `json:"owner_kind" db:"owner_kind"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	Status       string    `json:"status" db:"status"`
	PetName      *string   `json:"pet_name,omitempty" db:"pet_name"`
	UploadID     uuid.UUID `json:"upload_id" db:"upload_id"`
	StyleID      string    `json:"style_id" db:"style_id"`
	OutputURLs   []string  `json:"output_urls,omitempty" db:"output_urls"`
	ErrorSummary *string   `json:"error_summary,omitempty" db:"error_summary"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type GenerationRequest struct {
	UploadID string  `json:"upload_id" validate:"required,uuid4"`
	StyleID  string  `json:"style_id" validate:"required,min=1,max=64"`
	PetName  *string `json:"pet_name,omitempty"`
}

type GenerationResponse struct {
	ID      uuid.UUID `json:"id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

type GenerationStatusResponse struct {
	ID           uuid.UUID `json:"id"`
	Status       string    `json:"status"`
	PetName      *string   `json:"pet_name,omitempty"`
	OutputURLs   []string  `json:"output_urls,omitempty"`
	ErrorSummary *string   `json:"error_summary,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateGenerationRequest uses the camelCase key the storefront frontend
// already sends. A petName of any non-string type clears the stored name,
// matching how the frontend resets the field.
type UpdateGenerationRequest struct {
	PetName *string `json:"petName"`
}

func (r *UpdateGenerationRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		PetName json.RawMessage `json:"petName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.PetName = nil
	if len(raw.PetName) > 0 {
		var name string
		if err := json.Unmarshal(raw.PetName, &name); err == nil {
			r.PetName = &name
		}
	}

	return nil
}

type Upload struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerKind OwnerKind `json:"owner_kind" db:"owner_kind"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	ImageURL  string    `json:"image_url" db:"image_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UploadRequest struct {
	ImageURL string `json:"image_url" validate:"required,url,max=2048"`
}
