package models

import (
	"time"
)

type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	OwnerKind OwnerKind `json:"owner_kind" db:"owner_kind"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Delta     int       `json:"delta" db:"delta"`
	Reason    string    `json:"reason" db:"reason"`
	EventID   *string   `json:"event_id,omitempty" db:"event_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const (
	LedgerReasonGeneration = "generation"
	LedgerReasonPurchase   = "purchase"
	LedgerReasonGuestMerge = "guest_merge"
)

type Order struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Number      string    `json:"number" db:"number"`
	Email       string    `json:"email" db:"email"`
	Status      string    `json:"status" db:"status"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type OrderLookupRequest struct {
	Number string `json:"number" validate:"required,min=4,max=32"`
	Email  string `json:"email" validate:"required,email"`
}

type CheckoutRequest struct {
	PriceID    string `json:"price_id" validate:"required,min=1,max=128"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}
