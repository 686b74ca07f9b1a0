package models

import (
	"time"

	"github.com/google/uuid"
)

type OwnerKind string

const (
	OwnerGuest   OwnerKind = "guest"
	OwnerAccount OwnerKind = "account"
)

// ClientIdentity is the resolved caller of a request: an authenticated
// account, an anonymous guest tracked by a cookie token, or neither.
type ClientIdentity struct {
	Kind     OwnerKind
	UserID   uuid.UUID // valid when Kind == OwnerAccount
	GuestID  string    // valid when Kind == OwnerGuest
	IssuedAt time.Time
}

func (id ClientIdentity) IsAccount() bool { return id.Kind == OwnerAccount }
func (id ClientIdentity) IsGuest() bool   { return id.Kind == OwnerGuest }

// OwnerID returns the identity as a (kind, id) pair suitable for row
// ownership columns.
func (id ClientIdentity) OwnerID() (OwnerKind, string) {
	if id.IsAccount() {
		return OwnerAccount, id.UserID.String()
	}
	return OwnerGuest, id.GuestID
}

// GuestCreditState is the cookie-resident balance for anonymous callers.
// The browser holds the only copy; the server treats it as advisory and
// defers to the durable ledger whenever a row exists for the guest id.
type GuestCreditState struct {
	GuestID          string
	CreditsRemaining int
	IssuedAt         time.Time
}
