package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/pkg/models"
)

// GuestCreditService manages the cookie-resident credit balance for
// anonymous callers. The cookie is advisory: once a ledger row exists for a
// guest id, the durable ledger is authoritative and the cookie is only the
// fast path for brand-new guests.
type GuestCreditService struct {
	config *config.GuestConfig
	logger *logrus.Logger
}

func NewGuestCreditService(cfg *config.GuestConfig, logger *logrus.Logger) *GuestCreditService {
	return &GuestCreditService{
		config: cfg,
		logger: logger,
	}
}

// Read parses the guest cookies from the request. ok is false when no guest
// id cookie is present or its value is unusable.
func (s *GuestCreditService) Read(c *gin.Context) (models.GuestCreditState, bool) {
	guestID, err := c.Cookie(s.config.IDCookie)
	if err != nil || guestID == "" {
		return models.GuestCreditState{}, false
	}

	state := models.GuestCreditState{
		GuestID:          guestID,
		CreditsRemaining: 0,
	}

	raw, err := c.Cookie(s.config.CreditsCookie)
	if err != nil {
		return state, true
	}

	credits, issuedAt := parseCreditsValue(raw)
	if credits < 0 {
		credits = 0
	}
	state.CreditsRemaining = credits
	state.IssuedAt = issuedAt

	return state, true
}

// Issue mints a fresh guest identity with the default credit balance and
// writes both cookies.
func (s *GuestCreditService) Issue(c *gin.Context) models.GuestCreditState {
	state := models.GuestCreditState{
		GuestID:          uuid.NewString(),
		CreditsRemaining: s.config.DefaultCredits,
		IssuedAt:         time.Now(),
	}

	s.write(c, state)

	s.logger.WithFields(logrus.Fields{
		"guest_id": state.GuestID,
		"credits":  state.CreditsRemaining,
	}).Debug("Issued guest identity")

	return state
}

// Decrement records one consumed credit in the cookie. The floor is zero;
// the authoritative check happens against the ledger before dispatch.
func (s *GuestCreditService) Decrement(c *gin.Context, state models.GuestCreditState) models.GuestCreditState {
	if state.CreditsRemaining > 0 {
		state.CreditsRemaining--
	}
	s.write(c, state)
	return state
}

// ClearOnLogout deletes both guest cookies so the browser starts over as a
// first-time visitor rather than keeping a stale pre-auth balance.
func (s *GuestCreditService) ClearOnLogout(c *gin.Context) {
	s.clear(c)
}

// ExpireAfterLink deletes both guest cookies once a merge has succeeded,
// preventing reuse of the already-merged guest identity.
func (s *GuestCreditService) ExpireAfterLink(c *gin.Context) {
	s.clear(c)
}

func (s *GuestCreditService) write(c *gin.Context, state models.GuestCreditState) {
	maxAge := int(s.config.CookieMaxAge.Seconds())

	// Legacy bare-integer cookies parse with a zero issued time; stamp now
	// instead of serializing the zero value's negative epoch.
	issuedAt := state.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	value := fmt.Sprintf("%d|%d", state.CreditsRemaining, issuedAt.Unix())

	s.setCookie(c, s.config.IDCookie, state.GuestID, maxAge)
	s.setCookie(c, s.config.CreditsCookie, value, maxAge)
}

func (s *GuestCreditService) clear(c *gin.Context) {
	s.setCookie(c, s.config.IDCookie, "", -1)
	s.setCookie(c, s.config.CreditsCookie, "", -1)
}

func (s *GuestCreditService) setCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		MaxAge:   maxAge,
		Secure:   s.config.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// parseCreditsValue reads "credits|issuedUnix"; a bare integer is accepted
// for cookies written before the issued timestamp was added.
func parseCreditsValue(raw string) (int, time.Time) {
	parts := strings.SplitN(raw, "|", 2)

	credits, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}
	}

	if len(parts) == 2 {
		if unix, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			return credits, time.Unix(unix, 0)
		}
	}

	return credits, time.Time{}
}
