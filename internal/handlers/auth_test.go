package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

func responseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func newAuthTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.SessionTTL = time.Hour
	cfg.Auth.SessionCookie = "pawtrait_session"
	cfg.Guest.IDCookie = "pawtrait_guest_id"
	cfg.Guest.CreditsCookie = "pawtrait_guest_credits"
	cfg.Guest.DefaultCredits = 3
	cfg.Guest.CookieMaxAge = 720 * time.Hour
	return cfg
}

// newAuthTestRouter wires the auth routes like the application does, with
// an optional account identity injected in place of the session middleware.
func newAuthTestRouter(t *testing.T, userID *uuid.UUID) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := newAuthTestConfig()
	auth := services.NewAuthService(cfg, logger, mockDB, unreachableRedis())
	guestCredits := services.NewGuestCreditService(&cfg.Guest, logger)
	ledger := services.NewLedgerService(mockDB, logger)
	linker := services.NewLinkerService(mockDB, ledger, logger)

	handler := NewAuthHandler(cfg, logger, auth, guestCredits, linker)

	router := gin.New()
	if userID != nil {
		router.Use(func(c *gin.Context) {
			c.Set("client_identity", models.ClientIdentity{
				Kind:   models.OwnerAccount,
				UserID: *userID,
			})
		})
	}
	router.POST("/auth/login", handler.Login)
	router.POST("/auth/link-guest", handler.LinkGuest)
	router.POST("/auth/clear-guest-cookies", handler.ClearGuestCookies)
	return router, mockDB
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("valid credentials issue a session", func(t *testing.T) {
		router, mockDB := newAuthTestRouter(t, nil)
		userID := uuid.New()

		hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
		require.NoError(t, err)

		mockDB.ExpectQuery("SELECT id, password_hash FROM users").
			WithArgs("pat@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"id", "password_hash"}).
				AddRow(userID, string(hash)))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email": "pat@example.com", "password": "correct horse"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response models.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.True(t, response.ExpiresAt.After(time.Now()))

		cookie := responseCookie(t, w, "pawtrait_session")
		require.NotNil(t, cookie)
		assert.Equal(t, response.Token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("unknown email is rejected", func(t *testing.T) {
		router, mockDB := newAuthTestRouter(t, nil)

		mockDB.ExpectQuery("SELECT id, password_hash FROM users").
			WithArgs("nobody@example.com").
			WillReturnError(pgx.ErrNoRows)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email": "nobody@example.com", "password": "correct horse"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		code, _ := decodeErrorCode(t, w.Body)
		assert.Equal(t, "INVALID_CREDENTIALS", code)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		router, mockDB := newAuthTestRouter(t, nil)

		hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
		require.NoError(t, err)

		mockDB.ExpectQuery("SELECT id, password_hash FROM users").
			WithArgs("pat@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"id", "password_hash"}).
				AddRow(uuid.New(), string(hash)))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email": "pat@example.com", "password": "wrong password"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields fail validation", func(t *testing.T) {
		router, _ := newAuthTestRouter(t, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email": "pat@example.com"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_LinkGuest(t *testing.T) {
	t.Run("requires an authenticated account", func(t *testing.T) {
		router, _ := newAuthTestRouter(t, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/link-guest", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("merges guest history and expires the guest cookies", func(t *testing.T) {
		userID := uuid.New()
		router, mockDB := newAuthTestRouter(t, &userID)
		guestID := uuid.NewString()

		mockDB.ExpectExec("UPDATE generations").
			WithArgs(models.OwnerAccount, userID.String(), models.OwnerGuest, guestID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockDB.ExpectExec("UPDATE credit_ledger").
			WithArgs(models.OwnerAccount, userID.String(), models.OwnerGuest, guestID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/link-guest", nil)
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_id", Value: guestID})
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_credits", Value: "2"})
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok": true}`, w.Body.String())

		cookie := responseCookie(t, w, "pawtrait_guest_id")
		require.NotNil(t, cookie)
		assert.Equal(t, -1, cookie.MaxAge, "merged guest identity must not be reusable")
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("reports success even when the merge fails", func(t *testing.T) {
		userID := uuid.New()
		router, mockDB := newAuthTestRouter(t, &userID)
		guestID := uuid.NewString()

		mockDB.ExpectExec("UPDATE generations").
			WithArgs(models.OwnerAccount, userID.String(), models.OwnerGuest, guestID).
			WillReturnError(assert.AnError)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/link-guest", nil)
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_id", Value: guestID})
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok": true}`, w.Body.String())

		// Cookies survive a failed merge so a later attempt can retry.
		assert.Nil(t, responseCookie(t, w, "pawtrait_guest_id"))
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("no guest cookie is a quiet success", func(t *testing.T) {
		userID := uuid.New()
		router, mockDB := newAuthTestRouter(t, &userID)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/link-guest", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestAuthHandler_ClearGuestCookies(t *testing.T) {
	router, _ := newAuthTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/clear-guest-cookies", nil)
	req.AddCookie(&http.Cookie{Name: "pawtrait_guest_id", Value: uuid.NewString()})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok": true}`, w.Body.String())

	for _, name := range []string{"pawtrait_guest_id", "pawtrait_guest_credits"} {
		cookie := responseCookie(t, w, name)
		require.NotNil(t, cookie)
		assert.Equal(t, -1, cookie.MaxAge)
	}
}
