package handlers

import (
	"bytes"
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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/middleware"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/pkg/models"
)

// dispatchRecorder stands in for the Kafka-backed bus.
type dispatchRecorder struct {
	published []uuid.UUID
	err       error
}

func (d *dispatchRecorder) PublishDispatch(generationID, uploadID uuid.UUID, styleID string) error {
	if d.err != nil {
		return d.err
	}
	d.published = append(d.published, generationID)
	return nil
}

// unreachableRedis returns a client whose every call fails fast, exercising
// the Postgres fallback path.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func newGenerationTestRouter(t *testing.T) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{}
	cfg.Guest.DefaultCredits = 3

	generations := services.NewGenerationService(mockDB, unreachableRedis(), logger)
	guestCredits := services.NewGuestCreditService(&cfg.Guest, logger)
	ledger := services.NewLedgerService(mockDB, logger)

	handler := NewGenerationHandler(cfg, logger, generations, guestCredits, ledger, nil)

	router := gin.New()
	router.GET("/generation/:id/status", handler.GetStatus)
	router.PATCH("/generation/:id", handler.UpdateMetadata)
	return router, mockDB
}

func decodeErrorCode(t *testing.T, body *bytes.Buffer) (code, message string) {
	t.Helper()

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body.Bytes(), &payload))
	return payload.Error.Code, payload.Error.Message
}

func TestGenerationHandler_GetStatus(t *testing.T) {
	t.Run("malformed id is not found", func(t *testing.T) {
		router, _ := newGenerationTestRouter(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/generation/not-a-uuid/status", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		_, message := decodeErrorCode(t, w.Body)
		assert.Equal(t, "Generation not found", message)
	})

	t.Run("well-formed unknown id is not found, never default pending", func(t *testing.T) {
		router, mockDB := newGenerationTestRouter(t)
		id := uuid.MustParse("00000000-0000-0000-0000-000000000000")

		mockDB.ExpectQuery("SELECT (.+) FROM generations").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/generation/"+id.String()+"/status", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		_, message := decodeErrorCode(t, w.Body)
		assert.Equal(t, "Generation not found", message)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("pending job reports its status", func(t *testing.T) {
		router, mockDB := newGenerationTestRouter(t)
		id := uuid.New()
		now := time.Now()

		rows := pgxmock.NewRows([]string{
			"id", "owner_kind", "owner_id", "status", "pet_name",
			"upload_id", "style_id", "output_urls", "error_summary",
			"created_at", "updated_at",
		}).AddRow(
			id, models.OwnerGuest, uuid.NewString(), services.GenerationStatusPending, (*string)(nil),
			uuid.New(), "watercolor", []string(nil), (*string)(nil),
			now, now,
		)

		mockDB.ExpectQuery("SELECT (.+) FROM generations").
			WithArgs(id).
			WillReturnRows(rows)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/generation/"+id.String()+"/status", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var payload struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		assert.Equal(t, id, payload.ID)
		assert.Equal(t, services.GenerationStatusPending, payload.Status)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestGenerationHandler_UpdateMetadata(t *testing.T) {
	t.Run("invalid JSON is a bad request", func(t *testing.T) {
		router, _ := newGenerationTestRouter(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/generation/"+uuid.NewString(),
			strings.NewReader("{not json"))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		code, _ := decodeErrorCode(t, w.Body)
		assert.Equal(t, "INVALID_JSON", code)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		router, mockDB := newGenerationTestRouter(t)
		id := uuid.New()
		name := "Biscuit"

		mockDB.ExpectExec("UPDATE generations").
			WithArgs(id, &name).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/generation/"+id.String(),
			strings.NewReader(`{"petName": "Biscuit"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		_, message := decodeErrorCode(t, w.Body)
		assert.Equal(t, "Generation not found", message)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("non-string petName clears the stored name", func(t *testing.T) {
		router, mockDB := newGenerationTestRouter(t)
		id := uuid.New()

		mockDB.ExpectExec("UPDATE generations").
			WithArgs(id, (*string)(nil)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/generation/"+id.String(),
			strings.NewReader(`{"petName": 123}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok": true}`, w.Body.String())
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("accepted edit acknowledges", func(t *testing.T) {
		router, mockDB := newGenerationTestRouter(t)
		id := uuid.New()
		name := "Biscuit"

		mockDB.ExpectExec("UPDATE generations").
			WithArgs(id, &name).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/generation/"+id.String(),
			strings.NewReader(`{"petName": "Biscuit"}`))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok": true}`, w.Body.String())
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func newGenerateTestRouter(t *testing.T, bus DispatchPublisher) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{}
	cfg.Auth.SessionCookie = "pawtrait_session"
	cfg.Guest.DefaultCredits = 3
	cfg.Guest.IDCookie = "pawtrait_guest_id"
	cfg.Guest.CreditsCookie = "pawtrait_guest_credits"
	cfg.Guest.CookieMaxAge = 720 * time.Hour

	generations := services.NewGenerationService(mockDB, unreachableRedis(), logger)
	guestCredits := services.NewGuestCreditService(&cfg.Guest, logger)
	ledger := services.NewLedgerService(mockDB, logger)
	auth := services.NewAuthService(cfg, logger, mockDB, unreachableRedis())

	handler := NewGenerationHandler(cfg, logger, generations, guestCredits, ledger, bus)

	router := gin.New()
	router.Use(middleware.Identity(&cfg.Auth, auth, guestCredits, logger))
	router.POST("/api/generate", handler.Create)
	return router, mockDB
}

// lastResponseCookie returns the final value written for a cookie name, so
// assertions see the state the browser would keep.
func lastResponseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	var found *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			found = cookie
		}
	}
	return found
}

func TestGenerationHandler_Create(t *testing.T) {
	body := `{"upload_id": "` + uuid.NewString() + `", "style_id": "watercolor"}`

	t.Run("first-time caller without cookies is admitted", func(t *testing.T) {
		bus := &dispatchRecorder{}
		router, mockDB := newGenerateTestRouter(t, bus)

		mockDB.ExpectQuery("SELECT EXISTS").
			WithArgs(models.OwnerGuest, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mockDB.ExpectExec("INSERT INTO credit_ledger").
			WithArgs(models.OwnerGuest, pgxmock.AnyArg(), 3, "seed", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockDB.ExpectExec("INSERT INTO credit_ledger").
			WithArgs(models.OwnerGuest, pgxmock.AnyArg(), models.LedgerReasonGeneration).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockDB.ExpectExec("INSERT INTO generations").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var payload struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		assert.Equal(t, services.GenerationStatusPending, payload.Status)
		assert.Equal(t, []uuid.UUID{payload.ID}, bus.published)

		idCookie := lastResponseCookie(t, w, "pawtrait_guest_id")
		require.NotNil(t, idCookie)
		assert.NotEmpty(t, idCookie.Value)

		creditsCookie := lastResponseCookie(t, w, "pawtrait_guest_credits")
		require.NotNil(t, creditsCookie)
		assert.True(t, strings.HasPrefix(creditsCookie.Value, "2|"),
			"credits cookie %q should reflect one consumed credit", creditsCookie.Value)

		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("unseen guest with exhausted cookie is denied", func(t *testing.T) {
		bus := &dispatchRecorder{}
		router, mockDB := newGenerateTestRouter(t, bus)
		guestID := uuid.NewString()

		mockDB.ExpectQuery("SELECT EXISTS").
			WithArgs(models.OwnerGuest, guestID).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_id", Value: guestID})
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_credits", Value: "0|1700000000"})
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		code, _ := decodeErrorCode(t, w.Body)
		assert.Equal(t, "INSUFFICIENT_CREDITS", code)
		assert.Empty(t, bus.published)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("ledger balance overrides an optimistic cookie", func(t *testing.T) {
		bus := &dispatchRecorder{}
		router, mockDB := newGenerateTestRouter(t, bus)
		guestID := uuid.NewString()

		mockDB.ExpectQuery("SELECT EXISTS").
			WithArgs(models.OwnerGuest, guestID).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mockDB.ExpectExec("INSERT INTO credit_ledger").
			WithArgs(models.OwnerGuest, guestID, models.LedgerReasonGeneration).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_id", Value: guestID})
		req.AddCookie(&http.Cookie{Name: "pawtrait_guest_credits", Value: "2|1700000000"})
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		code, _ := decodeErrorCode(t, w.Body)
		assert.Equal(t, "INSUFFICIENT_CREDITS", code)
		assert.Empty(t, bus.published)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}
