package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/broadcast"
	appdb "laundry-reservation-backend/internal/db"
	"laundry-reservation-backend/internal/model"
	"laundry-reservation-backend/internal/registry"
	"laundry-reservation-backend/internal/reservation"
	"laundry-reservation-backend/internal/txlog"
)

type apiStack struct {
	router *gin.Engine
	db     *gorm.DB
}

// newAPIStack wires the full service the way main does, on an in-memory
// database.
func newAPIStack(t *testing.T) *apiStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, appdb.Migrate(db))

	logger := zap.NewNop()
	catalog := registry.NewCatalog(config.DefaultCatalog())
	require.NoError(t, registry.Sync(context.Background(), db, catalog, logger))

	engine := reservation.NewEngine(db, catalog, txlog.NewRecorder(logger), logger)
	hub := broadcast.NewHub(engine, logger)
	engine.SetIdleNotifier(reservation.IdleNotifiers{hub})

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	h := NewHandler(db, engine, hub, catalog, tokens, &webpush.Options{VAPIDPublicKey: "test-public-key"}, logger)

	router := NewRouter(h, &config.ServerConfig{
		RateLimitPerSec:       1000,
		RateLimitBurst:        1000,
		IdempotencyTTLSeconds: 60,
	})
	return &apiStack{router: router, db: db}
}

func (s *apiStack) createUser(t *testing.T, name, password string, balance float64, admin bool) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := &model.User{Name: name, CashBalance: balance, HashedPassword: hash, IsAdmin: admin}
	require.NoError(t, s.db.Create(user).Error)
	return user
}

func (s *apiStack) login(t *testing.T, name, password string) string {
	t.Helper()
	w := s.request(t, http.MethodPost, "/api/auth/token", "",
		fmt.Sprintf(`{"username":%q,"password":%q}`, name, password), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "bearer", resp.TokenType)
	return resp.AccessToken
}

func (s *apiStack) request(t *testing.T, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newAPIStack(t)
	s.createUser(t, "resident", "password", 10.00, false)

	w := s.request(t, http.MethodPost, "/api/auth/token", "",
		`{"username":"resident","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.request(t, http.MethodPost, "/api/auth/token", "",
		`{"username":"nobody","password":"password"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeReturnsCurrentUser(t *testing.T) {
	s := newAPIStack(t)
	user := s.createUser(t, "resident", "password", 10.00, false)
	token := s.login(t, "resident", "password")

	w := s.request(t, http.MethodGet, "/api/auth/me", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp userResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, user.ID, resp.ID)
	assert.Equal(t, "resident", resp.Name)
	assert.InDelta(t, 10.00, resp.CashBalance, 1e-9)
}

func TestDeviceEndpointsRequireAuth(t *testing.T) {
	s := newAPIStack(t)

	w := s.request(t, http.MethodGet, "/api/devices", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.request(t, http.MethodPost, "/api/devices/1/start", "",
		`{"user_id":1,"duration_minutes":60}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.request(t, http.MethodGet, "/api/devices", "not-a-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	s := newAPIStack(t)
	user := s.createUser(t, "resident", "password", 10.00, false)
	token := s.login(t, "resident", "password")

	// All five catalog devices are reported idle.
	w := s.request(t, http.MethodGet, "/api/devices", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var states []reservation.DeviceState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	require.Len(t, states, 5)
	for _, st := range states {
		assert.False(t, st.Running())
	}

	body := fmt.Sprintf(`{"user_id":%d,"duration_minutes":60}`, user.ID)
	w = s.request(t, http.MethodPost, "/api/devices/1/start", token, body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started reservation.DeviceState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.True(t, started.Running())
	assert.InDelta(t, 3600, float64(started.TimeLeft), 2)

	var balance model.User
	require.NoError(t, s.db.First(&balance, user.ID).Error)
	assert.InDelta(t, 8.80, balance.CashBalance, 1e-9)

	// Reading the device back shows the countdown.
	w = s.request(t, http.MethodGet, "/api/devices/1", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var read reservation.DeviceState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &read))
	assert.True(t, read.Running())

	// Stopping right away refunds nearly the whole charge.
	w = s.request(t, http.MethodPost, "/api/devices/1/stop", token, `{}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stopped struct {
		Message      string                   `json:"message"`
		Device       reservation.DeviceState  `json:"device"`
		RefundAmount float64                  `json:"refund_amount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.Equal(t, "Device stopped successfully", stopped.Message)
	assert.False(t, stopped.Device.Running())
	assert.InDelta(t, 1.20, stopped.RefundAmount, 0.03)

	// A second stop finds the device idle.
	w = s.request(t, http.MethodPost, "/api/devices/1/stop", token, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartReplaysWithIdempotencyKey(t *testing.T) {
	s := newAPIStack(t)
	user := s.createUser(t, "resident", "password", 10.00, false)
	token := s.login(t, "resident", "password")

	body := fmt.Sprintf(`{"user_id":%d,"duration_minutes":60}`, user.ID)
	headers := map[string]string{"X-Idempotency-Key": "start-once"}

	first := s.request(t, http.MethodPost, "/api/devices/1/start", token, body, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	// The retry returns the stored response; without the key the engine
	// would report the device busy.
	second := s.request(t, http.MethodPost, "/api/devices/1/start", token, body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	var balance model.User
	require.NoError(t, s.db.First(&balance, user.ID).Error)
	assert.InDelta(t, 8.80, balance.CashBalance, 1e-9)

	third := s.request(t, http.MethodPost, "/api/devices/1/start", token, body, nil)
	assert.Equal(t, http.StatusBadRequest, third.Code)
}

func TestStopByNonOccupantIsForbidden(t *testing.T) {
	s := newAPIStack(t)
	occupant := s.createUser(t, "occupant", "password", 10.00, false)
	s.createUser(t, "other", "password", 10.00, false)
	s.createUser(t, "warden", "password", 0, true)

	occupantToken := s.login(t, "occupant", "password")
	otherToken := s.login(t, "other", "password")
	adminToken := s.login(t, "warden", "password")

	body := fmt.Sprintf(`{"user_id":%d,"duration_minutes":60}`, occupant.ID)
	w := s.request(t, http.MethodPost, "/api/devices/2/start", occupantToken, body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.request(t, http.MethodPost, "/api/devices/2/stop", otherToken, `{}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.request(t, http.MethodPost, "/api/devices/2/stop", adminToken, `{}`, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestDeviceValidationOverHTTP(t *testing.T) {
	s := newAPIStack(t)
	user := s.createUser(t, "resident", "password", 10.00, false)
	token := s.login(t, "resident", "password")

	body := fmt.Sprintf(`{"user_id":%d,"duration_minutes":60}`, user.ID)
	w := s.request(t, http.MethodPost, "/api/devices/99/start", token, body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(t, http.MethodGet, "/api/devices/99", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(t, http.MethodGet, "/api/devices/abc", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A user id the system does not know.
	w = s.request(t, http.MethodPost, "/api/devices/1/start", token,
		`{"user_id":9999,"duration_minutes":60}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserAdministration(t *testing.T) {
	s := newAPIStack(t)
	resident := s.createUser(t, "resident", "password", 10.00, false)
	s.createUser(t, "warden", "password", 0, true)

	residentToken := s.login(t, "resident", "password")
	adminToken := s.login(t, "warden", "password")

	// Listing and creating users is admin only.
	w := s.request(t, http.MethodGet, "/api/users", residentToken, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.request(t, http.MethodGet, "/api/users", adminToken, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, http.MethodPost, "/api/users", adminToken,
		`{"name":"newcomer","password":"secret"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.request(t, http.MethodPost, "/api/users", adminToken,
		`{"name":"newcomer","password":"secret"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A resident may rename themselves but not touch their balance.
	path := fmt.Sprintf("/api/users/%d", resident.ID)
	w = s.request(t, http.MethodPatch, path, residentToken, `{"name":"renamed"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, http.MethodPatch, path, residentToken, `{"cash_balance":100.0}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admins top up balances, but never below zero.
	w = s.request(t, http.MethodPatch, path, adminToken, `{"cash_balance":25.0}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, http.MethodPatch, path, adminToken, `{"cash_balance":-1.0}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A resident cannot inspect other users.
	w = s.request(t, http.MethodGet, "/api/users/9999", residentToken, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVAPIDPublicKeyEndpoint(t *testing.T) {
	s := newAPIStack(t)

	w := s.request(t, http.MethodGet, "/api/vapid_public_key", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
}

func TestTimeFeedOverWebsocket(t *testing.T) {
	s := newAPIStack(t)
	user := s.createUser(t, "resident", "password", 10.00, false)
	token := s.login(t, "resident", "password")

	body := fmt.Sprintf(`{"user_id":%d,"duration_minutes":60}`, user.ID)
	w := s.request(t, http.MethodPost, "/api/devices/1/start", token, body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/timeleft/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var update broadcast.TimeUpdate
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, int64(1), update.DeviceID)
	assert.Equal(t, "running", update.Status)
	assert.InDelta(t, 3600, float64(update.TimeLeft), 3)
}

func TestFeedRejectsUnknownDevice(t *testing.T) {
	s := newAPIStack(t)

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status/99"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
