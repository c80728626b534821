package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qtech-backend/internal/config"
	"qtech-backend/internal/counter"
	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/realtime"
	"qtech-backend/internal/settings"
	"qtech-backend/internal/storage/memory"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

type testEnv struct {
	app     *fiber.App
	store   *memory.Store
	tokens  *config.TokenIssuer
	svc     models.Service
	counter models.Counter
	student models.User
	other   models.User
	staff   models.User
	admin   models.User
}

func newTestEnv(t *testing.T, enableSkip bool) *testEnv {
	t.Helper()
	store := memory.New(memory.WithLocation(time.UTC))
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	env := &testEnv{store: store}
	env.svc = store.AddService(models.Service{Name: "Registrar", QueuePrefix: "REG", EstimatedServiceTime: 5, IsActive: true})
	env.counter = store.AddCounter(models.Counter{ServiceID: env.svc.ID, CounterNumber: "1", Name: "Window 1", IsActive: true})
	env.student = store.AddUser(models.User{Email: "student@campus.edu", PasswordHash: string(hash), Role: models.RoleStudent, IsActive: true})
	env.other = store.AddUser(models.User{Email: "other@campus.edu", PasswordHash: string(hash), Role: models.RoleStudent, IsActive: true})
	env.staff = store.AddUser(models.User{Email: "staff@campus.edu", PasswordHash: string(hash), Role: models.RoleCounterStaff, IsActive: true})
	env.admin = store.AddUser(models.User{Email: "admin@campus.edu", PasswordHash: string(hash), Role: models.RoleAdmin, IsActive: true})
	store.AddUser(models.User{Email: "disabled@campus.edu", PasswordHash: string(hash), Role: models.RoleStudent})
	store.Assign(env.staff.ID, env.counter.ID, true)

	settingsSvc := settings.NewService(store, settings.NewMemoryCache(), time.Minute)
	bus := realtime.NewLocalBus(16)
	t.Cleanup(func() { _ = bus.Close() })

	var engine *queue.Engine
	feed := realtime.NewDisplayFeed(realtime.BoardSourceFunc(func(ctx context.Context, serviceID int64) (queue.DisplayBoard, error) {
		return engine.Display(ctx, serviceID)
	}), settingsSvc, bus, time.UTC)
	engine = queue.NewEngine(store, settingsSvc, realtime.NewBroadcaster(bus, feed), queue.Options{Location: time.UTC})

	env.tokens = config.NewTokenIssuer(config.JWTConfig{Secret: "0123456789abcdef0123", TTL: time.Hour})
	h := New(Deps{
		Engine:   engine,
		Counters: counter.NewCoordinator(engine, store, store, counter.NewLocalGuard()),
		Store:    store,
		Settings: settingsSvc,
		Users:    store,
		Tokens:   env.tokens,
		Hub:      realtime.NewHub(bus, realtime.HubConfig{}),
		Display:  feed,
	})

	cfg := RouterConfig{AllowOrigins: []string{"*"}, EnableSkip: enableSkip}
	env.app = NewApp(cfg)
	Register(env.app, h, env.tokens, cfg)
	return env
}

func (e *testEnv) token(t *testing.T, u models.User) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(u)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, target string, as *models.User, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if as != nil {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+e.token(t, *as))
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name  string
		email string
		pass  string
		want  int
	}{
		{"valid", "student@campus.edu", "password123", http.StatusOK},
		{"wrong password", "student@campus.edu", "nope", http.StatusUnauthorized},
		{"unknown email", "ghost@campus.edu", "password123", http.StatusUnauthorized},
		{"disabled", "disabled@campus.edu", "password123", http.StatusForbidden},
		{"invalid email", "not-an-email", "password123", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/auth/login", nil, models.LoginRequest{Email: tt.email, Password: tt.pass})
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.want == http.StatusOK, body.Success)
		})
	}

	_, body := env.do(t, http.MethodPost, "/api/auth/login", nil, models.LoginRequest{Email: "student@campus.edu", Password: "password123"})
	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(body.Data, &login))
	claims, err := env.tokens.ValidateToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, env.student.ID, claims.UserID)
}

func TestQueueFlow(t *testing.T) {
	env := newTestEnv(t, false)
	counterURL := "/api/counters/" + itoa(env.counter.ID)

	status, body := env.do(t, http.MethodPost, counterURL+"/call-next", &env.staff, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.Equal(t, "null", string(body.Data))

	status, body = env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{"serviceId": env.svc.ID})
	require.Equal(t, http.StatusCreated, status)
	var ticket struct {
		QueueID              int64  `json:"queueId"`
		QueueNumber          string `json:"queueNumber"`
		Position             int    `json:"position"`
		EstimatedWaitMinutes int    `json:"estimatedWaitMinutes"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &ticket))
	assert.Equal(t, "REG-001", ticket.QueueNumber)
	assert.Equal(t, 1, ticket.Position)
	assert.Equal(t, 5, ticket.EstimatedWaitMinutes)
	queueURL := "/api/queue/" + itoa(ticket.QueueID)

	status, _ = env.do(t, http.MethodGet, queueURL, &env.other, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodGet, queueURL, &env.student, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, counterURL+"/call-next", &env.staff, nil)
	require.Equal(t, http.StatusOK, status)
	var called struct {
		QueueID int64 `json:"queueId"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &called))
	assert.Equal(t, ticket.QueueID, called.QueueID)

	// The counter already holds an entry.
	status, body = env.do(t, http.MethodPost, counterURL+"/call-next", &env.staff, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(queue.KindInvalidTransition), body.Error.Code)

	status, _ = env.do(t, http.MethodDelete, queueURL+"/cancel", &env.student, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, counterURL+"/start-serving/"+itoa(ticket.QueueID), &env.staff, nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodPost, counterURL+"/complete/"+itoa(ticket.QueueID), &env.staff, nil)
	assert.Equal(t, http.StatusOK, status)
	var done models.QueueEntry
	require.NoError(t, json.Unmarshal(body.Data, &done))
	assert.Equal(t, models.StatusCompleted, done.Status)

	status, body = env.do(t, http.MethodGet, "/api/queue/history", &env.student, nil)
	assert.Equal(t, http.StatusOK, status)
	var history []models.QueueEntry
	require.NoError(t, json.Unmarshal(body.Data, &history))
	assert.Len(t, history, 1)
}

func TestRequestQueue_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	status, _ := env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{"serviceId": 999})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(queue.KindNotFound), body.Error.Code)

	status, _ = env.do(t, http.MethodPost, "/api/queue/request", &env.staff, fiber.Map{"serviceId": env.svc.ID})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, "/api/queue/request", nil, fiber.Map{"serviceId": env.svc.ID})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCounterRoutes_RequireAssignment(t *testing.T) {
	env := newTestEnv(t, false)
	counterURL := "/api/counters/" + itoa(env.counter.ID)

	status, _ := env.do(t, http.MethodPost, counterURL+"/call-next", &env.student, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPost, counterURL+"/call-next", &env.admin, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(queue.KindForbidden), body.Error.Code)

	status, _ = env.do(t, http.MethodPut, counterURL+"/status", &env.staff, fiber.Map{"status": "busy"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPut, counterURL+"/status", &env.staff, fiber.Map{"status": "break"})
	assert.Equal(t, http.StatusOK, status)
}

func TestSkipRoute(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, false)
		status, _ := env.do(t, http.MethodPost, "/api/counters/"+itoa(env.counter.ID)+"/skip/1", &env.staff, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, true)
		_, body := env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{"serviceId": env.svc.ID})
		var ticket struct {
			QueueID int64 `json:"queueId"`
		}
		require.NoError(t, json.Unmarshal(body.Data, &ticket))

		status, body := env.do(t, http.MethodPost, "/api/counters/"+itoa(env.counter.ID)+"/skip/"+itoa(ticket.QueueID), &env.staff, nil)
		assert.Equal(t, http.StatusOK, status)
		var skipped models.QueueEntry
		require.NoError(t, json.Unmarshal(body.Data, &skipped))
		assert.Equal(t, models.StatusSkipped, skipped.Status)
	})
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodGet, "/api/services", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	var services []models.Service
	require.NoError(t, json.Unmarshal(body.Data, &services))
	assert.Len(t, services, 1)

	status, _ = env.do(t, http.MethodGet, "/api/display-board", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodGet, "/api/display-board?serviceId=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/ws/display", nil, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestAdminSettings(t *testing.T) {
	env := newTestEnv(t, false)

	status, _ := env.do(t, http.MethodGet, "/api/admin/settings", &env.staff, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPut, "/api/admin/settings", &env.admin, fiber.Map{"max_queue_per_user": 1})
	require.Equal(t, http.StatusOK, status)
	var saved models.SystemSettings
	require.NoError(t, json.Unmarshal(body.Data, &saved))
	assert.Equal(t, 1, saved.MaxQueuePerUser)
	assert.Equal(t, 5, saved.DisplayBoardRefreshInterval)

	status, body = env.do(t, http.MethodPut, "/api/admin/settings", &env.admin, fiber.Map{"max_queue_per_user": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body.Error.Code)

	env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{"serviceId": env.svc.ID})
	status, body = env.do(t, http.MethodPost, "/api/queue/request", &env.student, fiber.Map{"serviceId": env.svc.ID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(queue.KindUserLimitExceeded), body.Error.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
