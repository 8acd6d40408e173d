package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/database/testutil"
	"github.com/calebrow/notifyd/internal/middleware"
	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/internal/realtime"
	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/response"
)

type testEnv struct {
	db       *gorm.DB
	router   *gin.Engine
	dispatch *services.DispatchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	broker := realtime.NewBroker()

	dispatchSvc, err := services.NewDispatchService(db, broker)
	require.NoError(t, err)
	retentionSvc, err := services.NewRetentionService(db)
	require.NoError(t, err)
	subscriptionSvc, err := services.NewSubscriptionService(db)
	require.NoError(t, err)

	notificationHandler, err := NewNotificationHandler(db, broker)
	require.NoError(t, err)
	subscriptionHandler, err := NewSubscriptionHandler(db)
	require.NoError(t, err)
	dispatchHandler := NewDispatchHandler(dispatchSvc)
	maintenanceHandler := NewMaintenanceHandler(retentionSvc, subscriptionSvc, 90, 60, 90, 180)

	router := gin.New()
	api := router.Group("/api", middleware.Identity())
	{
		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		api.GET("/notifications/:id", notificationHandler.Get)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
		api.POST("/notifications/:id/unread", notificationHandler.MarkUnread)
		api.POST("/notifications/:id/archive", notificationHandler.Archive)
		api.POST("/notifications/:id/unarchive", notificationHandler.Unarchive)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		api.DELETE("/notifications/:id", notificationHandler.Delete)

		api.POST("/dispatch", dispatchHandler.Dispatch)
		api.POST("/dispatch/batch", dispatchHandler.DispatchBatch)

		api.POST("/subscriptions/webpush", subscriptionHandler.SubscribeWebPush)
		api.POST("/subscriptions/apns", subscriptionHandler.SubscribeAPNs)
		api.POST("/subscriptions/unsubscribe", subscriptionHandler.Unsubscribe)
		api.GET("/subscriptions", subscriptionHandler.List)

		api.POST("/maintenance/cleanup", maintenanceHandler.Cleanup)
		api.GET("/maintenance/stats", maintenanceHandler.Stats)
	}

	return &testEnv{db: db, router: router, dispatch: dispatchSvc}
}

func (env *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}

	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeData[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success, recorder.Body.String())

	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)

	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDispatchEndpointCreatesNotification(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
		"type":    "payment",
		"scope":   "user",
		"user_id": "u1",
		"title":   "Invoice ready",
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	dto := decodeData[services.NotificationDTO](t, recorder)
	require.Equal(t, "payment", dto.Type)
	require.True(t, dto.IsUnRead)

	var count int64
	require.NoError(t, env.db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestDispatchEndpointRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	// Scope/target mismatch passes binding but fails service validation.
	recorder := env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
		"type":  "info",
		"scope": "team",
		"title": "orphan",
	})
	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code, recorder.Body.String())

	// Unknown scope fails request validation.
	recorder = env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
		"type":  "info",
		"scope": "galaxy",
		"title": "nope",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code, recorder.Body.String())
}

func TestDispatchBatchEndpointPartialFailure(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/dispatch/batch", "svc-backend", map[string]any{
		"notifications": []map[string]any{
			{"type": "info", "scope": "user", "user_id": "u1", "title": "ok"},
			{"type": "info", "scope": "team", "title": "missing team"},
		},
	})
	require.Equal(t, http.StatusMultiStatus, recorder.Code, recorder.Body.String())

	result := decodeData[batchResult](t, recorder)
	require.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failed, 1)
	require.Equal(t, 1, result.Failed[0].Index)
}

func TestNotificationListAndReadFlow(t *testing.T) {
	env := newTestEnv(t)
	userID := "u1"

	for i := 0; i < 3; i++ {
		recorder := env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
			"type":    "info",
			"scope":   "user",
			"user_id": userID,
			"title":   "note",
		})
		require.Equal(t, http.StatusCreated, recorder.Code)
	}

	recorder := env.do(t, http.MethodGet, "/api/notifications", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	items := decodeData[[]services.NotificationDTO](t, recorder)
	require.Len(t, items, 3)

	recorder = env.do(t, http.MethodPost, "/api/notifications/"+items[0].ID+"/read", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	dto := decodeData[services.NotificationDTO](t, recorder)
	require.False(t, dto.IsUnRead)

	recorder = env.do(t, http.MethodGet, "/api/notifications/unread-count", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	count := decodeData[map[string]int64](t, recorder)
	require.EqualValues(t, 2, count["count"])

	recorder = env.do(t, http.MethodPost, "/api/notifications/read-all", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	updated := decodeData[map[string]int64](t, recorder)
	require.EqualValues(t, 2, updated["updated"])

	recorder = env.do(t, http.MethodDelete, "/api/notifications/"+items[1].ID, userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/notifications/"+items[1].ID, userID, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestNotificationTeamViewViaQuery(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
		"type":    "info",
		"scope":   "team",
		"team_id": "t1",
		"title":   "standup moved",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/notifications?team_id=t1", "member-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	items := decodeData[[]services.NotificationDTO](t, recorder)
	require.Len(t, items, 1)
	require.Equal(t, models.ScopeTeam, items[0].Scope)

	// The member's personal view stays empty.
	recorder = env.do(t, http.MethodGet, "/api/notifications", "member-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	items = decodeData[[]services.NotificationDTO](t, recorder)
	require.Empty(t, items)
}

func TestEndpointsRequireIdentity(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/notifications", "", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	userID := "u1"

	recorder := env.do(t, http.MethodPost, "/api/subscriptions/webpush", userID, map[string]any{
		"endpoint": "https://push.example.org/ep-1",
		"p256dh":   "key",
		"auth":     "secret",
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	recorder = env.do(t, http.MethodGet, "/api/subscriptions", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	subs := decodeData[[]models.PushSubscription](t, recorder)
	require.Len(t, subs, 1)

	recorder = env.do(t, http.MethodPost, "/api/subscriptions/unsubscribe", userID, map[string]any{
		"endpoint": "https://push.example.org/ep-1",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/subscriptions", userID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	subs = decodeData[[]models.PushSubscription](t, recorder)
	require.Empty(t, subs)
}

func TestSubscribeAPNsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/subscriptions/apns", "u1", map[string]any{
		"token":     "deadbeef",
		"bundle_id": "org.example.app",
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	sub := decodeData[models.PushSubscription](t, recorder)
	require.Equal(t, "apns://deadbeef", sub.Endpoint)
	require.Equal(t, models.DeviceIOS, sub.DeviceType)
}

func TestMaintenanceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/dispatch", "svc-backend", map[string]any{
		"type":    "info",
		"scope":   "user",
		"user_id": "u1",
		"title":   "note",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/maintenance/stats", "ops", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	stats := decodeData[services.RetentionStats](t, recorder)
	require.EqualValues(t, 1, stats.Total)

	recorder = env.do(t, http.MethodPost, "/api/maintenance/cleanup", "ops", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}
