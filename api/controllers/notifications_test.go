package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/api/middleware"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

type testNotificationsService struct {
	markReadFn    func(ctx context.Context, userID, notificationID uuid.UUID) error
	markAllReadFn func(ctx context.Context, userID uuid.UUID) (int64, error)
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	updatePrefsFn func(ctx context.Context, userID uuid.UUID, input notifications.PreferencesInput) (models.NotificationPreference, error)
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, userID, notificationID)
	}
	return nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

func (s *testNotificationsService) Notify(context.Context, ...notifications.Notice) {}

func (s *testNotificationsService) Preferences(_ context.Context, userID uuid.UUID) (models.NotificationPreference, error) {
	return notifications.DefaultPreferences(userID), nil
}

func (s *testNotificationsService) UpdatePreferences(ctx context.Context, userID uuid.UUID, input notifications.PreferencesInput) (models.NotificationPreference, error) {
	if s.updatePrefsFn != nil {
		return s.updatePrefsFn(ctx, userID, input)
	}
	return notifications.DefaultPreferences(userID), nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	userID := uuid.New()
	notificationID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markReadFn: func(ctx context.Context, sid, nid uuid.UUID) error {
			called = true
			if sid != userID {
				t.Fatalf("unexpected user %s", sid)
			}
			if nid != notificationID {
				t.Fatalf("unexpected notification %s", nid)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("notificationId", notificationID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	handler := MarkNotificationRead(svc, testLogger())
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
	var envelope struct {
		Data map[string]bool `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !envelope.Data["read"] {
		t.Fatal("response missing read flag")
	}
}

func TestMarkNotificationReadMissingUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+uuid.NewString()+"/read", nil)
	req = addRouteParam(req, "notificationId", uuid.NewString())
	resp := httptest.NewRecorder()
	handler := MarkNotificationRead(&testNotificationsService{}, testLogger())
	handler(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestMarkNotificationReadInvalidUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+uuid.NewString()+"/read", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "bad"))
	req = addRouteParam(req, "notificationId", uuid.NewString())
	resp := httptest.NewRecorder()
	handler := MarkNotificationRead(&testNotificationsService{}, testLogger())
	handler(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/invalid/read", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	req = addRouteParam(req, "notificationId", "invalid")
	resp := httptest.NewRecorder()
	handler := MarkNotificationRead(&testNotificationsService{}, testLogger())
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkAllNotificationsReadSuccess(t *testing.T) {
	userID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markAllReadFn: func(ctx context.Context, sid uuid.UUID) (int64, error) {
			called = true
			if sid != userID {
				t.Fatalf("unexpected user %s", sid)
			}
			return 5, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	resp := httptest.NewRecorder()
	handler := MarkAllNotificationsRead(svc, testLogger())
	handler(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
	var envelope struct {
		Data map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["updated"] != 5 {
		t.Fatalf("expected updated=5 got %v", envelope.Data["updated"])
	}
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestListNotificationsPassesFilters(t *testing.T) {
	userID := uuid.New()
	var got notifications.ListParams
	svc := &testNotificationsService{
		listFn: func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			got = params
			return &notifications.ListResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5&unreadOnly=true&cursor=abc", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	resp := httptest.NewRecorder()
	ListNotifications(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got.RecipientID != userID || got.Limit != 5 || !got.UnreadOnly || got.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", got)
	}
}

func TestUpdateNotificationPreferencesAppliesPartialInput(t *testing.T) {
	userID := uuid.New()
	var got notifications.PreferencesInput
	svc := &testNotificationsService{
		updatePrefsFn: func(ctx context.Context, uid uuid.UUID, input notifications.PreferencesInput) (models.NotificationPreference, error) {
			got = input
			prefs := notifications.DefaultPreferences(uid)
			prefs.EmailPromotional = false
			return prefs, nil
		},
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/notifications/preferences", strings.NewReader(`{"email_promotional":false}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	resp := httptest.NewRecorder()
	UpdateNotificationPreferences(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.EmailPromotional == nil || *got.EmailPromotional {
		t.Fatalf("expected email_promotional=false to be forwarded")
	}
	if got.PushOrders != nil {
		t.Fatalf("expected omitted fields to stay nil")
	}
}
