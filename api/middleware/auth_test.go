package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/auth"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

func TestAuthRejectsMissingToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, enums.UserRoleMember)

	var captured struct {
		user string
		role string
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user != userID.String() {
		t.Fatalf("expected user %s got %s", userID, captured.user)
	}
	if captured.role != string(enums.UserRoleMember) {
		t.Fatalf("expected role %s got %s", enums.UserRoleMember, captured.role)
	}
}

func TestRequireRoleBlocksMembers(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	called := false
	chain := Auth(cfg, nil)(RequireRole(enums.UserRoleStaff, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})))

	member := httptest.NewRequest(http.MethodPost, "/", nil)
	member.Header.Set("Authorization", "Bearer "+mintTestToken(t, cfg, uuid.New(), enums.UserRoleMember))
	resp := httptest.NewRecorder()
	chain.ServeHTTP(resp, member)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
	if called {
		t.Fatalf("handler should not run for members")
	}

	staff := httptest.NewRequest(http.MethodPost, "/", nil)
	staff.Header.Set("Authorization", "Bearer "+mintTestToken(t, cfg, uuid.New(), enums.UserRoleStaff))
	resp = httptest.NewRecorder()
	chain.ServeHTTP(resp, staff)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	id := uuid.New()
	ctx := WithRole(WithUserID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), id.String()), string(enums.UserRoleStaff))

	got, staff, ok := CurrentUser(ctx)
	if !ok || got != id || !staff {
		t.Fatalf("unexpected current user %s staff=%v ok=%v", got, staff, ok)
	}

	if _, _, ok := CurrentUser(WithUserID(ctx, "not-a-uuid")); ok {
		t.Fatalf("expected malformed user id to be rejected")
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
