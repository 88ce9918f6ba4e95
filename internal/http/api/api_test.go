package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/gateway"
	"github.com/authhub/authhub/internal/nostr"
	"github.com/authhub/authhub/internal/ratelimit"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/token"
	"github.com/authhub/authhub/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	return newTestRouterWithLimiter(t, nil)
}

func newTestRouterWithLimiter(t *testing.T, limiter ratelimit.Limiter) (*gin.Engine, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("db handle: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	secretVault, errVault := vault.New([]byte(testMasterKey))
	if errVault != nil {
		t.Fatalf("vault: %v", errVault)
	}
	recorder := audit.NewRecorder(conn)
	resolver := rbac.NewResolver(conn, recorder)
	issuer := token.NewIssuer(conn, secretVault, recorder, "hub-secret")
	verifier := token.NewVerifier(issuer)
	gw := gateway.New(conn, resolver, issuer, nostr.NewChallengeStore(), recorder)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	RegisterRoutes(engine, Deps{
		DB:          conn,
		Gateway:     gw,
		Store:       rbac.NewStore(conn),
		Binding:     rbac.NewBinding(conn),
		Assignments: rbac.NewAssignments(conn),
		Verifier:    verifier,
		Vault:       secretVault,
		Recorder:    recorder,
		Limiter:     limiter,
	})
	return engine, conn
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

// registerUser registers an account and returns its hub token.
func registerUser(t *testing.T, engine *gin.Engine, email string) string {
	t.Helper()
	rec, out := doJSON(t, engine, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": email, "password": "password1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	tok, _ := out["token"].(string)
	if tok == "" {
		t.Fatalf("register %s: missing token", email)
	}
	return tok
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	engine, _ := newTestRouter(t)

	adminToken := registerUser(t, engine, "admin@example.com")
	userToken := registerUser(t, engine, "user@example.com")

	rec, _ := doJSON(t, engine, http.MethodGet, "/api/admin/rbac/models", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec, _ = doJSON(t, engine, http.MethodGet, "/api/admin/rbac/models", userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", rec.Code)
	}
	rec, _ = doJSON(t, engine, http.MethodGet, "/api/admin/rbac/models", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestServiceTokenLifecycleOverHTTP(t *testing.T) {
	engine, _ := newTestRouter(t)
	adminToken := registerUser(t, engine, "admin@example.com")

	// Register a service; the plaintext secret appears exactly once.
	rec, out := doJSON(t, engine, http.MethodPost, "/api/services", adminToken, map[string]any{
		"name": "svc1", "url": "https://svc1.example.com", "redirect_url": "https://svc1.example.com/callback",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create service: status %d body %s", rec.Code, rec.Body.String())
	}
	if secret, _ := out["secret"].(string); secret == "" {
		t.Fatalf("expected plaintext secret in create response")
	}
	serviceID := uint64(out["id"].(float64))

	rec, out = doJSON(t, engine, http.MethodGet, fmt.Sprintf("/api/services/%d", serviceID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get service: status %d", rec.Code)
	}
	if _, leaked := out["secret"]; leaked {
		t.Fatalf("plaintext secret must not appear after creation")
	}

	// Build a model with a role and a granted permission, bind it, assign it.
	_, out = doJSON(t, engine, http.MethodPost, "/api/admin/rbac/models", adminToken, map[string]any{"name": "CMS"})
	modelID := uint64(out["id"].(float64))
	_, out = doJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/admin/rbac/models/%d/roles", modelID), adminToken, map[string]any{"name": "Editor"})
	roleID := uint64(out["id"].(float64))
	_, out = doJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/admin/rbac/models/%d/permissions", modelID), adminToken, map[string]any{"name": "edit:page"})
	permID := uint64(out["id"].(float64))

	rec, _ = doJSON(t, engine, http.MethodPatch, fmt.Sprintf("/api/admin/rbac/roles/%d/permissions", roleID), adminToken, map[string]any{"grant": []uint64{permID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/services/%d/rbac-model", serviceID), adminToken, map[string]any{"model_id": modelID})
	if rec.Code != http.StatusOK {
		t.Fatalf("bind model: status %d body %s", rec.Code, rec.Body.String())
	}

	userToken := registerUser(t, engine, "alice@example.com")
	_, me := doJSON(t, engine, http.MethodGet, "/api/auth/me", userToken, nil)
	userID := me["user"].(map[string]any)["id"].(string)

	rec, _ = doJSON(t, engine, http.MethodPost, "/api/admin/user-service-roles", adminToken, map[string]any{
		"user_id": userID, "service_id": serviceID, "role_id": roleID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign role: status %d body %s", rec.Code, rec.Body.String())
	}

	// Login scoped to the service; claims carry the resolved role.
	rec, out = doJSON(t, engine, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "password1", "service_id": serviceID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("service login: status %d body %s", rec.Code, rec.Body.String())
	}
	serviceToken := out["token"].(string)
	claims := out["claims"].(map[string]any)
	if claims["rbacRole"] == nil {
		t.Fatalf("expected rbacRole in claims, got %v", claims)
	}

	// The service verifies the token against its own key.
	verifyPath := fmt.Sprintf("/api/services/%d/verify-token?token=%s", serviceID, serviceToken)
	rec, out = doJSON(t, engine, http.MethodGet, verifyPath, "", nil)
	if rec.Code != http.StatusOK || out["valid"] != true {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}

	// Rotation invalidates outstanding tokens.
	rec, out = doJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/services/%d/rotate-secret", serviceID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: status %d body %s", rec.Code, rec.Body.String())
	}
	if secret, _ := out["secret"].(string); secret == "" {
		t.Fatalf("expected new plaintext secret in rotate response")
	}

	rec, out = doJSON(t, engine, http.MethodGet, verifyPath, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify after rotation: status %d", rec.Code)
	}
	if out["valid"] != false || out["reason"] != "signature_invalid" {
		t.Fatalf("expected signature_invalid after rotation, got %s", rec.Body.String())
	}
}

func TestLoginRedirectFlow(t *testing.T) {
	engine, _ := newTestRouter(t)
	adminToken := registerUser(t, engine, "admin@example.com")

	_, out := doJSON(t, engine, http.MethodPost, "/api/services", adminToken, map[string]any{
		"name": "svc1", "redirect_url": "https://svc1.example.com/callback",
	})
	serviceID := uint64(out["id"].(float64))

	// A redirect target outside the registered prefix is rejected.
	rec, _ := doJSON(t, engine, http.MethodGet,
		fmt.Sprintf("/login?service_id=%d&redirect_uri=https://evil.example.com/cb", serviceID), "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign redirect_uri, got %d", rec.Code)
	}

	rec, _ = doJSON(t, engine, http.MethodGet,
		fmt.Sprintf("/login?service_id=%d&redirect_uri=https://svc1.example.com/callback", serviceID), adminToken, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d body %s", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if location == "" {
		t.Fatalf("expected Location header")
	}
	req := httptest.NewRequest(http.MethodGet, location, nil)
	if req.URL.Query().Get("token") == "" || req.URL.Query().Get("user_id") == "" {
		t.Fatalf("expected token and user_id in redirect target, got %s", location)
	}
}

func TestLoginRedirectPinsHost(t *testing.T) {
	engine, _ := newTestRouter(t)
	adminToken := registerUser(t, engine, "admin@example.com")

	// A registered redirect URL without a path still pins scheme and host;
	// targets that merely extend the string must not receive a token.
	_, out := doJSON(t, engine, http.MethodPost, "/api/services", adminToken, map[string]any{
		"name": "svc2", "redirect_url": "https://svc2.example.com",
	})
	serviceID := uint64(out["id"].(float64))

	for _, uri := range []string{
		"https://svc2.example.com.evil.com/cb",
		"https://svc2.example.com@evil.com/",
		"http://svc2.example.com/cb",
		"https://svc2.example.com:8443/cb",
	} {
		rec, _ := doJSON(t, engine, http.MethodGet,
			fmt.Sprintf("/login?service_id=%d&redirect_uri=%s", serviceID, url.QueryEscape(uri)), adminToken, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("redirect_uri %s: expected 400, got %d with Location %q", uri, rec.Code, rec.Header().Get("Location"))
		}
	}

	rec, _ := doJSON(t, engine, http.MethodGet,
		fmt.Sprintf("/login?service_id=%d&redirect_uri=%s", serviceID, url.QueryEscape("https://svc2.example.com/cb")), adminToken, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 for same-host target, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRotateSecretVanishedService(t *testing.T) {
	engine, conn := newTestRouter(t)
	adminToken := registerUser(t, engine, "admin@example.com")

	_, out := doJSON(t, engine, http.MethodPost, "/api/services", adminToken, map[string]any{"name": "svc1"})
	serviceID := uint64(out["id"].(float64))

	// Drop the row between the handler's read and its update.
	errCallback := conn.Callback().Update().Before("gorm:update").Register("drop_service", func(tx *gorm.DB) {
		tx.Session(&gorm.Session{NewDB: true}).Exec("DELETE FROM services WHERE id = ?", serviceID)
	})
	if errCallback != nil {
		t.Fatalf("register callback: %v", errCallback)
	}

	rec, out := doJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/services/%d/rotate-secret", serviceID), adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for vanished service, got %d body %s", rec.Code, rec.Body.String())
	}
	if _, leaked := out["secret"]; leaked {
		t.Fatalf("no secret may be returned when the rotation persisted nothing")
	}
}

func TestLoginEndpointsRateLimited(t *testing.T) {
	engine, _ := newTestRouterWithLimiter(t, ratelimit.NewMemoryLimiter())

	body := map[string]any{"email": "nobody@example.com", "password": "wrong-pass"}
	for i := 0; i < loginRateLimit; i++ {
		rec, _ := doJSON(t, engine, http.MethodPost, "/api/auth/login", "", body)
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled before the window limit", i+1)
		}
	}
	rec, out := doJSON(t, engine, http.MethodPost, "/api/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the window limit, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on throttled response")
	}
	if out["error"] != "rate limited" {
		t.Fatalf("unexpected throttle body %s", rec.Body.String())
	}

	// Unthrottled endpoints stay reachable for the same client.
	rec, _ = doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}
