package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairsettle/fairsettle/internal/auth"
	"github.com/fairsettle/fairsettle/internal/engine"
	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/metrics"
	"github.com/fairsettle/fairsettle/internal/middleware"
	"github.com/fairsettle/fairsettle/internal/priceguard"
	"github.com/fairsettle/fairsettle/internal/storage/sqlite"
)

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard := &priceguard.Static{Quote: priceguard.Quote{Price: 100, TWAP: 100, Confidence: 95, Secure: true}}
	eng := engine.New(store, events.NewBus(), metrics.New(prometheus.NewRegistry()), engine.Options{
		Guard:         guard,
		MinConfidence: 80,
	})

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticator(store)

	router := gin.New()
	api := router.Group("/api/v1")
	NewAuthService(authenticator, jwtManager).Register(api)

	authed := api.Group("")
	authed.Use(middleware.RequireAuth(jwtManager))
	NewSettlementService(eng).Register(authed)

	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := map[string]any{}
	if w.Body.Len() > 0 {
		json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

// registerUser creates an account and returns its token and user ID.
func registerUser(t *testing.T, router *gin.Engine, email string) (string, string) {
	t.Helper()
	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email":       email,
		"displayName": email,
		"password":    "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", w.Code, w.Body.String())
	}
	token, _ := resp["token"].(string)
	user, _ := resp["user"].(map[string]any)
	id, _ := user["id"].(string)
	if token == "" || id == "" {
		t.Fatalf("register response missing token or user id: %v", resp)
	}
	return token, id
}

func TestRegisterAndLogin(t *testing.T) {
	router := setupTestServer(t)

	registerUser(t, router, "alice@example.com")

	// Duplicate email conflicts.
	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email":       "alice@example.com",
		"displayName": "Alice Again",
		"password":    "password123",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", w.Code)
	}

	// Weak password rejected.
	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email":       "bob@example.com",
		"displayName": "Bob",
		"password":    "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for weak password, got %d", w.Code)
	}

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "password123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", w.Code, w.Body.String())
	}
	if resp["token"] == "" {
		t.Error("expected token in login response")
	}

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", w.Code)
	}
}

func TestSettlementRoutesRequireAuth(t *testing.T) {
	router := setupTestServer(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/queue/length", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/queue/length", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestSettlementLifecycleOverHTTP(t *testing.T) {
	router := setupTestServer(t)
	token, _ := registerUser(t, router, "alice@example.com")

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/settlements", token, gin.H{
		"transfers": []gin.H{
			{"from": "x", "to": "y", "amount": 100},
			{"from": "y", "to": "z", "amount": 50},
		},
		"timeout": 3600,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}
	id := int64(resp["id"].(float64))
	if resp["totalAmount"].(float64) != 150 {
		t.Errorf("expected totalAmount 150, got %v", resp["totalAmount"])
	}

	base := fmt.Sprintf("/api/v1/settlements/%d", id)

	w, _ = doJSON(t, router, http.MethodGet, base+"/can-initiate", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("can-initiate returned %d", w.Code)
	}

	w, resp = doJSON(t, router, http.MethodPost, base+"/deposit", token, gin.H{"amount": 150})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit returned %d: %s", w.Code, w.Body.String())
	}
	if resp["totalDeposited"].(float64) != 150 {
		t.Errorf("expected totalDeposited 150, got %v", resp["totalDeposited"])
	}

	w, resp = doJSON(t, router, http.MethodPost, base+"/initiate", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initiate returned %d: %s", w.Code, w.Body.String())
	}
	if resp["queuePosition"].(float64) != 0 {
		t.Errorf("expected queue position 0, got %v", resp["queuePosition"])
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/queue/head", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("queue head returned %d", w.Code)
	}
	head, _ := resp["head"].(map[string]any)
	if head == nil || int64(head["id"].(float64)) != id {
		t.Errorf("expected head %d, got %v", id, resp["head"])
	}

	w, resp = doJSON(t, router, http.MethodPost, base+"/execute", token, gin.H{"count": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("execute returned %d: %s", w.Code, w.Body.String())
	}
	if resp["executed"].(float64) != 2 {
		t.Errorf("expected 2 executed, got %v", resp["executed"])
	}

	w, resp = doJSON(t, router, http.MethodGet, base, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get returned %d", w.Code)
	}
	if resp["state"] != "FINALIZED" {
		t.Errorf("expected FINALIZED, got %v", resp["state"])
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/accounts/y/balance", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance returned %d", w.Code)
	}
	if resp["balance"].(float64) != 100 {
		t.Errorf("expected y balance 100, got %v", resp["balance"])
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/queue/head", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("queue head returned %d", w.Code)
	}
	if resp["head"] != nil {
		t.Errorf("expected empty queue after finalization, got %v", resp["head"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router := setupTestServer(t)
	token, _ := registerUser(t, router, "alice@example.com")
	otherToken, _ := registerUser(t, router, "mallory@example.com")

	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/settlements", token, gin.H{
		"transfers": []gin.H{{"from": "x", "to": "y", "amount": 100}},
		"timeout":   3600,
	})
	id := int64(resp["id"].(float64))
	base := fmt.Sprintf("/api/v1/settlements/%d", id)

	// Unknown settlement.
	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/settlements/999", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown settlement, got %d", w.Code)
	}

	// Overfund conflicts.
	w, _ = doJSON(t, router, http.MethodPost, base+"/deposit", token, gin.H{"amount": 101})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for overfund, got %d", w.Code)
	}

	// Initiating an underfunded settlement conflicts.
	w, _ = doJSON(t, router, http.MethodPost, base+"/initiate", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for underfunded initiate, got %d", w.Code)
	}

	doJSON(t, router, http.MethodPost, base+"/deposit", token, gin.H{"amount": 100})

	// Only the initiator may initiate.
	w, _ = doJSON(t, router, http.MethodPost, base+"/initiate", otherToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-initiator, got %d", w.Code)
	}

	// Refund before the timeout conflicts.
	w, _ = doJSON(t, router, http.MethodPost, base+"/refund", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for early refund, got %d", w.Code)
	}

	// Executing out of queue order conflicts.
	doJSON(t, router, http.MethodPost, base+"/initiate", token, nil)
	_, resp = doJSON(t, router, http.MethodPost, "/api/v1/settlements", token, gin.H{
		"transfers": []gin.H{{"from": "a", "to": "b", "amount": 10}},
		"timeout":   3600,
	})
	secondID := int64(resp["id"].(float64))
	secondBase := fmt.Sprintf("/api/v1/settlements/%d", secondID)
	doJSON(t, router, http.MethodPost, secondBase+"/deposit", token, gin.H{"amount": 10})
	doJSON(t, router, http.MethodPost, secondBase+"/initiate", token, nil)

	w, _ = doJSON(t, router, http.MethodPost, secondBase+"/execute", token, gin.H{"count": 1})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for out-of-order execute, got %d", w.Code)
	}

	// Terminal settlements reject mutation.
	doJSON(t, router, http.MethodPost, base+"/execute", token, gin.H{"count": 1})
	w, _ = doJSON(t, router, http.MethodPost, base+"/deposit", token, gin.H{"amount": 1})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for deposit into terminal settlement, got %d", w.Code)
	}
}

func TestResolveRequiresAdmin(t *testing.T) {
	router := setupTestServer(t)
	token, _ := registerUser(t, router, "alice@example.com")

	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/settlements", token, gin.H{
		"transfers": []gin.H{{"from": "x", "to": "y", "amount": 100}},
		"timeout":   3600,
	})
	id := int64(resp["id"].(float64))
	base := fmt.Sprintf("/api/v1/settlements/%d", id)

	doJSON(t, router, http.MethodPost, base+"/dispute", token, gin.H{"reason": "amount mismatch"})

	w, _ := doJSON(t, router, http.MethodPost, base+"/resolve", token, gin.H{"outcome": "resume"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin resolve, got %d", w.Code)
	}
}

func TestInvalidSettlementID(t *testing.T) {
	router := setupTestServer(t)
	token, _ := registerUser(t, router, "alice@example.com")

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/settlements/abc", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", w.Code)
	}
}
