package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("test-secret", "slotdesk", time.Hour)

	token, exp, err := iss.Sign("admin", "admin")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected future expiry, got %s", exp)
	}
	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "admin" || claims.Role != "admin" {
		t.Fatalf("claims mismatch: got %+v", claims)
	}

	other := NewIssuer("wrong-secret", "slotdesk", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestIssuer_RejectsExpired(t *testing.T) {
	iss := NewIssuer("test-secret", "slotdesk", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := iss.Sign("admin", "admin")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	iss.now = time.Now
	if _, err := iss.Verify(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestRequireRole(t *testing.T) {
	iss := NewIssuer("test-secret", "slotdesk", time.Hour)
	h := iss.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClaimsFromContext(r.Context()); !ok || c.Subject == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}

	member, _, _ := iss.Sign("bob", "member")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+member)
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	admin, _, _ := iss.Sign("alice", "admin")
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
