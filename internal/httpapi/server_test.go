package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"google_account/internal/config"
	"google_account/internal/engine"
	"google_account/internal/logbus"
	"google_account/internal/store/sqlite"
)

func newServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	bus := logbus.New(50)
	cfg := config.Config{Server: config.ServerConfig{Cors: config.CorsConfig{AllowOrigins: []string{"http://localhost:5173"}}}}
	return New(Options{
		Cfg:    cfg,
		Bus:    bus,
		Store:  store,
		Engine: engine.New(engine.Options{Store: store, Bus: bus}),
	}), store
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAccountsUpsertMasksPassword(t *testing.T) {
	s, store := newServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/accounts", map[string]any{"email": "a@gmail.com", "password": "pw1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rec.Code, rec.Body.String())
	}
	// 回传掩码不覆盖原密码
	rec = do(t, h, http.MethodPost, "/api/v1/accounts", map[string]any{"email": "a@gmail.com", "password": maskedSecret, "backupEmail": "b@mail.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	acc, err := store.GetAccountByEmail(context.Background(), "a@gmail.com")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Password != "pw1" || acc.BackupEmail != "b@mail.com" {
		t.Fatalf("unexpected stored account %+v", acc)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/accounts", nil)
	var out struct {
		Data []struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 1 || out.Data[0].Password != maskedSecret {
		t.Fatalf("list response %s", rec.Body.String())
	}
}

func TestAccountsRequireEmail(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/accounts", map[string]any{"password": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBatchLoginRejectsEmptySelection(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/login/batch", map[string]any{"accountIds": []int64{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteMissingPhone(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/phones?id=42", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/phones", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow origin %q", got)
	}
}

func TestCaptchaStateWithoutSolver(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/captcha/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
