package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xbtify/xbtclaw/internal/store"
	"github.com/xbtify/xbtclaw/internal/store/sqlite"
	"github.com/xbtify/xbtclaw/internal/transport"
	"github.com/xbtify/xbtclaw/internal/transport/transporttest"
)

type failingOpener struct{}

func (failingOpener) NewDM(context.Context, string) (transport.Conversation, error) {
	return nil, errors.New("bridge down")
}

func newSendServer(t *testing.T, opener DMOpener, devMode bool) (*Server, store.UserStore) {
	t.Helper()
	stores, err := sqlite.NewStores(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("NewStores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	ctx := context.Background()
	if _, err := stores.Users.CreateUser(ctx, store.CreateUserParams{InboxID: "inbox-42", FarcasterFID: 42, Username: "chad"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := stores.Users.CreateUser(ctx, store.CreateUserParams{FarcasterFID: 7, Username: "noinbox"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	srv := NewServer(":0", nil, prometheus.NewRegistry())
	NewSendHandler(stores.Users, opener, "sekret", devMode).RegisterRoutes(srv.Mux())
	return srv, stores.Users
}

func post(t *testing.T, h http.Handler, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/send/message", strings.NewReader(body))
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSendMessage(t *testing.T) {
	client := transporttest.NewClient("agent", "0x00000000000000000000000000000000000000a1")
	srv, _ := newSendServer(t, client, false)
	h := srv.Handler()

	tests := []struct {
		name   string
		body   string
		key    string
		status int
		want   map[string]string
	}{
		{"missing key", `{"message":"hi","userFid":42}`, "", http.StatusUnauthorized, map[string]string{"error": "Unauthorized"}},
		{"wrong key", `{"message":"hi","userFid":42}`, "nope", http.StatusUnauthorized, map[string]string{"error": "Unauthorized"}},
		{"bad json", `{"message":`, "sekret", http.StatusBadRequest, map[string]string{"error": "Invalid request body"}},
		{"missing fid", `{"message":"hi"}`, "sekret", http.StatusBadRequest, map[string]string{"error": "Invalid request body"}},
		{"unknown user", `{"message":"hi","userFid":99}`, "sekret", http.StatusNotFound, map[string]string{"error": "User not found"}},
		{"no inbox", `{"message":"hi","userFid":7}`, "sekret", http.StatusOK, map[string]string{"message": "User does not have an inbox ID"}},
		{"delivered", `{"message":"your clone is ready","userFid":42}`, "sekret", http.StatusOK, map[string]string{"status": "ok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body, tt.key)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if diff := cmp.Diff(tt.want, decode(t, rec)); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}

	conv, err := client.Conversation(context.Background(), "dm-inbox-42")
	if err != nil {
		t.Fatalf("dm not opened: %v", err)
	}
	if diff := cmp.Diff([]string{"your clone is ready"}, conv.(*transporttest.Conversation).Texts()); diff != "" {
		t.Errorf("delivered texts (-want +got):\n%s", diff)
	}
}

func TestSendMessage_DevModeSkipsKey(t *testing.T) {
	srv, _ := newSendServer(t, transporttest.NewClient("agent", ""), true)
	rec := post(t, srv.Handler(), `{"message":"hi","userFid":42}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestSendMessage_DeliveryFailure(t *testing.T) {
	srv, _ := newSendServer(t, failingOpener{}, false)
	rec := post(t, srv.Handler(), `{"message":"hi","userFid":42}`, "sekret")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "xbt_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	h := NewServer(":0", nil, reg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "xbt_test_total 1") {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst not honoured")
	}
	if rl.Allow("a") {
		t.Fatal("third request within a second allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("independent client limited")
	}

	h := NewServer(":0", rl, prometheus.NewRegistry()).Handler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}
