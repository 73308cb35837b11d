package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantHealth string
		wantStore  string
	}{
		{"healthy", nil, http.StatusOK, "healthy", "ok"},
		{"store down", errors.New("disk gone"), http.StatusServiceUnavailable, "degraded", "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHealthHandler(fakePinger{err: tt.pingErr}, HealthInfo{Environment: "test", StoreBackend: "memory", Gateway: "cli"})
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var got map[string]any
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got["status"] != tt.wantHealth || got["version"] != Version || got["using_cli"] != true {
				t.Fatalf("unexpected body %v", got)
			}
			checks := got["checks"].(map[string]any)
			if checks["store"] != tt.wantStore {
				t.Fatalf("store check = %v", checks["store"])
			}
		})
	}
}
