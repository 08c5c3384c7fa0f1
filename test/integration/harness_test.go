package integration

import (
	"net/http"
	"testing"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t, WithRedisIdempotency())

	resp := h.GET("/ui/health", "")
	h.AssertStatus(t, resp, http.StatusOK)

	if h.Registry.Len() != 4 {
		t.Errorf("definitions loaded = %d, want 4", h.Registry.Len())
	}
}

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		var body map[string]string
		h.AssertJSON(t, h.GET("/ui/health", ""), http.StatusOK, &body)
		if body["status"] != "ok" {
			t.Errorf("health status = %q, want ok", body["status"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		var body struct {
			Status string                    `json:"status"`
			Checks map[string]map[string]any `json:"checks"`
		}
		h.AssertJSON(t, h.GET("/ui/ready", ""), http.StatusOK, &body)
		if body.Status != "ready" {
			t.Errorf("ready status = %q", body.Status)
		}
		for _, name := range []string{"definitions", "domain_store", "idempotency_store"} {
			if _, ok := body.Checks[name]; !ok {
				t.Errorf("readiness check %q missing: %v", name, body.Checks)
			}
		}
	})
}

func TestHarness_ReadyFailsWhenRedisDown(t *testing.T) {
	h := NewTestHarness(t, WithRedisIdempotency())
	h.Redis.Close()

	resp := h.GET("/ui/ready", "")
	h.AssertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestHarness_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("no token returns 401", func(t *testing.T) {
		h.AssertStatus(t, h.GET("/designer/kinds", ""), http.StatusUnauthorized)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		token := h.GenerateExpiredToken(AdminClaims())
		h.AssertStatus(t, h.GET("/designer/kinds", token), http.StatusUnauthorized)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		h.AssertStatus(t, h.GET("/designer/kinds", "invalid-token"), http.StatusUnauthorized)
	})
}
