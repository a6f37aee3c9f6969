package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks map[string]Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	if err := HealthHandler(nil, checks)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, body := runHealth(t, map[string]Check{
		"openclinica": func(context.Context) error { return nil },
	})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if _, ok := body["pool"]; ok {
		t.Error("expected no pool stats without a pool")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	code, body := runHealth(t, map[string]Check{
		"ok":     func(context.Context) error { return nil },
		"remote": func(context.Context) error { return errors.New("connection refused") },
	})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	checks := body["checks"].(map[string]interface{})
	if checks["remote"] != "connection refused" || checks["ok"] != "ok" {
		t.Errorf("unexpected checks: %v", checks)
	}
}

func TestHealthHandler_NoChecks(t *testing.T) {
	code, _ := runHealth(t, nil)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	// each check waits for the other to start
	a, b := make(chan struct{}), make(chan struct{})
	rendezvous := func(mine, theirs chan struct{}) Check {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	code, body := runHealth(t, map[string]Check{
		"a": rendezvous(a, b),
		"b": rendezvous(b, a),
	})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d: %v", code, body)
	}
}
