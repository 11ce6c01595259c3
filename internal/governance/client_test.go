package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
)

func TestGetLimits(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/limits/external/ext-1" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}
			if r.Header.Get("x-api-key") != "secret" {
				t.Errorf("missing api key header")
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"limits": []map[string]any{
						{"limit_id": "l1", "name": "requests", "limit": 100, "used": 10, "remaining": 90},
					},
				},
			})
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second)
		limits, err := c.GetLimits(context.Background(), "ext-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(limits) != 1 || limits[0].LimitID != "l1" {
			t.Fatalf("unexpected limits: %+v", limits)
		}
	})

	t.Run("not found maps to NotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second)
		_, err := c.GetLimits(context.Background(), "missing")
		appErr, ok := apperr.As(err)
		if !ok || appErr.Kind != apperr.KindNotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})
}

func TestValidateJWT(t *testing.T) {
	t.Run("unauthorized maps to InvalidToken", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second)
		_, err := c.ValidateJWT(context.Background(), "bad.jwt.token")
		appErr, ok := apperr.As(err)
		if !ok || appErr.Kind != apperr.KindInvalidToken {
			t.Fatalf("expected InvalidToken, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer good.jwt.token" {
				t.Errorf("missing bearer header, got %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "u1", "email": "a@b.com", "email_verified": true, "created_at": "2024-01-01"},
			})
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second)
		profile, err := c.ValidateJWT(context.Background(), "good.jwt.token")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.ID != "u1" {
			t.Fatalf("unexpected profile: %+v", profile)
		}
	})
}

func TestBatchIncrement(t *testing.T) {
	t.Run("empty short-circuits without a request", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second)
		result, err := c.BatchIncrement(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called {
			t.Error("expected no HTTP call for an empty batch")
		}
		if result.Processed != 0 || result.Failed != 0 {
			t.Fatalf("unexpected result: %+v", result)
		}
	})

	t.Run("over limit rejected locally", func(t *testing.T) {
		c := New("http://unused", "secret", time.Second)
		items := make([]BatchIncrementItem, 1001)
		_, err := c.BatchIncrement(context.Background(), items)
		appErr, ok := apperr.As(err)
		if !ok || appErr.Kind != apperr.KindBadRequest {
			t.Fatalf("expected BadRequest, got %v", err)
		}
	})
}

func TestBatchIncrementResult_FailedIDs(t *testing.T) {
	result := BatchIncrementResult{
		Processed: 1,
		Failed:    2,
		Results: []BatchIncrementItemResult{
			{ExternalID: "a", Success: true},
			{ExternalID: "b", Success: false},
			{ExternalID: "c", Success: false},
		},
	}
	ids := result.FailedIDs()
	if len(ids) != 2 || !ids["b"] || !ids["c"] || ids["a"] {
		t.Fatalf("unexpected failed id set: %+v", ids)
	}

	if len(BatchIncrementResult{Processed: 3}.FailedIDs()) != 0 {
		t.Fatal("expected no failed ids when governance reports only counts")
	}
}
