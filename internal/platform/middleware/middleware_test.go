package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID(t *testing.T) {
	e := echo.New()

	t.Run("generates an id when none supplied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var got string
		h := RequestID()(func(c echo.Context) error {
			got = c.Get("request_id").(string)
			return nil
		})
		if err := h(c); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if got == "" {
			t.Error("no request id set")
		}
		if rec.Header().Get(requestIDHeader) != got {
			t.Error("response header does not echo the generated id")
		}
	})

	t.Run("honours a caller-supplied id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "upstream-42")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		h := RequestID()(func(c echo.Context) error { return nil })
		if err := h(c); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Header().Get(requestIDHeader) != "upstream-42" {
			t.Errorf("header = %q, want upstream-42", rec.Header().Get(requestIDHeader))
		}
	})
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})

	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v, want *echo.HTTPError", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", he.Code)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	called := false
	h := Logger(zerolog.Nop())(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("next handler not called")
	}
}
