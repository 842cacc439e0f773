package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/$match", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected request context to carry a deadline")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/$match", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handlerDone := make(chan struct{})
	handler := func(c echo.Context) error {
		defer close(handlerDone)
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	err := RequestTimeout(50 * time.Millisecond)(handler)(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected a message in the timeout body")
	}

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Error("expected handler to observe cancellation")
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	}

	err := RequestTimeout(time.Second)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestRequestTimeout_IgnoredContextDoesNotLeakWrites(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/$match", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var finished atomic.Bool
	handler := func(c echo.Context) error {
		time.Sleep(50 * time.Millisecond)
		err := c.String(http.StatusOK, "late")
		finished.Store(true)
		return err
	}

	if err := RequestTimeout(10*time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finished.Load() {
		t.Error("expected middleware to wait for the handler before returning")
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Errorf("expected late handler output to be dropped, got %q", rec.Body.String())
	}
	if c.Response().Status != http.StatusGatewayTimeout || !c.Response().Committed {
		t.Errorf("expected response to report a committed 504, got status %d", c.Response().Status)
	}
}

func TestRequestTimeout_FlushesHandlerOutput(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		c.Response().Header().Set("X-Extra", "yes")
		return c.JSON(http.StatusCreated, map[string]string{"id": "1"})
	}

	if err := RequestTimeout(time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Extra") != "yes" || rec.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("expected handler and upstream headers, got %v", rec.Header())
	}
	if !strings.Contains(rec.Body.String(), `"id":"1"`) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestRequestTimeout_RecoversHandlerPanic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		panic("boom")
	})(c)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected panic to surface as an error, got %v", err)
	}
}
