package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// bufferedWriter collects a handler's response so it can be discarded when the
// deadline passes first.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) flushTo(dst http.ResponseWriter) {
	if w.code == 0 {
		return
	}
	h := dst.Header()
	for k, v := range w.header {
		h[k] = v
	}
	dst.WriteHeader(w.code)
	_, _ = dst.Write(w.body.Bytes())
}

var timeoutBody, _ = json.Marshal(map[string]string{
	"message": "request processing exceeded the allowed time limit",
})

// RequestTimeout bounds each request with a context deadline. The handler
// writes into a buffer; when the deadline passes first the client gets a 504,
// the buffered output is dropped and the middleware still waits for the
// handler to return before releasing the context.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			orig := c.Response().Writer
			buf := &bufferedWriter{header: make(http.Header)}
			c.Response().Writer = buf

			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- fmt.Errorf("panic: %v", r)
					}
				}()
				done <- next(c)
			}()

			finish := func(err error) error {
				c.Response().Writer = orig
				buf.flushTo(orig)
				return err
			}

			select {
			case err := <-done:
				return finish(err)
			case <-ctx.Done():
			}

			select {
			case err := <-done:
				return finish(err)
			default:
			}
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return finish(<-done)
			}

			orig.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
			orig.WriteHeader(http.StatusGatewayTimeout)
			n, _ := orig.Write(timeoutBody)
			<-done

			resp := echo.NewResponse(orig, c.Echo())
			resp.Status = http.StatusGatewayTimeout
			resp.Size = int64(n)
			resp.Committed = true
			c.SetResponse(resp)
			return nil
		}
	}
}
