package thttp

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/handlers"
	"github.com/ridge/ddp/tlog"
	"go.uber.org/zap"
)

// Wrap installs a number of middleware on HTTP handler. The first
// middleware listed will be the first one to see the request.
func Wrap(handler http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// StandardMiddleware is Log, Recover and CORS, in this order
func StandardMiddleware(next http.Handler) http.Handler {
	return Wrap(next, Log, Recover, CORS)
}

// Log is a middleware that logs before and after handling of each request
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx := tlog.With(r.Context(),
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
		)
		logger := tlog.Get(ctx)
		logger.Debug("HTTP request handling started")
		var status int
		next.ServeHTTP(CaptureStatus(w, &status), r.WithContext(ctx))
		logger.Debug("HTTP request handling ended", zap.Int("statusCode", status), zap.Duration("elapsed", time.Since(started)))
	})
}

// Recover is a middleware that turns a panic of the handler into a logged
// 500 response
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				tlog.Get(r.Context()).Error("HTTP handler panicked",
					zap.String("panic", fmt.Sprint(p)), zap.ByteString("stack", debug.Stack()))
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS is a middleware that allows cross-origin reads, so that dashboards
// served elsewhere can poll the endpoints
var CORS = handlers.CORS(
	handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodOptions}),
	handlers.AllowedHeaders([]string{"Accept", "Accept-Encoding", "Cache-Control", "User-Agent"}),
	handlers.ExposedHeaders([]string{"Content-Length"}),
	handlers.AllowedOrigins([]string{"*"}),
)

// CaptureStatus wraps a http.ResponseWriter to capture the response status code.
// The status code will be written into *status.
//
// The returned ResponseWriter works the same way as the original one, including
// the http.Hijacker functionality, if available.
func CaptureStatus(w http.ResponseWriter, status *int) http.ResponseWriter {
	cs := captureStatus{ResponseWriter: w, status: status}
	if h, ok := w.(http.Hijacker); ok {
		cs.Hijacker = h
	}
	return cs
}

type captureStatus struct {
	http.ResponseWriter
	http.Hijacker
	status *int
}

func (cs captureStatus) Write(b []byte) (int, error) {
	if *cs.status == 0 {
		*cs.status = http.StatusOK
	}
	return cs.ResponseWriter.Write(b)
}

func (cs captureStatus) WriteHeader(statusCode int) {
	*cs.status = statusCode
	cs.ResponseWriter.WriteHeader(statusCode)
}
