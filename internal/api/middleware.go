package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/metrics"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// UploadOverhead is the room for multipart framing and form fields on top
// of the file size limit.
const UploadOverhead = 1 << 20

type uploadLimitKey struct{}

// LimitUploadBody caps the body of POST /api/layers at maxUpload plus
// UploadOverhead. A declared Content-Length over the cap is rejected before
// anything is read; a body of unknown length stops being read at the cap.
func LimitUploadBody(next http.Handler, maxUpload int64) http.Handler {
	limit := maxUpload + UploadOverhead
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/layers" {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			writeError(w, http.StatusBadRequest, clientMessage(service.TooLarge(maxUpload)))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), uploadLimitKey{}, maxUpload)))
	})
}

// Observe returns a Huma middleware that logs every request and records
// its count and latency under the operation's path template.
func Observe(log zerolog.Logger, m *metrics.Metrics) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)
		latency := time.Since(start)

		route := ctx.URL().Path
		if op := ctx.Operation(); op != nil {
			route = op.Path
		}
		status := ctx.Status()
		if status == 0 {
			status = 200
		}
		m.ObserveRequest(ctx.Method(), route, status, latency)

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		u := ctx.URL()
		ev.Str("method", ctx.Method()).
			Str("path", u.Path).
			Str("query", u.RawQuery).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", ctx.RemoteAddr()).
			Msg("request")
	}
}
