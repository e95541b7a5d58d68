package middleware

import (
	"bytes"

	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/server"
)

// unmatchedRoute labels requests that reached the not-found handler, so
// arbitrary targets never become label values.
const unmatchedRoute = "unmatched"

// Metrics records request count, latency and in-flight gauge for every
// request passing through it. A panicking handler is counted as a 500.
func Metrics(m *metrics.Metrics) server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			done := m.RequestStarted()
			defer func() {
				route := r.Route
				if route == "" {
					route = unmatchedRoute
				}
				done(r.Method, route, int(server.StatusOf(sink)))
			}()
			next.ServeRequest(sink, r)
		})
	}
}

// MetricsHandler exposes m in the Prometheus text format.
func MetricsHandler(m *metrics.Metrics) server.Handler {
	return server.HandlerFunc(func(sink server.ResponseSink, _ *request.Request) {
		var buf bytes.Buffer
		if err := m.WriteText(&buf); err != nil {
			sink.SendServerError(err.Error())
			return
		}
		sink.SendResponse(buf.Bytes(), metrics.ContentType)
	})
}
