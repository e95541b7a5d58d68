package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shravanasati/restserver/internal/config"
	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/middleware"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/server"
)

var started = time.Now()

func registerRoutes(srv *server.Server, cfg *config.Config, m *metrics.Metrics) error {
	routes := map[string]server.Handler{
		"/": server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			sink.SendJSON(map[string]any{
				"name":    "restserver",
				"version": version,
				"routes":  srv.Routes(),
			})
		}),

		"/health": server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			sink.SendJSON(map[string]any{
				"status": "ok",
				"uptime": time.Since(started).Round(time.Second).String(),
			})
		}),

		"/users/$": server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			sink.SendJSON(map[string]string{"id": r.PathParams[0]})
		}),

		"/users/$/posts/$": server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			sink.SendJSON(map[string]string{"user": r.PathParams[0], "post": r.PathParams[1]})
		}),
	}

	corf, err := middleware.NewCORF(cfg.TrustedOrigins...)
	if err != nil {
		return fmt.Errorf("trusted origins: %w", err)
	}
	routes["/echo"] = corf.Handler(server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
		contentType := r.Headers.Get("content-type")
		if contentType == "" {
			contentType = "text/plain"
		}
		sink.SendResponse(r.Body, contentType)
	}))

	if len(cfg.Accounts) > 0 {
		routes["/admin/routes"] = middleware.BasicAuth(cfg.Accounts)(server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			sink.SendJSON(srv.Routes())
		}))
	}

	if m != nil {
		routes[cfg.Metrics.Path] = middleware.MetricsHandler(m)
	}

	for template, h := range routes {
		if err := srv.Handle(template, h); err != nil {
			return err
		}
	}

	if cfg.Static.Dir != "" {
		info, err := os.Stat(cfg.Static.Dir)
		if err != nil {
			return fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static dir: %s is not a directory", cfg.Static.Dir)
		}
		srv.NotFound(middleware.NewStaticHandler(cfg.Static.Prefix, middleware.NewDirFS(cfg.Static.Dir)))
	}

	return nil
}
