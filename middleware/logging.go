package middleware

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/server"
)

// Logging logs one structured record per request, including requests whose
// handler panicked.
func Logging(logger *slog.Logger) server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			now := time.Now()
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"target", r.Target,
					"route", r.Route,
					"status", int(server.StatusOf(sink)),
					"duration", time.Since(now),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeRequest(sink, r)
		})
	}
}

// LoggingColored writes one colored line per request to w. Colors are
// dropped when w is not a terminal.
func LoggingColored(w io.Writer) server.Middleware {
	renderer := lipgloss.NewRenderer(w)
	logger := log.New(w, "", log.LstdFlags)
	methodStyle := renderer.NewStyle().Foreground(lipgloss.Color("15")).Bold(true).Background(lipgloss.Color("12")).Width(8).Align(lipgloss.Center)

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			now := time.Now()
			defer func() {
				// create styled method and status code
				statusCode := int(server.StatusOf(sink))
				statusStyle := getStatusCodeStyle(renderer, statusCode)
				styledStatus := statusStyle.Render(fmt.Sprintf("%d", statusCode))

				styledMethod := methodStyle.Render(r.Method)

				logger.Printf("%s %s %s in %s\n", styledMethod, r.Target, styledStatus, time.Since(now))
			}()
			next.ServeRequest(sink, r)
		})
	}
}

// getStatusCodeStyle returns a lipgloss style for HTTP status codes
func getStatusCodeStyle(renderer *lipgloss.Renderer, statusCode int) lipgloss.Style {
	style := renderer.NewStyle().Bold(true)
	switch {
	case statusCode >= 200 && statusCode < 300:
		// 2xx Success - Green
		return style.Foreground(lipgloss.Color("46"))
	case statusCode >= 300 && statusCode < 400:
		// 3xx Redirection - Yellow
		return style.Foreground(lipgloss.Color("226"))
	case statusCode >= 400 && statusCode < 500:
		// 4xx Client Error - Orange/Red
		return style.Foreground(lipgloss.Color("208"))
	case statusCode >= 500:
		// 5xx Server Error - Bright Red
		return style.Foreground(lipgloss.Color("196"))
	default:
		// Unknown status codes - White
		return style.Foreground(lipgloss.Color("15"))
	}
}
